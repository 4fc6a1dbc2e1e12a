package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/banshee-data/camflow/internal/httputil"
)

// Source yields the image for capture index idx, or io.EOF when it has no
// more.
type Source interface {
	Next(idx uint64) (image.Image, error)
}

// ParseSource interprets a source URI: "synthetic", "dir:<path>" or an
// http(s) snapshot URL.
func ParseSource(uri string, width, height int, loop bool) (Source, error) {
	switch {
	case uri == "" || uri == "synthetic":
		if width <= 0 || height <= 0 {
			return nil, fmt.Errorf("synthetic source needs a positive size, got %dx%d", width, height)
		}
		return &Synthetic{Width: width, Height: height}, nil
	case strings.HasPrefix(uri, "dir:"):
		return OpenDir(strings.TrimPrefix(uri, "dir:"), loop)
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return &Snapshot{URL: uri, Client: httputil.NewStandardClient(&http.Client{Timeout: snapshotTimeout})}, nil
	}
	return nil, fmt.Errorf("unsupported camera source %q", uri)
}

// Synthetic renders a square moving across a grey background, one step per
// frame. The content depends only on the index.
type Synthetic struct {
	Width, Height int
}

func (s *Synthetic) Next(idx uint64) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	bg := color.RGBA{R: 96, G: 96, B: 96, A: 255}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = bg.R, bg.G, bg.B, bg.A
	}

	side := max(1, min(s.Width, s.Height)/4)
	travel := max(1, s.Width-side)
	x0 := int(idx % uint64(travel))
	y0 := (s.Height - side) / 2
	fg := color.RGBA{R: 220, G: 40, B: 40, A: 255}
	for y := y0; y < y0+side; y++ {
		for x := x0; x < x0+side; x++ {
			img.SetRGBA(x, y, fg)
		}
	}
	return img, nil
}

// Dir replays the images in a directory in name order.
type Dir struct {
	Path  string
	Files []string
	Loop  bool
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".webp": true}

// OpenDir lists the decodable images under path.
func OpenDir(path string, loop bool) (*Dir, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("open image directory: %w", err)
	}
	d := &Dir{Path: path, Loop: loop}
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		d.Files = append(d.Files, e.Name())
	}
	if len(d.Files) == 0 {
		return nil, fmt.Errorf("no images in %s", path)
	}
	sort.Strings(d.Files)
	return d, nil
}

func (d *Dir) Next(idx uint64) (image.Image, error) {
	n := uint64(len(d.Files))
	if idx >= n && !d.Loop {
		return nil, io.EOF
	}
	name := filepath.Join(d.Path, d.Files[idx%n])
	fh, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	img, _, err := image.Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return img, nil
}

const (
	snapshotTimeout  = 5 * time.Second
	maxSnapshotBytes = 32 << 20
)

// Snapshot GETs one still image per capture from an HTTP endpoint, the
// way most IP cameras expose them.
type Snapshot struct {
	URL    string
	Client httputil.HTTPClient
}

func (s *Snapshot) Next(uint64) (image.Image, error) {
	body, _, err := httputil.Fetch(context.Background(), s.Client, s.URL, maxSnapshotBytes)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode snapshot from %s: %w", s.URL, err)
	}
	return img, nil
}

var errNoSource = errors.New("camera has no source")
