package writer

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"path/filepath"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/fsutil"
	"github.com/banshee-data/camflow/internal/monitoring"
	"github.com/banshee-data/camflow/internal/operator"
	"github.com/banshee-data/camflow/internal/security"
)

// KeyJPEGPath records where JPEGWriter wrote a frame's image.
const KeyJPEGPath = "jpeg_writer.path"

// JPEGWriter encodes one image field of each frame as a JPEG file.
type JPEGWriter struct {
	*operator.Base

	layout  Layout
	key     string
	quality int
	fs      fsutil.FileSystem
}

// NewJPEGWriter creates a JPEGWriter for the image stored under key.
func NewJPEGWriter(name string, layout Layout, key string, quality int, fsys fsutil.FileSystem) (*JPEGWriter, error) {
	if layout.Dir == "" {
		return nil, fmt.Errorf("jpeg writer %q needs an output directory", name)
	}
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("jpeg quality must be in [1, 100], got %d", quality)
	}
	w := &JPEGWriter{layout: layout, key: key, quality: quality, fs: fsys}
	w.Base = operator.NewBase(name, JPEGWriterType, []string{sourceName}, []string{sinkName}, w)
	return w, nil
}

func (w *JPEGWriter) Init() error   { return nil }
func (w *JPEGWriter) OnStop() error { return nil }

func (w *JPEGWriter) Process() {
	f := w.GetFrame(sourceName)
	if f == nil {
		return
	}
	path, err := w.write(f)
	if err != nil {
		monitoring.Opsf("%s: frame %d: %v", w.Name(), f.ID(), err)
	} else {
		f.SetString(KeyJPEGPath, path)
	}
	w.PushFrame(sinkName, f)
}

func (w *JPEGWriter) write(f *frame.Frame) (string, error) {
	img, ok := f.GetImage(w.key)
	if !ok {
		return "", fmt.Errorf("no image under %q", w.key)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: w.quality}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	dir, base, err := w.layout.next(w.fs, f)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, base+"_"+security.SanitizeFilename(w.key)+".jpg")
	if err := w.fs.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Register adds FrameWriter and JPEGWriter to reg, writing to disk.
func Register(reg *operator.Registry) {
	RegisterWith(reg, fsutil.OSFileSystem{})
}

// RegisterWith adds FrameWriter and JPEGWriter to reg, writing to fsys.
func RegisterWith(reg *operator.Registry, fsys fsutil.FileSystem) {
	reg.Register(FrameWriterType, func(name string, p operator.Params, _ operator.Deps) (operator.Operator, error) {
		var l Layout
		if err := l.params(p); err != nil {
			return nil, err
		}
		w, err := NewFrameWriter(name, l, Format(p.String("format", string(FormatJSON))), p.List("fields"), fsys)
		if err != nil {
			return nil, err
		}
		return w, nil
	})
	reg.Register(JPEGWriterType, func(name string, p operator.Params, _ operator.Deps) (operator.Operator, error) {
		var l Layout
		if err := l.params(p); err != nil {
			return nil, err
		}
		quality, err := p.Int("quality", jpeg.DefaultQuality)
		if err != nil {
			return nil, err
		}
		w, err := NewJPEGWriter(name, l, p.String("key", frame.KeyOriginalImage), quality, fsys)
		if err != nil {
			return nil, err
		}
		return w, nil
	})
}
