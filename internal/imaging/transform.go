// Package imaging holds the ImageTransformer operator, which prepares the
// capture image for model input: centre crop to the target aspect ratio,
// resize, optional greyscale and rotation by a multiple of 90 degrees.
package imaging

import (
	"fmt"
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/operator"
)

const (
	ImageTransformerType = "ImageTransformer"

	sourceName = "input"
	sinkName   = "output"
)

// Config holds the ImageTransformer parameters.
type Config struct {
	Width, Height int
	Channels      int  // 1 for greyscale, 3 for colour
	Crop          bool // centre crop to the target aspect before resizing
	Angle         int  // clockwise rotation: 0, 90, 180 or 270
}

func (c Config) validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("width and height must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.Channels != 1 && c.Channels != 3 {
		return fmt.Errorf("channels must be 1 or 3, got %d", c.Channels)
	}
	switch c.Angle {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("angle must be a multiple of 90 in [0, 270], got %d", c.Angle)
	}
	return nil
}

// ImageTransformer reads original_image and writes the transformed result
// to image.
type ImageTransformer struct {
	*operator.Base

	cfg    Config
	scaler xdraw.Scaler
}

// New creates an ImageTransformer.
func New(name string, cfg Config) (*ImageTransformer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	t := &ImageTransformer{cfg: cfg, scaler: xdraw.BiLinear}
	t.Base = operator.NewBase(name, ImageTransformerType, []string{sourceName}, []string{sinkName}, t)
	return t, nil
}

func (t *ImageTransformer) Init() error   { return nil }
func (t *ImageTransformer) OnStop() error { return nil }

func (t *ImageTransformer) Process() {
	f := t.GetFrame(sourceName)
	if f == nil {
		return
	}
	img, ok := f.GetImage(frame.KeyOriginalImage)
	if !ok {
		operator.Invariantf("%s: frame %d has no %s", t.Name(), f.ID(), frame.KeyOriginalImage)
	}
	f.SetImage(frame.KeyImage, Transform(img, t.cfg, t.scaler))
	t.PushFrame(sinkName, f)
}

// Transform applies cfg to img. img is not modified. Rotation happens last,
// so a 90 or 270 degree turn swaps the output dimensions.
func Transform(img image.Image, cfg Config, scaler xdraw.Scaler) image.Image {
	src := img.Bounds()
	if cfg.Crop {
		src = CenterCrop(src, cfg.Width, cfg.Height)
	}

	w, h := cfg.Width, cfg.Height
	var out draw.Image
	if cfg.Channels == 1 {
		out = image.NewGray(image.Rect(0, 0, w, h))
	} else {
		out = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	if src.Dx() == w && src.Dy() == h {
		draw.Draw(out, out.Bounds(), img, src.Min, draw.Src)
	} else {
		scaler.Scale(out, out.Bounds(), img, src, xdraw.Src, nil)
	}
	return Rotate(out, cfg.Angle)
}

// CenterCrop returns the largest centred sub-rectangle of r with aspect
// ratio w:h.
func CenterCrop(r image.Rectangle, w, h int) image.Rectangle {
	cw, ch := r.Dx(), r.Dy()
	if cw*h > ch*w {
		cw = ch * w / h
	} else {
		ch = cw * h / w
	}
	x0 := r.Min.X + (r.Dx()-cw)/2
	y0 := r.Min.Y + (r.Dy()-ch)/2
	return image.Rect(x0, y0, x0+cw, y0+ch)
}

// Rotate turns img clockwise by angle degrees, a multiple of 90.
func Rotate(img draw.Image, angle int) draw.Image {
	if angle%360 == 0 {
		return img
	}
	b := img.Bounds()
	var out draw.Image
	size := image.Rect(0, 0, b.Dy(), b.Dx())
	if angle == 180 {
		size = image.Rect(0, 0, b.Dx(), b.Dy())
	}
	if _, gray := img.(*image.Gray); gray {
		out = image.NewGray(size)
	} else {
		out = image.NewRGBA(size)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sx, sy := x-b.Min.X, y-b.Min.Y
			var dx, dy int
			switch angle {
			case 90:
				dx, dy = b.Dy()-1-sy, sx
			case 180:
				dx, dy = b.Dx()-1-sx, b.Dy()-1-sy
			case 270:
				dx, dy = sy, b.Dx()-1-sx
			}
			out.Set(dx, dy, img.At(x, y))
		}
	}
	return out
}

// Register adds the ImageTransformer type to reg.
func Register(reg *operator.Registry) {
	reg.Register(ImageTransformerType, func(name string, p operator.Params, _ operator.Deps) (operator.Operator, error) {
		var (
			cfg Config
			err error
		)
		if cfg.Width, err = p.RequireInt("width"); err != nil {
			return nil, err
		}
		if cfg.Height, err = p.RequireInt("height"); err != nil {
			return nil, err
		}
		if cfg.Channels, err = p.Int("channels", 3); err != nil {
			return nil, err
		}
		if cfg.Crop, err = p.Bool("crop", true); err != nil {
			return nil, err
		}
		if cfg.Angle, err = p.Int("angle", 0); err != nil {
			return nil, err
		}
		t, err := New(name, cfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	})
}
