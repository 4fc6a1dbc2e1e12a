// Package camera provides the source operator that feeds frames into a
// pipeline.
package camera

import (
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/monitoring"
	"github.com/banshee-data/camflow/internal/operator"
	"github.com/banshee-data/camflow/internal/timeutil"
)

const (
	CameraType = "Camera"

	// KeySession identifies the capture session that produced a frame.
	KeySession = "camera_session"

	sinkName = "output"
)

// Config holds the Camera parameters.
type Config struct {
	Name          string
	Width, Height int     // expected frame size; mismatches are logged
	FPS           float64 // 0 captures as fast as downstream allows
	MaxFrames     uint64  // 0 is unbounded
}

// Camera captures images from a Source and emits one frame per image with
// a monotonically increasing frame id. When the source runs out, or after
// MaxFrames, it emits a stop frame.
type Camera struct {
	*operator.Base

	cfg      Config
	src      Source
	session  string
	interval time.Duration
	next     uint64
	last     time.Time

	clock timeutil.Clock
}

// New creates a camera reading from src.
func New(name string, cfg Config, src Source) (*Camera, error) {
	if src == nil {
		return nil, errNoSource
	}
	if cfg.FPS < 0 {
		return nil, fmt.Errorf("fps must not be negative, got %v", cfg.FPS)
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	c := &Camera{
		cfg:     cfg,
		src:     src,
		session: uuid.NewString(),
		clock:   timeutil.RealClock{},
	}
	if cfg.FPS > 0 {
		c.interval = time.Duration(float64(time.Second) / cfg.FPS)
	}
	c.Base = operator.NewBase(name, CameraType, nil, []string{sinkName}, c)
	return c, nil
}

func (c *Camera) Init() error {
	monitoring.Opsf("camera %s: session %s", c.cfg.Name, c.session)
	return nil
}

func (c *Camera) OnStop() error { return nil }

// Session returns the capture session id.
func (c *Camera) Session() string { return c.session }

func (c *Camera) Process() {
	if c.cfg.MaxFrames > 0 && c.next >= c.cfg.MaxFrames {
		c.finish("reached max_frames")
		return
	}
	img, err := c.src.Next(c.next)
	if errors.Is(err, io.EOF) {
		c.finish("source exhausted")
		return
	}
	if err != nil {
		monitoring.Opsf("camera %s: capture %d: %v", c.cfg.Name, c.next, err)
		c.finish("capture failed")
		return
	}
	if !c.pace() {
		return
	}
	c.checkSize(img)

	f := frame.New()
	f.SetUint64(frame.KeyFrameID, c.next)
	f.SetString(frame.KeyCameraName, c.cfg.Name)
	f.SetString(KeySession, c.session)
	f.SetTime(frame.KeyCaptureTimeMicros, c.clock.Now())
	f.SetImage(frame.KeyOriginalImage, img)
	c.next++
	c.PushFrame(sinkName, f)
}

// pace waits out the remainder of the frame interval. It reports false if
// the operator is stopping.
func (c *Camera) pace() bool {
	if c.interval > 0 && !c.last.IsZero() {
		if wait := c.interval - c.clock.Now().Sub(c.last); wait > 0 {
			t := c.clock.NewTimer(wait)
			defer t.Stop()
			select {
			case <-c.Context().Done():
				return false
			case <-t.C():
			}
		}
	}
	c.last = c.clock.Now()
	return true
}

func (c *Camera) checkSize(img image.Image) {
	if c.cfg.Width <= 0 || c.cfg.Height <= 0 {
		return
	}
	b := img.Bounds()
	if b.Dx() != c.cfg.Width || b.Dy() != c.cfg.Height {
		monitoring.Opsf("camera %s: frame %d is %dx%d, expected %dx%d",
			c.cfg.Name, c.next, b.Dx(), b.Dy(), c.cfg.Width, c.cfg.Height)
	}
}

func (c *Camera) finish(reason string) {
	monitoring.Diagf("camera %s: %s after %d frames", c.cfg.Name, reason, c.next)
	c.PushFrame(sinkName, frame.NewStop())
}

// Frames returns the number of frames captured so far. It is only safe to
// call once the operator has stopped.
func (c *Camera) Frames() uint64 { return c.next }

// Register adds the Camera type to reg.
func Register(reg *operator.Registry) {
	reg.Register(CameraType, func(name string, p operator.Params, _ operator.Deps) (operator.Operator, error) {
		cfg := Config{Name: p.String("name", name)}
		var err error
		if cfg.FPS, err = p.Float("fps", 0); err != nil {
			return nil, err
		}
		if cfg.Width, err = p.Int("width", 640); err != nil {
			return nil, err
		}
		if cfg.Height, err = p.Int("height", 480); err != nil {
			return nil, err
		}
		if cfg.MaxFrames, err = p.Uint64("max_frames", 0); err != nil {
			return nil, err
		}
		loop, err := p.Bool("loop", false)
		if err != nil {
			return nil, err
		}
		src, err := ParseSource(p.String("source", "synthetic"), cfg.Width, cfg.Height, loop)
		if err != nil {
			return nil, err
		}
		c, err := New(name, cfg, src)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}
