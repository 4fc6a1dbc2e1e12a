// Package writer holds the sink operators that persist frames: FrameWriter
// for frame metadata and JPEGWriter for images. Both forward every frame
// unchanged after writing it, and a failed write is logged without
// stopping the pipeline.
package writer

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/fsutil"
	"github.com/banshee-data/camflow/internal/operator"
	"github.com/banshee-data/camflow/internal/security"
)

const (
	FrameWriterType = "FrameWriter"
	JPEGWriterType  = "JPEGWriter"

	sourceName = "input"
	sinkName   = "output"
)

// Layout decides where each file goes.
type Layout struct {
	Dir string
	// OrganizeByTime nests files under <date>/<hour> of the capture time.
	OrganizeByTime bool
	// FramesPerDir, when positive, starts a new numbered subdirectory
	// after that many frames.
	FramesPerDir uint64

	written uint64
	made    map[string]bool
}

func (l *Layout) params(p operator.Params) error {
	var err error
	if l.Dir, err = p.RequireString("dir"); err != nil {
		return err
	}
	if l.OrganizeByTime, err = p.Bool("organize_by_time", false); err != nil {
		return err
	}
	l.FramesPerDir, err = p.Uint64("frames_per_dir", 0)
	return err
}

// next returns the directory and base file name for f, creating the
// directory if needed.
func (l *Layout) next(fsys fsutil.FileSystem, f *frame.Frame) (dir, base string, err error) {
	at, ok := f.GetTime(frame.KeyCaptureTimeMicros)
	if !ok {
		at = time.Now()
	}
	at = at.UTC()
	camera, _ := f.GetString(frame.KeyCameraName)

	dir = l.Dir
	if l.OrganizeByTime {
		dir = filepath.Join(dir, at.Format("2006-01-02"), at.Format("15"))
	}
	if l.FramesPerDir > 0 {
		dir = filepath.Join(dir, strconv.FormatUint(l.written/l.FramesPerDir, 10))
	}
	l.written++

	if l.made == nil {
		l.made = make(map[string]bool)
	}
	if !l.made[dir] {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return "", "", fmt.Errorf("create %s: %w", dir, err)
		}
		l.made[dir] = true
	}
	base = fmt.Sprintf("%s_%d_%s", security.SanitizeFilename(camera), f.ID(), at.Format("20060102T150405.000000"))
	return dir, base, nil
}
