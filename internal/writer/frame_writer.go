package writer

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/fsutil"
	"github.com/banshee-data/camflow/internal/monitoring"
	"github.com/banshee-data/camflow/internal/operator"
)

// Format selects the FrameWriter encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatProtobuf Format = "protobuf"
)

func (f Format) ext() string {
	if f == FormatProtobuf {
		return ".pb"
	}
	return ".json"
}

// FrameWriter writes the selected fields of each frame to its own file.
type FrameWriter struct {
	*operator.Base

	layout Layout
	format Format
	fields []string
	fs     fsutil.FileSystem

	written atomic.Uint64
	failed  atomic.Uint64
}

// NewFrameWriter creates a FrameWriter. Empty fields writes every field.
func NewFrameWriter(name string, layout Layout, format Format, fields []string, fsys fsutil.FileSystem) (*FrameWriter, error) {
	switch format {
	case FormatJSON, FormatProtobuf:
	default:
		return nil, fmt.Errorf("unknown frame format %q", format)
	}
	if layout.Dir == "" {
		return nil, fmt.Errorf("frame writer %q needs an output directory", name)
	}
	w := &FrameWriter{layout: layout, format: format, fields: fields, fs: fsys}
	w.Base = operator.NewBase(name, FrameWriterType, []string{sourceName}, []string{sinkName}, w)
	return w, nil
}

func (w *FrameWriter) Init() error   { return nil }
func (w *FrameWriter) OnStop() error { return nil }

func (w *FrameWriter) Process() {
	f := w.GetFrame(sourceName)
	if f == nil {
		return
	}
	if err := w.write(f); err != nil {
		w.failed.Add(1)
		monitoring.Opsf("%s: frame %d: %v", w.Name(), f.ID(), err)
	} else {
		w.written.Add(1)
	}
	w.PushFrame(sinkName, f)
}

func (w *FrameWriter) write(f *frame.Frame) error {
	data, err := Encode(f, w.format, w.fields...)
	if err != nil {
		return err
	}
	dir, base, err := w.layout.next(w.fs, f)
	if err != nil {
		return err
	}
	return w.fs.WriteFile(filepath.Join(dir, base+w.format.ext()), data, 0o644)
}

// Counts returns how many frames were written and how many failed.
func (w *FrameWriter) Counts() (written, failed uint64) {
	return w.written.Load(), w.failed.Load()
}

// Encode serializes the named fields of f. Protobuf output is a
// google.protobuf.Struct mirroring the JSON form.
func Encode(f *frame.Frame, format Format, fields ...string) ([]byte, error) {
	js, err := json.Marshal(f.JSONMap(fields...))
	if err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", f.ID(), err)
	}
	if format == FormatJSON {
		return js, nil
	}
	var s structpb.Struct
	if err := protojson.Unmarshal(js, &s); err != nil {
		return nil, fmt.Errorf("convert frame %d: %w", f.ID(), err)
	}
	return proto.Marshal(&s)
}
