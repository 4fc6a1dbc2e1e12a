package frame

import (
	"encoding/json"
	"fmt"
	"image"
	"time"
)

// JSONMap converts the named fields (all fields when none are named) into
// JSON-friendly values. Images are summarized by their dimensions, times are
// written as RFC 3339 with microseconds, durations as strings.
func (f *Frame) JSONMap(fields ...string) map[string]any {
	keys := fields
	if len(keys) == 0 {
		keys = f.Keys()
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		fv, ok := f.fields[k]
		if !ok {
			continue
		}
		out[k] = jsonValue(fv)
	}
	return out
}

// MarshalJSON encodes every field of the frame.
func (f *Frame) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.JSONMap())
}

func jsonValue(fv field) any {
	switch v := fv.v.(type) {
	case image.Image:
		b := v.Bounds()
		return map[string]int{"width": b.Dx(), "height": b.Dy()}
	case time.Time:
		return v.UTC().Format("2006-01-02T15:04:05.000000Z07:00")
	case time.Duration:
		return v.String()
	case nil:
		return nil
	default:
		return v
	}
}

func describe(fv field) string {
	switch v := fv.v.(type) {
	case image.Image:
		b := v.Bounds()
		return fmt.Sprintf("image(%dx%d)", b.Dx(), b.Dy())
	case []byte:
		return fmt.Sprintf("bytes(len=%d)", len(v))
	case [][]float64:
		return fmt.Sprintf("features(n=%d)", len(v))
	default:
		return fmt.Sprintf("%v", v)
	}
}
