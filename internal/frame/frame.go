// Package frame defines the record that flows between pipeline operators: a
// dynamically keyed set of typed fields plus the flow-control owner slot and
// the end-of-stream marker.
package frame

import (
	"fmt"
	"image"
	"sort"
	"strings"
)

// Well-known field keys shared between operators.
const (
	KeyFrameID           = "frame_id"
	KeyCameraName        = "camera_name"
	KeyCaptureTimeMicros = "capture_time_micros"
	KeyOriginalImage     = "original_image"
	KeyImage             = "image"
	KeyTags              = "tags"
	KeyBoundingBoxes     = "bounding_boxes"
	KeyConfidences       = "confidences"
	KeyFeatures          = "features"
	KeyIDs               = "ids"
	KeyFaceLandmarks     = "face_landmarks"
)

// TokenIssuer is implemented by flow-control entrances. A frame holding a
// token keeps a reference to the issuer so that whoever consumes or drops
// the frame can hand the token back.
type TokenIssuer interface {
	ReturnToken(frameID uint64)
}

// Frame is a single unit of pipeline data. A Frame is owned by exactly one
// operator at a time and is not safe for concurrent use.
type Frame struct {
	fields map[string]field
	owner  TokenIssuer
	stop   bool
}

// New returns an empty frame.
func New() *Frame {
	return &Frame{fields: make(map[string]field)}
}

// NewStop returns an end-of-stream sentinel frame.
func NewStop() *Frame {
	f := New()
	f.stop = true
	return f
}

// IsStop reports whether the frame marks end of stream.
func (f *Frame) IsStop() bool { return f.stop }

// SetStop marks or unmarks the frame as an end-of-stream sentinel.
func (f *Frame) SetStop(stop bool) { f.stop = stop }

// ID returns the frame_id field, or 0 when unset.
func (f *Frame) ID() uint64 {
	id, _ := f.GetUint64(KeyFrameID)
	return id
}

// Owner returns the flow-control entrance holding a token for this frame.
func (f *Frame) Owner() TokenIssuer { return f.owner }

// SetOwner attaches a flow-control owner. Attaching a second owner while one
// is already present breaks the one-domain-per-frame rule and panics.
func (f *Frame) SetOwner(owner TokenIssuer) {
	if owner != nil && f.owner != nil {
		Invariantf("frame %d already belongs to a flow-control domain", f.ID())
	}
	f.owner = owner
}

// ReleaseFlowControl returns the frame's token to its owner, if any, and
// clears the owner. It reports whether a token was returned.
func (f *Frame) ReleaseFlowControl() bool {
	if f == nil || f.owner == nil {
		return false
	}
	owner := f.owner
	f.owner = nil
	owner.ReturnToken(f.ID())
	return true
}

// Has reports whether the key is present.
func (f *Frame) Has(key string) bool {
	_, ok := f.fields[key]
	return ok
}

// Kind returns the declared kind of key, or KindInvalid when absent.
func (f *Frame) Kind(key string) Kind {
	return f.fields[key].kind
}

// Delete removes key.
func (f *Frame) Delete(key string) { delete(f.fields, key) }

// Keys returns the field names in sorted order.
func (f *Frame) Keys() []string {
	keys := make([]string, 0, len(f.fields))
	for k := range f.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of fields.
func (f *Frame) Len() int { return len(f.fields) }

// Clone returns a shallow copy of the frame. When fields are named only
// those are kept. The clone never inherits the flow-control owner: at most
// one copy of a frame may carry a token. Byte slices are deep copied because
// writers may mutate encoded buffers in place.
func (f *Frame) Clone(fields ...string) *Frame {
	c := &Frame{fields: make(map[string]field, len(f.fields)), stop: f.stop}
	keep := func(string) bool { return true }
	if len(fields) > 0 {
		set := make(map[string]struct{}, len(fields))
		for _, k := range fields {
			set[k] = struct{}{}
		}
		keep = func(k string) bool { _, ok := set[k]; return ok }
	}
	for k, v := range f.fields {
		if !keep(k) {
			continue
		}
		if b, ok := v.v.([]byte); ok {
			v = field{kind: v.kind, v: append([]byte(nil), b...)}
		}
		c.fields[k] = v
	}
	return c
}

// SizeBytes estimates the in-memory payload of the named fields (all fields
// when none are named). Images count four bytes per pixel.
func (f *Frame) SizeBytes(fields ...string) (int, error) {
	for _, k := range fields {
		if !f.Has(k) {
			return 0, fmt.Errorf("unknown field: %s", k)
		}
	}
	keys := fields
	if len(keys) == 0 {
		keys = f.Keys()
	}
	total := 0
	for _, k := range keys {
		total += sizeOf(f.fields[k])
	}
	return total, nil
}

func sizeOf(fv field) int {
	switch v := fv.v.(type) {
	case string:
		return len(v)
	case []byte:
		return len(v)
	case []float64:
		return 8 * len(v)
	case [][]float64:
		n := 0
		for _, row := range v {
			n += 8 * len(row)
		}
		return n
	case []Rect:
		return 32 * len(v)
	case []string:
		n := 0
		for _, s := range v {
			n += len(s)
		}
		return n
	case []FaceLandmark:
		return 80 * len(v)
	case image.Image:
		b := v.Bounds()
		return 4 * b.Dx() * b.Dy()
	}
	return 8
}

// String renders the frame for logs, one field per line.
func (f *Frame) String() string {
	var b strings.Builder
	if f.stop {
		b.WriteString("<stop>\n")
	}
	for _, k := range f.Keys() {
		fmt.Fprintf(&b, "%s: %s\n", k, describe(f.fields[k]))
	}
	return b.String()
}
