package frame

import (
	"image"
	"time"
)

// Kind identifies the declared type of a frame field.
type Kind int

const (
	KindInvalid Kind = iota
	KindImage
	KindInt
	KindUint64
	KindFloat
	KindBool
	KindString
	KindTime
	KindDuration
	KindFloats
	KindFeatures
	KindRects
	KindStrings
	KindLandmarks
	KindBytes
)

var kindNames = [...]string{
	KindInvalid:   "invalid",
	KindImage:     "image",
	KindInt:       "int",
	KindUint64:    "uint64",
	KindFloat:     "float64",
	KindBool:      "bool",
	KindString:    "string",
	KindTime:      "time",
	KindDuration:  "duration",
	KindFloats:    "[]float64",
	KindFeatures:  "[][]float64",
	KindRects:     "[]Rect",
	KindStrings:   "[]string",
	KindLandmarks: "[]FaceLandmark",
	KindBytes:     "[]byte",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

type field struct {
	kind Kind
	v    any
}

func get[T any](f *Frame, key string, want Kind) (T, bool) {
	var zero T
	fv, ok := f.fields[key]
	if !ok {
		return zero, false
	}
	if fv.kind != want {
		Invariantf("field %q read as %s but holds %s", key, want, fv.kind)
	}
	return fv.v.(T), true
}

func (f *Frame) set(key string, kind Kind, v any) {
	f.fields[key] = field{kind: kind, v: v}
}

func (f *Frame) SetImage(key string, v image.Image) { f.set(key, KindImage, v) }
func (f *Frame) SetInt(key string, v int) { f.set(key, KindInt, v) }
func (f *Frame) SetUint64(key string, v uint64) { f.set(key, KindUint64, v) }
func (f *Frame) SetFloat(key string, v float64) { f.set(key, KindFloat, v) }
func (f *Frame) SetBool(key string, v bool) { f.set(key, KindBool, v) }
func (f *Frame) SetString(key string, v string) { f.set(key, KindString, v) }
func (f *Frame) SetTime(key string, v time.Time) { f.set(key, KindTime, v) }
func (f *Frame) SetDuration(key string, v time.Duration) { f.set(key, KindDuration, v) }
func (f *Frame) SetFloats(key string, v []float64) { f.set(key, KindFloats, v) }
func (f *Frame) SetFeatures(key string, v [][]float64) { f.set(key, KindFeatures, v) }
func (f *Frame) SetRects(key string, v []Rect) { f.set(key, KindRects, v) }
func (f *Frame) SetStrings(key string, v []string) { f.set(key, KindStrings, v) }
func (f *Frame) SetLandmarks(key string, v []FaceLandmark) { f.set(key, KindLandmarks, v) }
func (f *Frame) SetBytes(key string, v []byte) { f.set(key, KindBytes, v) }

// Typed getters report false when the key is absent and panic with an
// *InvariantError when the key holds a different kind.

func (f *Frame) GetImage(key string) (image.Image, bool) { return get[image.Image](f, key, KindImage) }
func (f *Frame) GetInt(key string) (int, bool) { return get[int](f, key, KindInt) }
func (f *Frame) GetUint64(key string) (uint64, bool) { return get[uint64](f, key, KindUint64) }
func (f *Frame) GetFloat(key string) (float64, bool) { return get[float64](f, key, KindFloat) }
func (f *Frame) GetBool(key string) (bool, bool) { return get[bool](f, key, KindBool) }
func (f *Frame) GetString(key string) (string, bool) { return get[string](f, key, KindString) }
func (f *Frame) GetTime(key string) (time.Time, bool) { return get[time.Time](f, key, KindTime) }
func (f *Frame) GetDuration(key string) (time.Duration, bool) { return get[time.Duration](f, key, KindDuration) }
func (f *Frame) GetFloats(key string) ([]float64, bool) { return get[[]float64](f, key, KindFloats) }
func (f *Frame) GetFeatures(key string) ([][]float64, bool) { return get[[][]float64](f, key, KindFeatures) }
func (f *Frame) GetRects(key string) ([]Rect, bool) { return get[[]Rect](f, key, KindRects) }
func (f *Frame) GetStrings(key string) ([]string, bool) { return get[[]string](f, key, KindStrings) }
func (f *Frame) GetLandmarks(key string) ([]FaceLandmark, bool) {
	return get[[]FaceLandmark](f, key, KindLandmarks)
}
func (f *Frame) GetBytes(key string) ([]byte, bool) { return get[[]byte](f, key, KindBytes) }
