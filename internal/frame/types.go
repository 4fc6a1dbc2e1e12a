package frame

import "image"

// Rect is an axis-aligned box in image pixel coordinates. PX/PY is the top
// left corner.
type Rect struct {
	PX     int `json:"px"`
	PY     int `json:"py"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RectFrom converts an image.Rectangle into a Rect.
func RectFrom(r image.Rectangle) Rect {
	return Rect{PX: r.Min.X, PY: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Bounds returns the rectangle as an image.Rectangle.
func (r Rect) Bounds() image.Rectangle {
	return image.Rect(r.PX, r.PY, r.PX+r.Width, r.PY+r.Height)
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// FaceLandmark holds the five facial key points produced by face detectors
// (eyes, nose, mouth corners).
type FaceLandmark struct {
	X [5]float64 `json:"x"`
	Y [5]float64 `json:"y"`
}
