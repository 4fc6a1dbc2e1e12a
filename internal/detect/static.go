package detect

import (
	"encoding/json"
	"fmt"
	"image"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/model"
	"github.com/banshee-data/camflow/internal/operator"
)

const StaticDetectorType = "static"

type staticDetection struct {
	Tag        string  `json:"tag"`
	Box        [4]int  `json:"box"` // x, y, width, height
	Confidence float64 `json:"confidence"`
}

// StaticDetector reports the same detections for every image. It replays
// annotations and drives pipelines without an inference backend.
type StaticDetector struct {
	objects []ObjectInfo
}

func newStaticDetector(_ model.Desc, p operator.Params) (Detector, error) {
	raw := p.String("detections", "[]")
	var dets []staticDetection
	if err := json.Unmarshal([]byte(raw), &dets); err != nil {
		return nil, fmt.Errorf("static detector: parse detections: %w", err)
	}
	objs := make([]ObjectInfo, 0, len(dets))
	for _, d := range dets {
		objs = append(objs, ObjectInfo{
			Tag:        d.Tag,
			Box:        frame.Rect{PX: d.Box[0], PY: d.Box[1], Width: d.Box[2], Height: d.Box[3]},
			Confidence: d.Confidence,
		})
	}
	return NewStaticDetector(objs...), nil
}

// NewStaticDetector returns a detector that always reports objs.
func NewStaticDetector(objs ...ObjectInfo) *StaticDetector {
	return &StaticDetector{objects: objs}
}

func (s *StaticDetector) Init() error { return nil }

func (s *StaticDetector) Detect(image.Image) ([]ObjectInfo, error) {
	return append([]ObjectInfo(nil), s.objects...), nil
}
