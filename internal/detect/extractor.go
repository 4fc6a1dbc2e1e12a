package detect

import (
	"fmt"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/monitoring"
	"github.com/banshee-data/camflow/internal/operator"
)

// FeatureExtractor computes a feature per bounding box.
type FeatureExtractor struct {
	*operator.Base

	extractor Extractor
	inputs    []string
	outputs   []string
}

// NewFeatureExtractor wraps ext in a batched operator.
func NewFeatureExtractor(name string, batchSize int, ext Extractor) (*FeatureExtractor, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch_size must be positive, got %d", batchSize)
	}
	if ext == nil {
		return nil, fmt.Errorf("feature extractor %q has no backend", name)
	}
	x := &FeatureExtractor{extractor: ext}
	x.inputs, x.outputs = operator.BatchPorts(batchSize)
	x.Base = operator.NewBase(name, FeatureExtractorType, x.inputs, x.outputs, x)
	return x, nil
}

func (x *FeatureExtractor) Init() error   { return x.extractor.Init() }
func (x *FeatureExtractor) OnStop() error { return nil }

func (x *FeatureExtractor) Process() {
	for i, in := range x.inputs {
		f := x.GetFrame(in)
		if f == nil {
			continue
		}
		x.extract(f)
		x.PushFrame(x.outputs[i], f)
	}
}

func (x *FeatureExtractor) extract(f *frame.Frame) {
	boxes, _ := f.GetRects(frame.KeyBoundingBoxes)
	if len(boxes) == 0 {
		f.SetFeatures(frame.KeyFeatures, [][]float64{})
		return
	}
	img, ok := sourceImage(f)
	if !ok {
		operator.Invariantf("%s: frame %d has boxes but no image", x.Name(), f.ID())
	}
	features, err := x.extractor.Extract(img, boxes)
	if err != nil {
		// Downstream stages need features aligned with boxes, so the
		// detections go too.
		monitoring.Opsf("%s: extract on frame %d: %v", x.Name(), f.ID(), err)
		f.SetRects(frame.KeyBoundingBoxes, nil)
		f.SetStrings(frame.KeyTags, nil)
		f.SetFloats(frame.KeyConfidences, nil)
		f.Delete(frame.KeyFaceLandmarks)
		f.SetFeatures(frame.KeyFeatures, [][]float64{})
		return
	}
	if len(features) != len(boxes) {
		operator.Invariantf("%s: extractor returned %d features for %d boxes", x.Name(), len(features), len(boxes))
	}
	f.SetFeatures(frame.KeyFeatures, features)
}
