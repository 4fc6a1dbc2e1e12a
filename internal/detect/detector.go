package detect

import (
	"fmt"
	"time"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/monitoring"
	"github.com/banshee-data/camflow/internal/operator"
	"github.com/banshee-data/camflow/internal/timeutil"
)

const (
	ObjectDetectorType   = "ObjectDetector"
	FeatureExtractorType = "FeatureExtractor"
)

// DetectorConfig holds the ObjectDetector parameters.
type DetectorConfig struct {
	Type                string
	BatchSize           int
	ConfidenceThreshold float64
	// Targets restricts output to these tags. Empty keeps every tag.
	Targets []string
	// IdleDuration is the minimum time between detections on one input.
	// Frames arriving sooner pass through untouched.
	IdleDuration time.Duration
}

// ObjectDetector annotates frames with tags, bounding boxes and confidences.
type ObjectDetector struct {
	*operator.Base

	cfg      DetectorConfig
	detector Detector
	targets  map[string]struct{}
	inputs   []string
	outputs  []string
	last     []time.Time

	clock timeutil.Clock
}

// NewObjectDetector wraps det in a batched operator.
func NewObjectDetector(name string, cfg DetectorConfig, det Detector) (*ObjectDetector, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch_size must be positive, got %d", cfg.BatchSize)
	}
	if det == nil {
		return nil, fmt.Errorf("object detector %q has no backend", name)
	}
	d := &ObjectDetector{
		cfg:      cfg,
		detector: det,
		targets:  make(map[string]struct{}, len(cfg.Targets)),
		last:     make([]time.Time, cfg.BatchSize),
		clock:    timeutil.RealClock{},
	}
	for _, t := range cfg.Targets {
		d.targets[t] = struct{}{}
	}
	d.inputs, d.outputs = operator.BatchPorts(cfg.BatchSize)
	d.Base = operator.NewBase(name, ObjectDetectorType, d.inputs, d.outputs, d)
	return d, nil
}

func (d *ObjectDetector) Init() error   { return d.detector.Init() }
func (d *ObjectDetector) OnStop() error { return nil }

func (d *ObjectDetector) Process() {
	for i, in := range d.inputs {
		f := d.GetFrame(in)
		if f == nil {
			continue
		}
		now := d.clock.Now()
		if d.cfg.IdleDuration > 0 && !d.last[i].IsZero() && now.Sub(d.last[i]) < d.cfg.IdleDuration {
			d.PushFrame(d.outputs[i], f)
			continue
		}
		d.detect(f)
		d.last[i] = now
		d.PushFrame(d.outputs[i], f)
	}
}

func (d *ObjectDetector) detect(f *frame.Frame) {
	img, ok := sourceImage(f)
	if !ok {
		operator.Invariantf("%s: frame %d has no image", d.Name(), f.ID())
	}
	objs, err := d.detector.Detect(img)
	if err != nil {
		monitoring.Opsf("%s: detect on frame %d: %v", d.Name(), f.ID(), err)
		objs = nil
	}

	bounds := img.Bounds()
	var (
		tags        []string
		boxes       []frame.Rect
		confidences []float64
		landmarks   []frame.FaceLandmark
		anyMarks    bool
	)
	for _, o := range objs {
		if o.Confidence <= d.cfg.ConfidenceThreshold {
			continue
		}
		if len(d.targets) > 0 {
			if _, ok := d.targets[o.Tag]; !ok {
				continue
			}
		}
		r := o.Box.Bounds().Intersect(bounds)
		if r.Empty() {
			continue
		}
		tags = append(tags, o.Tag)
		boxes = append(boxes, frame.RectFrom(r))
		confidences = append(confidences, o.Confidence)
		// index-aligned with boxes; detections without key points get
		// the zero landmark
		var lm frame.FaceLandmark
		if o.Landmark != nil {
			lm = *o.Landmark
			anyMarks = true
		}
		landmarks = append(landmarks, lm)
	}

	f.SetStrings(frame.KeyTags, tags)
	f.SetRects(frame.KeyBoundingBoxes, boxes)
	f.SetFloats(frame.KeyConfidences, confidences)
	if anyMarks {
		f.SetLandmarks(frame.KeyFaceLandmarks, landmarks)
	} else {
		f.Delete(frame.KeyFaceLandmarks)
	}
	if monitoring.TraceEnabled() {
		monitoring.Tracef("%s: frame %d: %d of %d detections kept", d.Name(), f.ID(), len(boxes), len(objs))
	}
}
