// Package detect runs object detectors and feature extractors over frame
// images. Backends plug in through the Detector and Extractor contracts and
// are chosen by type string from a Plugins table when the operator is built.
package detect

import (
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/model"
	"github.com/banshee-data/camflow/internal/operator"
)

// ObjectInfo is one detection.
type ObjectInfo struct {
	Tag        string
	Box        frame.Rect
	Confidence float64
	Landmark   *frame.FaceLandmark
}

// Detector finds objects in an image.
type Detector interface {
	Init() error
	Detect(img image.Image) ([]ObjectInfo, error)
}

// Extractor computes one feature vector per bounding box.
type Extractor interface {
	Init() error
	Extract(img image.Image, boxes []frame.Rect) ([][]float64, error)
}

// DetectorFactory builds a detector. desc is the zero value when the
// operator was configured without a model.
type DetectorFactory func(desc model.Desc, params operator.Params) (Detector, error)

// ExtractorFactory builds an extractor.
type ExtractorFactory func(desc model.Desc, params operator.Params) (Extractor, error)

// Plugins maps backend type strings to factories.
type Plugins struct {
	mu         sync.RWMutex
	detectors  map[string]DetectorFactory
	extractors map[string]ExtractorFactory
}

// NewPlugins creates an empty table.
func NewPlugins() *Plugins {
	return &Plugins{
		detectors:  make(map[string]DetectorFactory),
		extractors: make(map[string]ExtractorFactory),
	}
}

// DefaultPlugins returns a table holding the built-in backends.
func DefaultPlugins() *Plugins {
	p := NewPlugins()
	p.RegisterDetector(StaticDetectorType, newStaticDetector)
	p.RegisterExtractor(HistogramExtractorType, newHistogramExtractor)
	return p
}

func (p *Plugins) RegisterDetector(typ string, f DetectorFactory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detectors[typ] = f
}

func (p *Plugins) RegisterExtractor(typ string, f ExtractorFactory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extractors[typ] = f
}

// NewDetector builds the detector registered under typ.
func (p *Plugins) NewDetector(typ string, desc model.Desc, params operator.Params) (Detector, error) {
	p.mu.RLock()
	f, ok := p.detectors[typ]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("detector type %q not supported", typ)
	}
	return f(desc, params)
}

// NewExtractor builds the extractor registered under typ.
func (p *Plugins) NewExtractor(typ string, desc model.Desc, params operator.Params) (Extractor, error) {
	p.mu.RLock()
	f, ok := p.extractors[typ]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("extractor type %q not supported", typ)
	}
	return f(desc, params)
}

// Types returns the registered detector and extractor types, sorted.
func (p *Plugins) Types() (detectors, extractors []string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for k := range p.detectors {
		detectors = append(detectors, k)
	}
	for k := range p.extractors {
		extractors = append(extractors, k)
	}
	sort.Strings(detectors)
	sort.Strings(extractors)
	return detectors, extractors
}

// lookupModel resolves the optional "model" parameter.
func lookupModel(p operator.Params, models *model.Registry) (model.Desc, error) {
	name := p.String("model", "")
	if name == "" {
		return model.Desc{}, nil
	}
	desc, ok := models.Get(name)
	if !ok {
		return model.Desc{}, fmt.Errorf("model %q is not registered", name)
	}
	return desc, nil
}

// sourceImage returns the image detectors and extractors run on.
func sourceImage(f *frame.Frame) (image.Image, bool) {
	if img, ok := f.GetImage(frame.KeyOriginalImage); ok {
		return img, true
	}
	return f.GetImage(frame.KeyImage)
}

// Register adds ObjectDetector and FeatureExtractor to reg with the
// built-in backends.
func Register(reg *operator.Registry) {
	RegisterWith(reg, DefaultPlugins())
}

// RegisterWith adds ObjectDetector and FeatureExtractor to reg, resolving
// backends from plugins.
func RegisterWith(reg *operator.Registry, plugins *Plugins) {
	reg.Register(ObjectDetectorType, func(name string, p operator.Params, deps operator.Deps) (operator.Operator, error) {
		cfg := DetectorConfig{Targets: p.List("targets")}
		var err error
		if cfg.Type, err = p.RequireString("type"); err != nil {
			return nil, err
		}
		if cfg.BatchSize, err = p.Int("batch_size", 1); err != nil {
			return nil, err
		}
		if cfg.ConfidenceThreshold, err = p.Float("confidence_threshold", 0); err != nil {
			return nil, err
		}
		if cfg.IdleDuration, err = p.Duration("idle_duration", 0); err != nil {
			return nil, err
		}
		desc, err := lookupModel(p, deps.Models)
		if err != nil {
			return nil, err
		}
		det, err := plugins.NewDetector(cfg.Type, desc, p)
		if err != nil {
			return nil, err
		}
		d, err := NewObjectDetector(name, cfg, det)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
	reg.Register(FeatureExtractorType, func(name string, p operator.Params, deps operator.Deps) (operator.Operator, error) {
		typ, err := p.RequireString("type")
		if err != nil {
			return nil, err
		}
		batch, err := p.Int("batch_size", 1)
		if err != nil {
			return nil, err
		}
		desc, err := lookupModel(p, deps.Models)
		if err != nil {
			return nil, err
		}
		ext, err := plugins.NewExtractor(typ, desc, p)
		if err != nil {
			return nil, err
		}
		x, err := NewFeatureExtractor(name, batch, ext)
		if err != nil {
			return nil, err
		}
		return x, nil
	})
}
