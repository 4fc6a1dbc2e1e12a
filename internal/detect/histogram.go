package detect

import (
	"fmt"
	"image"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/model"
	"github.com/banshee-data/camflow/internal/operator"
)

const (
	HistogramExtractorType = "histogram"

	defaultHistogramBins = 8
)

// HistogramExtractor describes each box by its per-channel colour
// histogram, concatenated R, G, B and normalized to sum to one.
type HistogramExtractor struct {
	Bins int
}

func newHistogramExtractor(_ model.Desc, p operator.Params) (Extractor, error) {
	bins, err := p.Int("bins", defaultHistogramBins)
	if err != nil {
		return nil, err
	}
	return &HistogramExtractor{Bins: bins}, nil
}

func (h *HistogramExtractor) Init() error {
	if h.Bins <= 0 || h.Bins > 256 {
		return fmt.Errorf("histogram bins must be in [1, 256], got %d", h.Bins)
	}
	return nil
}

func (h *HistogramExtractor) Extract(img image.Image, boxes []frame.Rect) ([][]float64, error) {
	out := make([][]float64, len(boxes))
	for i, b := range boxes {
		out[i] = h.histogram(img, b.Bounds().Intersect(img.Bounds()))
	}
	return out, nil
}

func (h *HistogramExtractor) histogram(img image.Image, r image.Rectangle) []float64 {
	hist := make([]float64, 3*h.Bins)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			hist[h.bin(cr)]++
			hist[h.Bins+h.bin(cg)]++
			hist[2*h.Bins+h.bin(cb)]++
		}
	}
	if sum := floats.Sum(hist); sum > 0 {
		floats.Scale(1/sum, hist)
	}
	return hist
}

// bin maps a 16-bit channel value onto a histogram bucket.
func (h *HistogramExtractor) bin(v uint32) int {
	return int(v>>8) * h.Bins / 256
}
