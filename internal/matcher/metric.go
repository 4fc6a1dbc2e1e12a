package matcher

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/camflow/internal/model"
	"github.com/banshee-data/camflow/internal/operator"
)

// Metric scores the distance between two feature vectors. Smaller is more
// similar.
type Metric interface {
	Init() error
	Match(a, b []float64) float64
}

// Summary selects how a track condenses its recent features into one.
type Summary int

const (
	// SummaryAvg is the element-wise mean of the retained samples.
	SummaryAvg Summary = iota
	// SummaryMax is the element-wise maximum of the retained samples.
	SummaryMax
)

func (s Summary) String() string {
	if s == SummaryMax {
		return "max"
	}
	return "avg"
}

type metricVariant struct {
	summary Summary
	build   func(desc model.Desc, hasModel bool) (Metric, error)
}

var metricVariants = map[string]metricVariant{
	"euclidean": {
		summary: SummaryAvg,
		build: func(model.Desc, bool) (Metric, error) {
			return Euclidean{}, nil
		},
	},
	"xqda": {
		summary: SummaryMax,
		build: func(desc model.Desc, hasModel bool) (Metric, error) {
			if !hasModel {
				return nil, fmt.Errorf("xqda matcher requires a model")
			}
			return &XQDA{ParamsPath: desc.ParamsPath, DescPath: desc.DescPath}, nil
		},
	},
}

// NewMetric resolves a matcher type string into its metric and the summary
// policy that goes with it.
func NewMetric(typ string, desc model.Desc, hasModel bool) (Metric, Summary, error) {
	v, ok := metricVariants[typ]
	if !ok {
		return nil, 0, fmt.Errorf("matcher type %q not supported", typ)
	}
	m, err := v.build(desc, hasModel)
	if err != nil {
		return nil, 0, err
	}
	return m, v.summary, nil
}

func checkLen(a, b []float64) {
	if len(a) != len(b) {
		operator.Invariantf("feature length mismatch: %d vs %d", len(a), len(b))
	}
}

func normalized(v []float64) []float64 {
	out := make([]float64, len(v))
	n := floats.Norm(v, 2)
	if n == 0 {
		copy(out, v)
		return out
	}
	floats.ScaleTo(out, 1/n, v)
	return out
}

// Euclidean is the distance between L2-normalized vectors.
type Euclidean struct{}

func (Euclidean) Init() error { return nil }

func (Euclidean) Match(a, b []float64) float64 {
	checkLen(a, b)
	return floats.Distance(normalized(a), normalized(b), 2)
}

// XQDA is the cross-view quadratic discriminant metric. Normalized features
// are projected through W (d×k) and compared in the subspace with kernel M
// (k×k).
type XQDA struct {
	ParamsPath string // W
	DescPath   string // M

	w *mat.Dense
	m *mat.Dense
}

// Init loads W and M from their CSV files.
func (x *XQDA) Init() error {
	w, err := readMatrixCSV(x.ParamsPath)
	if err != nil {
		return fmt.Errorf("xqda W: %w", err)
	}
	m, err := readMatrixCSV(x.DescPath)
	if err != nil {
		return fmt.Errorf("xqda M: %w", err)
	}
	_, k := w.Dims()
	mr, mc := m.Dims()
	if mr != mc || mr != k {
		return fmt.Errorf("xqda: M is %dx%d but W projects to %d dims", mr, mc, k)
	}
	x.w, x.m = w, m
	return nil
}

// Dims returns the expected feature length and the projected length.
func (x *XQDA) Dims() (d, k int) { return x.w.Dims() }

func (x *XQDA) project(v []float64) *mat.VecDense {
	_, k := x.w.Dims()
	out := mat.NewVecDense(k, nil)
	out.MulVec(x.w.T(), mat.NewVecDense(len(v), normalized(v)))
	return out
}

func (x *XQDA) Match(a, b []float64) float64 {
	checkLen(a, b)
	if d, _ := x.w.Dims(); len(a) != d {
		operator.Invariantf("xqda expects %d-dim features, got %d", d, len(a))
	}
	g := x.project(a)
	p := x.project(b)
	u := mat.Inner(g, x.m, g)
	v := mat.Inner(p, x.m, p)
	w := mat.Inner(g, x.m, p)
	return u + v - 2*w
}

func readMatrixCSV(path string) (*mat.Dense, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	r := csv.NewReader(fh)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var (
		data []float64
		rows int
		cols int
	)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if cols == 0 {
			cols = len(rec)
		} else if len(rec) != cols {
			return nil, fmt.Errorf("%s: row %d has %d columns, want %d", path, rows+1, len(rec), cols)
		}
		for _, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("%s: row %d: %w", path, rows+1, err)
			}
			data = append(data, v)
		}
		rows++
	}
	if rows == 0 {
		return nil, fmt.Errorf("%s: empty matrix", path)
	}
	return mat.NewDense(rows, cols, data), nil
}
