package matcher

import (
	"sort"
	"time"

	"github.com/banshee-data/camflow/internal/operator"
)

// ringSize is the number of recent features a track retains.
const ringSize = 30

// Track is one reconciled identity. Tracks are owned by a Gallery and are
// only touched by the reconciliation goroutine.
type Track struct {
	ID         string
	Camera     string
	Tag        string
	SourceIdx  int
	LastUpdate time.Time

	gen     uint64
	mode    Summary
	samples [][]float64
	next    int
	summary []float64
	aliases map[string]struct{}
	mapped  bool
}

func newTrack(id, camera, tag string, mode Summary, gen uint64) *Track {
	return &Track{
		ID:      id,
		Camera:  camera,
		Tag:     tag,
		gen:     gen,
		mode:    mode,
		samples: make([][]float64, 0, ringSize),
		aliases: make(map[string]struct{}),
	}
}

// Feature returns the summarized feature.
func (t *Track) Feature() []float64 { return t.summary }

// Samples returns how many features are retained.
func (t *Track) Samples() int { return len(t.samples) }

// HasAlias reports whether local id has been bound to this track.
func (t *Track) HasAlias(id string) bool {
	_, ok := t.aliases[id]
	return ok
}

// Aliases returns the bound local ids in sorted order.
func (t *Track) Aliases() []string {
	out := make([]string, 0, len(t.aliases))
	for a := range t.aliases {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (t *Track) addAlias(id string) { t.aliases[id] = struct{}{} }

// update records a new feature sample and recomputes the summary over the
// retained ring. LastUpdate never moves backwards, so a late item from a
// lagging camera does not shorten the eviction window.
func (t *Track) update(sourceIdx int, at time.Time, feature []float64) {
	t.SourceIdx = sourceIdx
	if at.After(t.LastUpdate) {
		t.LastUpdate = at
	}

	sample := append([]float64(nil), feature...)
	if len(t.samples) < ringSize {
		t.samples = append(t.samples, sample)
	} else {
		t.samples[t.next] = sample
		t.next = (t.next + 1) % ringSize
	}
	t.summarize()
}

func (t *Track) summarize() {
	dim := len(t.samples[0])
	sum := make([]float64, dim)
	switch t.mode {
	case SummaryMax:
		copy(sum, t.samples[0])
		for _, s := range t.samples[1:] {
			checkDim(t.ID, dim, s)
			for i, v := range s {
				if v > sum[i] {
					sum[i] = v
				}
			}
		}
	default:
		for _, s := range t.samples {
			checkDim(t.ID, dim, s)
			for i, v := range s {
				sum[i] += v
			}
		}
		n := float64(len(t.samples))
		for i := range sum {
			sum[i] /= n
		}
	}
	t.summary = sum
}

func checkDim(id string, want int, s []float64) {
	if len(s) != want {
		operator.Invariantf("track %s: feature length %d, want %d", id, len(s), want)
	}
}
