// Package matcher reconciles per-camera local ids into canonical track ids.
//
// The operator's Process call only consults the last published resolution
// and forwards the frame at once. Ids it cannot resolve are handed to a
// reconciliation goroutine through a single-slot mailbox; that goroutine
// owns the Gallery, merges identities by feature distance and publishes a
// fresh resolution when it finishes a round. Until then, unresolved ids go
// downstream unchanged.
package matcher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/model"
	"github.com/banshee-data/camflow/internal/monitoring"
	"github.com/banshee-data/camflow/internal/operator"
	"github.com/banshee-data/camflow/internal/timeutil"
	"github.com/banshee-data/camflow/internal/track"
)

const (
	ObjectMatcherType = "ObjectMatcher"

	// DefaultEvictionTTL is how long a track survives without an update.
	DefaultEvictionTTL = time.Hour
)

// Config holds the construction parameters of an ObjectMatcher.
type Config struct {
	Type              string
	BatchSize         int
	DistanceThreshold float64
	Model             model.Desc
	HasModel          bool
	EvictionTTL       time.Duration
	Sink              track.Sink
}

// Stats summarizes reconciliation progress.
type Stats struct {
	Rounds     uint64 `json:"rounds"`
	Tracks     int    `json:"tracks"`
	Aliases    int    `json:"aliases"`
	Superseded uint64 `json:"superseded"`
}

// ObjectMatcher assigns canonical ids across cameras.
type ObjectMatcher struct {
	*operator.Base

	cfg     Config
	summary Summary
	metric  Metric
	inputs  []string
	outputs []string

	clock timeutil.Clock

	gallery  *Gallery
	mail     *mailbox
	resolved atomic.Pointer[resolution]
	rounds   atomic.Uint64
	wg       sync.WaitGroup
}

// New creates an ObjectMatcher. The metric is built here but only
// initialized when the operator starts.
func New(name string, cfg Config) (*ObjectMatcher, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch_size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.DistanceThreshold <= 0 {
		return nil, fmt.Errorf("distance_threshold must be positive, got %v", cfg.DistanceThreshold)
	}
	if cfg.EvictionTTL <= 0 {
		cfg.EvictionTTL = DefaultEvictionTTL
	}
	metric, summary, err := NewMetric(cfg.Type, cfg.Model, cfg.HasModel)
	if err != nil {
		return nil, err
	}
	m := &ObjectMatcher{
		cfg:     cfg,
		summary: summary,
		metric:  metric,
		clock:   timeutil.RealClock{},
	}
	m.inputs, m.outputs = operator.BatchPorts(cfg.BatchSize)
	m.Base = operator.NewBase(name, ObjectMatcherType, m.inputs, m.outputs, m)
	m.resolved.Store(emptyResolution)
	return m, nil
}

// Init initializes the metric and starts the reconciliation goroutine.
func (m *ObjectMatcher) Init() error {
	if err := m.metric.Init(); err != nil {
		return fmt.Errorf("init %s metric: %w", m.cfg.Type, err)
	}
	m.gallery = NewGallery(m.cfg.BatchSize, m.metric, m.summary, m.cfg.DistanceThreshold, m.cfg.Sink)
	m.mail = newMailbox()
	m.wg.Add(1)
	go m.reid()
	return nil
}

// OnStop wakes and joins the reconciliation goroutine.
func (m *ObjectMatcher) OnStop() error {
	if m.mail == nil {
		return nil
	}
	m.mail.close()
	m.wg.Wait()
	return nil
}

func (m *ObjectMatcher) Process() {
	for i, in := range m.inputs {
		f := m.GetFrame(in)
		if f == nil {
			continue
		}
		m.resolveFrame(i, f)
		m.PushFrame(m.outputs[i], f)
	}
}

// resolveFrame rewrites the ids of f to canonical ids where known, and
// queues reconciliation work when some are not.
func (m *ObjectMatcher) resolveFrame(sourceIdx int, f *frame.Frame) {
	ids, ok := f.GetStrings(frame.KeyIDs)
	if !ok || len(ids) == 0 {
		return
	}
	tags, _ := f.GetStrings(frame.KeyTags)
	features, _ := f.GetFeatures(frame.KeyFeatures)
	if len(ids) != len(tags) || len(ids) != len(features) {
		operator.Invariantf("%s: frame %d has %d ids, %d tags, %d features",
			m.Name(), f.ID(), len(ids), len(tags), len(features))
	}

	r := m.resolved.Load()
	mapped := make([]string, len(ids))
	unresolved := 0
	for j, id := range ids {
		if canon, ok := r.resolve(id); ok {
			mapped[j] = canon
			continue
		}
		mapped[j] = id
		unresolved++
	}
	f.SetStrings(frame.KeyIDs, mapped)
	if unresolved == 0 {
		return
	}

	camera, _ := f.GetString(frame.KeyCameraName)
	at, ok := f.GetTime(frame.KeyCaptureTimeMicros)
	if !ok {
		at = m.clock.Now()
	}
	w := WorkItem{
		SourceIdx: sourceIdx,
		Camera:    camera,
		IDs:       append([]string(nil), ids...),
		Tags:      append([]string(nil), tags...),
		Features:  make([][]float64, len(features)),
		At:        at,
	}
	for j, feat := range features {
		w.Features[j] = append([]float64(nil), feat...)
	}
	if !m.mail.put(w) {
		monitoring.Diagf("%s: stopping, not reconciling frame %d", m.Name(), f.ID())
	}
}

func (m *ObjectMatcher) reid() {
	defer m.wg.Done()
	for {
		w, ok := m.mail.take()
		if !ok {
			return
		}
		m.round(w)
	}
}

// round runs one reconciliation pass and publishes its result.
func (m *ObjectMatcher) round(w WorkItem) {
	start := m.clock.Now()
	if n := m.gallery.Evict(start, m.cfg.EvictionTTL); n > 0 {
		monitoring.Diagf("%s: evicted %d tracks idle for more than %s", m.Name(), n, m.cfg.EvictionTTL)
	}
	m.gallery.Reconcile(w)
	round := m.rounds.Add(1)
	m.resolved.Store(m.gallery.snapshot(round))
	if monitoring.TraceEnabled() {
		monitoring.Tracef("%s: round %d reconciled %d ids from %s in %s",
			m.Name(), round, len(w.IDs), w.Camera, m.clock.Since(start))
	}
}

// MatcherStats returns reconciliation counters as of the last published round.
func (m *ObjectMatcher) MatcherStats() Stats {
	r := m.resolved.Load()
	s := Stats{
		Rounds:  r.round,
		Tracks:  len(r.canonical),
		Aliases: len(r.aliases),
	}
	if m.mail != nil {
		s.Superseded = m.mail.supersededCount()
	}
	return s
}

// Tracks returns the tracks as of the last published round, sorted by id.
func (m *ObjectMatcher) Tracks() []TrackView {
	r := m.resolved.Load()
	return append([]TrackView(nil), r.tracks...)
}

// Resolve maps a local id to its canonical id using the last published
// round.
func (m *ObjectMatcher) Resolve(id string) (string, bool) {
	return m.resolved.Load().resolve(id)
}

// Register adds the ObjectMatcher type to reg. Track events go to
// deps.Tracks.
func Register(reg *operator.Registry) {
	reg.Register(ObjectMatcherType, func(name string, p operator.Params, deps operator.Deps) (operator.Operator, error) {
		cfg := Config{Sink: deps.Tracks}
		var err error
		if cfg.Type, err = p.RequireString("type"); err != nil {
			return nil, err
		}
		if cfg.BatchSize, err = p.Int("batch_size", 1); err != nil {
			return nil, err
		}
		if cfg.DistanceThreshold, err = p.Float("distance_threshold", 0); err != nil {
			return nil, err
		}
		if cfg.EvictionTTL, err = p.Duration("eviction_ttl", DefaultEvictionTTL); err != nil {
			return nil, err
		}
		if modelName := p.String("model", ""); modelName != "" {
			desc, ok := deps.Models.Get(modelName)
			if !ok {
				return nil, fmt.Errorf("model %q is not registered", modelName)
			}
			cfg.Model, cfg.HasModel = desc, true
		}
		m, err := New(name, cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	})
}
