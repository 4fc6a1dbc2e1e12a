package matcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/model"
	"github.com/banshee-data/camflow/internal/operator"
	"github.com/banshee-data/camflow/internal/testutil"
	"github.com/banshee-data/camflow/internal/track"
)

type recorder struct {
	mu     sync.Mutex
	events []track.Event
}

func (r *recorder) TrackEvent(e track.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) summary() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		s := e.Kind.String() + ":" + e.TrackID
		if e.Alias != "" {
			s += "<-" + e.Alias
		}
		out = append(out, s)
	}
	return out
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func work(source int, camera string, ids []string, features ...[]float64) WorkItem {
	tags := make([]string, len(ids))
	for i := range tags {
		tags[i] = "person"
	}
	return WorkItem{SourceIdx: source, Camera: camera, IDs: ids, Tags: tags, Features: features, At: t0}
}

func TestReconcileNoveltyAndCrossCameraAlias(t *testing.T) {
	rec := &recorder{}
	g := NewGallery(2, Euclidean{}, SummaryAvg, 0.5, rec)

	assert.Equal(t, []string{"a"}, g.Reconcile(work(0, "cam0", []string{"a"}, []float64{1, 0})))

	got := g.Reconcile(work(1, "cam1", []string{"b", "c"}, []float64{0.99, 0.1}, []float64{0, 1}))
	assert.Equal(t, []string{"a", "c"}, got)
	assert.Equal(t, 2, g.Len())

	a, ok := g.Track("a")
	require.True(t, ok)
	assert.True(t, a.HasAlias("b"))
	assert.Equal(t, 2, a.Samples())
	assert.Equal(t, 1, a.SourceIdx)

	// the alias now resolves in phase 1 from any source
	assert.Equal(t, []string{"a"}, g.Reconcile(work(0, "cam0", []string{"b"}, []float64{0, 1})))

	want := []string{"created:a", "alias_bound:a<-b", "created:c"}
	if diff := cmp.Diff(want, rec.summary()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	g := NewGallery(1, Euclidean{}, SummaryAvg, 0.5, nil)
	for i := 0; i < 5; i++ {
		assert.Equal(t, []string{"p1"}, g.Reconcile(work(0, "cam0", []string{"p1"}, []float64{1, 2, 3})))
	}
	assert.Equal(t, 1, g.Len())
}

func TestReconcileGreedyByDistance(t *testing.T) {
	g := NewGallery(1, Euclidean{}, SummaryAvg, 0.5, nil)
	g.Reconcile(work(0, "cam0", []string{"a"}, []float64{1, 0}))

	// both are under threshold; the closer one wins and the other is new
	got := g.Reconcile(work(0, "cam0", []string{"x", "y"}, []float64{1, 0.3}, []float64{1, 0.05}))
	assert.Equal(t, []string{"x", "a"}, got)
	assert.Equal(t, 2, g.Len())
}

func TestReconcileSkipsTracksMappedThisRound(t *testing.T) {
	g := NewGallery(1, Euclidean{}, SummaryAvg, 0.5, nil)
	g.Reconcile(work(0, "cam0", []string{"a"}, []float64{1, 0}))

	got := g.Reconcile(work(0, "cam0", []string{"a", "z"}, []float64{1, 0}, []float64{1, 0.01}))
	assert.Equal(t, []string{"a", "z"}, got)
}

func TestReconcileLengthMismatchPanics(t *testing.T) {
	g := NewGallery(1, Euclidean{}, SummaryAvg, 0.5, nil)
	w := work(0, "cam0", []string{"a", "b"}, []float64{1, 0})
	assert.Panics(t, func() { g.Reconcile(w) })
}

func TestEvictionPrunesLazily(t *testing.T) {
	rec := &recorder{}
	g := NewGallery(2, Euclidean{}, SummaryAvg, 0.5, rec)
	g.Reconcile(work(0, "cam0", []string{"a"}, []float64{1, 0}))

	assert.Zero(t, g.Evict(t0.Add(30*time.Minute), time.Hour))
	assert.Equal(t, 1, g.Evict(t0.Add(61*time.Minute), time.Hour))
	assert.Zero(t, g.Len())
	assert.Equal(t, 1, g.IndexLen(1), "handle stays until read")

	// a matching feature on the other source no longer finds the old track
	got := g.Reconcile(work(1, "cam1", []string{"b"}, []float64{1, 0}))
	assert.Equal(t, []string{"b"}, got)
	assert.Equal(t, 1, g.IndexLen(1), "stale handle pruned, new track broadcast")

	assert.Equal(t, []string{"created:a", "evicted:a", "created:b"}, rec.summary())
}

func TestEvictionDropsAliases(t *testing.T) {
	g := NewGallery(1, Euclidean{}, SummaryAvg, 0.5, nil)
	g.Reconcile(work(0, "cam0", []string{"a"}, []float64{1, 0}))
	g.Reconcile(work(0, "cam0", []string{"b"}, []float64{1, 0}))
	g.Evict(t0.Add(2*time.Hour), time.Hour)

	r := g.snapshot(1)
	_, ok := r.resolve("b")
	assert.False(t, ok)
}

func TestReconcileDuplicateIDBindsOnce(t *testing.T) {
	g := NewGallery(1, Euclidean{}, SummaryAvg, 0.5, nil)
	g.Reconcile(work(0, "cam0", []string{"a"}, []float64{1, 0}))
	late := work(0, "cam0", []string{"c"}, []float64{0, 1})
	late.At = t0.Add(50 * time.Minute)
	g.Reconcile(late)

	got := g.Reconcile(work(0, "cam0", []string{"x", "x"}, []float64{1, 0}, []float64{0, 1}))
	assert.Equal(t, []string{"a", "a"}, got)

	a, _ := g.Track("a")
	c, _ := g.Track("c")
	assert.True(t, a.HasAlias("x"))
	assert.False(t, c.HasAlias("x"))
	assert.Equal(t, late.At, c.LastUpdate)

	// a is idle past the ttl, c is not
	assert.Equal(t, 1, g.Evict(t0.Add(61*time.Minute), time.Hour))
	_, ok := g.Track("c")
	assert.True(t, ok)
	_, ok = g.snapshot(1).resolve("x")
	assert.False(t, ok)
}

func TestEvictionKeepsAliasOwnedElsewhere(t *testing.T) {
	g := NewGallery(1, Euclidean{}, SummaryAvg, 0.5, nil)
	g.Reconcile(work(0, "cam0", []string{"a"}, []float64{1, 0}))
	late := work(0, "cam0", []string{"c"}, []float64{0, 1})
	late.At = t0.Add(50 * time.Minute)
	g.Reconcile(late)

	a, _ := g.Track("a")
	c, _ := g.Track("c")
	a.addAlias("x")
	c.addAlias("x")
	g.aliases["x"] = "c"

	assert.Equal(t, 1, g.Evict(t0.Add(61*time.Minute), time.Hour))
	canon, ok := g.snapshot(1).resolve("x")
	require.True(t, ok)
	assert.Equal(t, "c", canon)
}

func TestTrackLastUpdateIsMonotonic(t *testing.T) {
	tr := newTrack("a", "cam", "person", SummaryAvg, 1)
	tr.update(0, t0.Add(time.Minute), []float64{1})
	tr.update(1, t0, []float64{1})
	assert.Equal(t, t0.Add(time.Minute), tr.LastUpdate)
	assert.Equal(t, 1, tr.SourceIdx)
}

func TestTrackSummary(t *testing.T) {
	avg := newTrack("a", "cam", "person", SummaryAvg, 1)
	avg.update(0, t0, []float64{1, 2})
	avg.update(0, t0, []float64{3, 4})
	assert.Equal(t, []float64{2, 3}, avg.Feature())

	peak := newTrack("b", "cam", "person", SummaryMax, 2)
	peak.update(0, t0, []float64{1, 4})
	peak.update(0, t0, []float64{3, 2})
	assert.Equal(t, []float64{3, 4}, peak.Feature())
}

func TestTrackRingIsBounded(t *testing.T) {
	tr := newTrack("a", "cam", "person", SummaryAvg, 1)
	for i := 0; i < 35; i++ {
		tr.update(0, t0, []float64{float64(i)})
	}
	assert.Equal(t, ringSize, tr.Samples())
	// mean of 5..34
	assert.InDelta(t, 19.5, tr.Feature()[0], 1e-9)
}

func TestTrackFeatureLengthMismatchPanics(t *testing.T) {
	tr := newTrack("a", "cam", "person", SummaryAvg, 1)
	tr.update(0, t0, []float64{1, 2})
	assert.Panics(t, func() { tr.update(0, t0, []float64{1}) })
}

func TestMailboxLatestWins(t *testing.T) {
	m := newMailbox()
	require.True(t, m.put(WorkItem{Camera: "first"}))
	require.True(t, m.put(WorkItem{Camera: "second"}))
	assert.Equal(t, uint64(1), m.supersededCount())

	w, ok := m.take()
	require.True(t, ok)
	assert.Equal(t, "second", w.Camera)
}

func TestMailboxCloseWakesTake(t *testing.T) {
	m := newMailbox()
	done := make(chan bool)
	go func() {
		_, ok := m.take()
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	m.close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("take did not return after close")
	}
	assert.False(t, m.put(WorkItem{}))
}

func TestEuclidean(t *testing.T) {
	var e Euclidean
	assert.InDelta(t, 0, e.Match([]float64{1, 0}, []float64{5, 0}), 1e-12)
	assert.InDelta(t, 1.4142135, e.Match([]float64{1, 0}, []float64{0, 3}), 1e-6)
	assert.Panics(t, func() { e.Match([]float64{1}, []float64{1, 2}) })
}

func writeCSV(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestXQDA(t *testing.T) {
	dir := t.TempDir()
	x := &XQDA{
		ParamsPath: writeCSV(t, dir, "w.csv", "1,0\n0,1\n0,0\n"),
		DescPath:   writeCSV(t, dir, "m.csv", "2,0\n0,2\n"),
	}
	require.NoError(t, x.Init())
	d, k := x.Dims()
	assert.Equal(t, 3, d)
	assert.Equal(t, 2, k)

	// projections (1,0) and (0,1) with M=2I: 2 + 2 - 0
	assert.InDelta(t, 4, x.Match([]float64{1, 0, 0}, []float64{0, 1, 0}), 1e-12)
	assert.InDelta(t, 0, x.Match([]float64{3, 0, 0}, []float64{1, 0, 0}), 1e-12)
	assert.Panics(t, func() { x.Match([]float64{1, 0}, []float64{0, 1}) })
}

func TestXQDADimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	x := &XQDA{
		ParamsPath: writeCSV(t, dir, "w.csv", "1,0\n0,1\n"),
		DescPath:   writeCSV(t, dir, "m.csv", "1,0,0\n0,1,0\n0,0,1\n"),
	}
	assert.Error(t, x.Init())
}

func TestNewMetric(t *testing.T) {
	_, s, err := NewMetric("euclidean", model.Desc{}, false)
	require.NoError(t, err)
	assert.Equal(t, SummaryAvg, s)

	_, _, err = NewMetric("xqda", model.Desc{}, false)
	assert.Error(t, err)

	_, s, err = NewMetric("xqda", model.Desc{Name: "x"}, true)
	require.NoError(t, err)
	assert.Equal(t, SummaryMax, s)

	_, _, err = NewMetric("cosine", model.Desc{}, false)
	assert.Error(t, err)
}

func detections(id uint64, camera string, ids []string, features ...[]float64) *frame.Frame {
	f := testutil.NewFrame(id, camera)
	tags := make([]string, len(ids))
	for i := range tags {
		tags[i] = "person"
	}
	f.SetStrings(frame.KeyIDs, ids)
	f.SetStrings(frame.KeyTags, tags)
	f.SetFeatures(frame.KeyFeatures, features)
	return f
}

func outIDs(t *testing.T, f *frame.Frame) []string {
	t.Helper()
	require.NotNil(t, f)
	got, ok := f.GetStrings(frame.KeyIDs)
	require.True(t, ok)
	return got
}

func TestObjectMatcherEventualConsistency(t *testing.T) {
	rec := &recorder{}
	m, err := New("matcher", Config{Type: "euclidean", BatchSize: 2, DistanceThreshold: 0.5, Sink: rec})
	require.NoError(t, err)
	h := testutil.Attach(t, m)
	h.Start(t)

	h.Push(t, "input0", detections(1, "cam0", []string{"a"}, []float64{1, 0}))
	assert.Equal(t, []string{"a"}, outIDs(t, h.Pop("output0", time.Second)))
	testutil.Eventually(t, time.Second, func() bool {
		_, ok := m.Resolve("a")
		return ok
	}, "a becomes canonical")

	// first sighting on the other camera is forwarded raw
	h.Push(t, "input1", detections(1, "cam1", []string{"b"}, []float64{0.99, 0.1}))
	assert.Equal(t, []string{"b"}, outIDs(t, h.Pop("output1", time.Second)))
	testutil.Eventually(t, time.Second, func() bool {
		c, ok := m.Resolve("b")
		return ok && c == "a"
	}, "b binds to a")

	h.Push(t, "input1", detections(2, "cam1", []string{"b"}, []float64{0.99, 0.1}))
	assert.Equal(t, []string{"a"}, outIDs(t, h.Pop("output1", time.Second)))

	st := m.MatcherStats()
	assert.Equal(t, uint64(2), st.Rounds)
	assert.Equal(t, 1, st.Tracks)
	assert.Equal(t, 1, st.Aliases)

	views := m.Tracks()
	require.Len(t, views, 1)
	assert.Equal(t, []string{"b"}, views[0].Aliases)
	assert.Equal(t, []string{"created:a", "alias_bound:a<-b"}, rec.summary())
}

func TestObjectMatcherPassesFramesWithoutIDs(t *testing.T) {
	m, err := New("matcher", Config{Type: "euclidean", BatchSize: 1, DistanceThreshold: 0.5})
	require.NoError(t, err)
	h := testutil.Attach(t, m)
	h.Start(t)

	h.Push(t, "input0", testutil.NewFrame(9, "cam0"))
	out := h.Pop("output0", time.Second)
	require.NotNil(t, out)
	assert.Equal(t, uint64(9), out.ID())
	assert.False(t, out.Has(frame.KeyIDs))
	assert.Zero(t, m.MatcherStats().Rounds)
}

func TestObjectMatcherStopJoinsWorker(t *testing.T) {
	m, err := New("matcher", Config{Type: "euclidean", BatchSize: 1, DistanceThreshold: 0.5})
	require.NoError(t, err)
	h := testutil.Attach(t, m)
	h.Start(t)

	done := make(chan error)
	go func() { done <- m.Stop() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Equal(t, operator.Stopped, m.State())
}

func TestRegister(t *testing.T) {
	reg := operator.NewRegistry()
	Register(reg)

	models := model.NewRegistry()
	require.NoError(t, models.Register(model.Desc{Name: "xqda-market", Type: model.TypeXQDA}))
	deps := operator.Deps{Models: models}

	op, err := reg.Create(ObjectMatcherType, "m", operator.Params{
		"type": "euclidean", "batch_size": "3", "distance_threshold": "0.4", "eviction_ttl": "120",
	}, deps)
	require.NoError(t, err)
	m := op.(*ObjectMatcher)
	assert.Len(t, m.Sources(), 3)
	assert.Equal(t, 2*time.Minute, m.cfg.EvictionTTL)

	_, err = reg.Create(ObjectMatcherType, "m", operator.Params{"type": "xqda", "distance_threshold": "1"}, deps)
	assert.Error(t, err, "xqda needs a model")

	op, err = reg.Create(ObjectMatcherType, "m", operator.Params{
		"type": "xqda", "distance_threshold": "1", "model": "xqda-market",
	}, deps)
	require.NoError(t, err)
	assert.Equal(t, SummaryMax, op.(*ObjectMatcher).summary)

	_, err = reg.Create(ObjectMatcherType, "m", operator.Params{"type": "xqda", "distance_threshold": "1", "model": "nope"}, deps)
	assert.Error(t, err)

	_, err = reg.Create(ObjectMatcherType, "m", operator.Params{"type": "euclidean"}, deps)
	assert.Error(t, err, "threshold is required to be positive")
}
