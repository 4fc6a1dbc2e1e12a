package matcher

import (
	"sort"
	"time"

	"github.com/banshee-data/camflow/internal/operator"
	"github.com/banshee-data/camflow/internal/track"
)

// WorkItem is one batch slot handed from the fast path to the
// reconciliation goroutine.
type WorkItem struct {
	SourceIdx int
	Camera    string
	IDs       []string
	Tags      []string
	Features  [][]float64
	At        time.Time
}

// handle is a per-source reference to a track. It is only valid while the
// track registered under id still carries gen.
type handle struct {
	id  string
	gen uint64
}

// Gallery owns every live track. The canonical table keeps tracks alive;
// the per-source index tables only hold handles, which are validated and
// pruned lazily when read.
type Gallery struct {
	mode      Summary
	metric    Metric
	threshold float64
	sink      track.Sink

	tracks  map[string]*Track
	aliases map[string]string // local id -> canonical id
	sources []map[string]handle
	gen     uint64
}

// NewGallery creates a gallery with one index table per batch source.
func NewGallery(sources int, metric Metric, mode Summary, threshold float64, sink track.Sink) *Gallery {
	g := &Gallery{
		mode:      mode,
		metric:    metric,
		threshold: threshold,
		sink:      sink,
		tracks:    make(map[string]*Track),
		aliases:   make(map[string]string),
		sources:   make([]map[string]handle, sources),
	}
	for i := range g.sources {
		g.sources[i] = make(map[string]handle)
	}
	return g
}

// Track returns the live track with canonical id.
func (g *Gallery) Track(id string) (*Track, bool) {
	t, ok := g.tracks[id]
	return t, ok
}

// Len returns the number of live tracks.
func (g *Gallery) Len() int { return len(g.tracks) }

// IndexLen returns the number of handles held for a source, including
// handles that have not yet been pruned.
func (g *Gallery) IndexLen(source int) int { return len(g.sources[source]) }

func (g *Gallery) emit(e track.Event) {
	if g.sink != nil {
		g.sink.TrackEvent(e)
	}
}

// Evict drops tracks whose last update is older than ttl. Their handles in
// the source tables become stale and are pruned on next access.
func (g *Gallery) Evict(now time.Time, ttl time.Duration) int {
	n := 0
	for id, t := range g.tracks {
		if now.Sub(t.LastUpdate) <= ttl {
			continue
		}
		for a := range t.aliases {
			if g.aliases[a] == id {
				delete(g.aliases, a)
			}
		}
		delete(g.tracks, id)
		n++
		g.emit(track.Event{Kind: track.Evicted, TrackID: id, Camera: t.Camera, Tag: t.Tag, At: now})
	}
	return n
}

// resolve finds the canonical track for a local id by exact id or alias.
func (g *Gallery) resolve(id string) *Track {
	if t, ok := g.tracks[id]; ok {
		return t
	}
	if canon, ok := g.aliases[id]; ok {
		return g.tracks[canon]
	}
	return nil
}

type candidate struct {
	item  int
	track *Track
	dist  float64
}

// Reconcile runs one round over a work item and returns the canonical id
// for every incoming local id, in order.
func (g *Gallery) Reconcile(w WorkItem) []string {
	if len(w.IDs) != len(w.Features) || len(w.IDs) != len(w.Tags) {
		operator.Invariantf("work item has %d ids, %d tags, %d features", len(w.IDs), len(w.Tags), len(w.Features))
	}
	for _, t := range g.tracks {
		t.mapped = false
	}
	mapped := make([]string, len(w.IDs))

	// exact id or known alias
	for i, id := range w.IDs {
		if t := g.resolve(id); t != nil {
			mapped[i] = t.ID
			t.update(w.SourceIdx, w.At, w.Features[i])
			t.mapped = true
		}
	}

	// similarity against tracks visible to this source
	for _, c := range g.candidates(w, mapped) {
		if mapped[c.item] != "" || c.track.mapped {
			continue
		}
		id := w.IDs[c.item]
		mapped[c.item] = c.track.ID
		c.track.addAlias(id)
		g.aliases[id] = c.track.ID
		c.track.update(w.SourceIdx, w.At, w.Features[c.item])
		c.track.mapped = true
		g.emit(track.Event{
			Kind: track.AliasBound, TrackID: c.track.ID, Camera: w.Camera, Tag: w.Tags[c.item],
			Alias: id, Distance: c.dist, At: w.At,
		})
		// a local id binds to one track per round
		for j := range w.IDs {
			if w.IDs[j] == id && mapped[j] == "" {
				mapped[j] = c.track.ID
				c.track.update(w.SourceIdx, w.At, w.Features[j])
			}
		}
	}

	// anything left is a new identity
	for i, id := range w.IDs {
		if mapped[i] != "" {
			continue
		}
		// a duplicate id earlier in this batch may already have created it
		if t, ok := g.tracks[id]; ok {
			mapped[i] = t.ID
			t.update(w.SourceIdx, w.At, w.Features[i])
			continue
		}
		g.gen++
		t := newTrack(id, w.Camera, w.Tags[i], g.mode, g.gen)
		t.update(w.SourceIdx, w.At, w.Features[i])
		t.mapped = true
		g.tracks[id] = t
		for _, idx := range g.sources {
			idx[id] = handle{id: id, gen: t.gen}
		}
		mapped[i] = id
		g.emit(track.Event{Kind: track.Created, TrackID: id, Camera: w.Camera, Tag: w.Tags[i], At: w.At})
	}

	for i, m := range mapped {
		if m == "" {
			operator.Invariantf("id %q left unmapped after reconciliation", w.IDs[i])
		}
	}
	return mapped
}

// candidates scores every unresolved item against every not-yet-mapped
// track in the item's source table, keeping only pairs under the threshold,
// ordered by ascending distance.
func (g *Gallery) candidates(w WorkItem, mapped []string) []candidate {
	if w.SourceIdx < 0 || w.SourceIdx >= len(g.sources) {
		operator.Invariantf("source index %d out of range [0, %d)", w.SourceIdx, len(g.sources))
	}
	index := g.sources[w.SourceIdx]

	keys := make([]string, 0, len(index))
	for k, h := range index {
		t, ok := g.tracks[h.id]
		if !ok || t.gen != h.gen {
			delete(index, k)
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []candidate
	for i := range w.IDs {
		if mapped[i] != "" {
			continue
		}
		for _, k := range keys {
			t := g.tracks[index[k].id]
			if t.mapped {
				continue
			}
			d := g.metric.Match(w.Features[i], t.Feature())
			if d < g.threshold {
				out = append(out, candidate{item: i, track: t, dist: d})
			}
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].dist < out[b].dist })
	return out
}

// snapshot builds the immutable view published to the fast path.
func (g *Gallery) snapshot(round uint64) *resolution {
	r := &resolution{
		round:     round,
		canonical: make(map[string]struct{}, len(g.tracks)),
		aliases:   make(map[string]string, len(g.aliases)),
		tracks:    make([]TrackView, 0, len(g.tracks)),
	}
	for id, t := range g.tracks {
		r.canonical[id] = struct{}{}
		r.tracks = append(r.tracks, TrackView{
			ID:         id,
			Camera:     t.Camera,
			Tag:        t.Tag,
			Aliases:    t.Aliases(),
			Samples:    t.Samples(),
			LastUpdate: t.LastUpdate,
		})
	}
	for a, c := range g.aliases {
		r.aliases[a] = c
	}
	sort.Slice(r.tracks, func(i, j int) bool { return r.tracks[i].ID < r.tracks[j].ID })
	return r
}
