// Package tracker gives detections a per-camera identity that persists
// while an object stays in view. Detections are associated with live tracks
// by bounding-box overlap; unmatched detections start new tracks and tracks
// that go unmatched for too long are dropped.
package tracker

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/monitoring"
	"github.com/banshee-data/camflow/internal/operator"
)

const (
	ObjectTrackerType = "ObjectTracker"

	DefaultIoUThreshold = 0.3
	DefaultMaxMisses    = 5

	sourceName = "input"
	sinkName   = "output"
)

// Config holds the ObjectTracker parameters.
type Config struct {
	IoUThreshold float64 // minimum overlap to continue a track
	MaxMisses    int     // consecutive unmatched frames before a track is dropped
}

type localTrack struct {
	id     string
	tag    string
	box    frame.Rect
	hits   int
	misses int
}

// ObjectTracker writes a local id for every detection into the ids field.
type ObjectTracker struct {
	*operator.Base

	cfg    Config
	tracks map[string][]*localTrack // by camera

	newID func() string
}

// New creates an ObjectTracker.
func New(name string, cfg Config) (*ObjectTracker, error) {
	if cfg.IoUThreshold <= 0 || cfg.IoUThreshold > 1 {
		return nil, fmt.Errorf("iou_threshold must be in (0, 1], got %v", cfg.IoUThreshold)
	}
	if cfg.MaxMisses < 0 {
		return nil, fmt.Errorf("max_misses must not be negative, got %d", cfg.MaxMisses)
	}
	t := &ObjectTracker{
		cfg:    cfg,
		tracks: make(map[string][]*localTrack),
		newID:  func() string { return "trk_" + uuid.NewString() },
	}
	t.Base = operator.NewBase(name, ObjectTrackerType, []string{sourceName}, []string{sinkName}, t)
	return t, nil
}

// Init drops tracks left from an earlier run. Process owns tracks from here
// until the run loop exits.
func (t *ObjectTracker) Init() error {
	t.tracks = make(map[string][]*localTrack)
	return nil
}

func (t *ObjectTracker) OnStop() error { return nil }

func (t *ObjectTracker) Process() {
	f := t.GetFrame(sourceName)
	if f == nil {
		return
	}
	camera, _ := f.GetString(frame.KeyCameraName)
	boxes, ok := f.GetRects(frame.KeyBoundingBoxes)
	if !ok {
		t.tracks[camera] = t.age(t.tracks[camera], nil)
		t.PushFrame(sinkName, f)
		return
	}
	tags, _ := f.GetStrings(frame.KeyTags)
	if len(tags) != len(boxes) {
		operator.Invariantf("%s: frame %d has %d boxes and %d tags", t.Name(), f.ID(), len(boxes), len(tags))
	}
	ids := t.update(camera, boxes, tags)
	f.SetStrings(frame.KeyIDs, ids)
	t.PushFrame(sinkName, f)
}

// update associates detections with the camera's tracks and returns the id
// of each detection.
func (t *ObjectTracker) update(camera string, boxes []frame.Rect, tags []string) []string {
	live := t.tracks[camera]
	cost := make([][]float64, len(boxes))
	for i, b := range boxes {
		cost[i] = make([]float64, len(live))
		for j, tr := range live {
			cost[i][j] = forbidden
			if tr.tag != tags[i] {
				continue
			}
			if o := IoU(b, tr.box); o >= t.cfg.IoUThreshold {
				cost[i][j] = 1 - o
			}
		}
	}

	ids := make([]string, len(boxes))
	matched := make(map[*localTrack]bool, len(live))
	for i, j := range assign(cost) {
		if j < 0 {
			continue
		}
		tr := live[j]
		tr.box = boxes[i]
		tr.hits++
		tr.misses = 0
		matched[tr] = true
		ids[i] = tr.id
	}

	kept := t.age(live, matched)
	for i, id := range ids {
		if id != "" {
			continue
		}
		tr := &localTrack{id: t.newID(), tag: tags[i], box: boxes[i], hits: 1}
		kept = append(kept, tr)
		ids[i] = tr.id
		monitoring.Diagf("%s: new %s track %s on %s", t.Name(), tr.tag, tr.id, camera)
	}
	t.tracks[camera] = kept
	return ids
}

// age counts a miss against every unmatched track and drops those past
// their budget.
func (t *ObjectTracker) age(live []*localTrack, matched map[*localTrack]bool) []*localTrack {
	kept := live[:0]
	for _, tr := range live {
		if !matched[tr] {
			tr.misses++
			if tr.misses > t.cfg.MaxMisses {
				continue
			}
		}
		kept = append(kept, tr)
	}
	return kept
}

// Len returns the number of live tracks for camera.
func (t *ObjectTracker) Len(camera string) int { return len(t.tracks[camera]) }

// IoU returns the intersection over union of two boxes.
func IoU(a, b frame.Rect) float64 {
	inter := a.Bounds().Intersect(b.Bounds())
	if inter.Empty() {
		return 0
	}
	i := float64(inter.Dx() * inter.Dy())
	u := float64(a.Width*a.Height+b.Width*b.Height) - i
	if u <= 0 {
		return 0
	}
	return i / u
}

// Register adds the ObjectTracker type to reg.
func Register(reg *operator.Registry) {
	reg.Register(ObjectTrackerType, func(name string, p operator.Params, _ operator.Deps) (operator.Operator, error) {
		var (
			cfg Config
			err error
		)
		if cfg.IoUThreshold, err = p.Float("iou_threshold", DefaultIoUThreshold); err != nil {
			return nil, err
		}
		if cfg.MaxMisses, err = p.Int("max_misses", DefaultMaxMisses); err != nil {
			return nil, err
		}
		t, err := New(name, cfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	})
}
