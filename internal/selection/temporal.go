package selection

import (
	"fmt"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/operator"
)

// TemporalRegionSelector forwards frames whose id lies in [start, end].
// Frames before start are dropped. The first frame past end is replaced by
// a stop frame, which ends this operator and everything downstream.
type TemporalRegionSelector struct {
	*operator.Base

	start, end uint64
}

// NewTemporalRegionSelector creates a selector for ids in [start, end].
func NewTemporalRegionSelector(name string, start, end uint64) (*TemporalRegionSelector, error) {
	if end < start {
		return nil, fmt.Errorf("end_id (%d) must be greater than or equal to start_id (%d)", end, start)
	}
	s := &TemporalRegionSelector{start: start, end: end}
	s.Base = operator.NewBase(name, TemporalRegionSelectorType, []string{sourceName}, []string{sinkName}, s)
	return s, nil
}

func (s *TemporalRegionSelector) Init() error   { return nil }
func (s *TemporalRegionSelector) OnStop() error { return nil }

func (s *TemporalRegionSelector) Process() {
	f := s.GetFrame(sourceName)
	if f == nil {
		return
	}
	id := f.ID()
	switch {
	case id < s.start:
		drop(s.Name(), fmt.Sprintf("not in region [%d, %d]", s.start, s.end), f)
	case id > s.end:
		drop(s.Name(), "past end of region", f)
		s.PushFrame(sinkName, frame.NewStop())
	default:
		s.PushFrame(sinkName, f)
	}
}
