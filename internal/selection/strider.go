package selection

import (
	"fmt"

	"github.com/banshee-data/camflow/internal/operator"
)

// Strider forwards every stride-th frame by arrival order, starting with
// the first.
type Strider struct {
	*operator.Base

	stride  uint64
	arrived uint64
}

// NewStrider creates a strider. stride must be positive.
func NewStrider(name string, stride int) (*Strider, error) {
	if err := positive("stride", stride); err != nil {
		return nil, err
	}
	s := &Strider{stride: uint64(stride)}
	s.Base = operator.NewBase(name, StriderType, []string{sourceName}, []string{sinkName}, s)
	return s, nil
}

func (s *Strider) Init() error   { return nil }
func (s *Strider) OnStop() error { return nil }

func (s *Strider) Process() {
	f := s.GetFrame(sourceName)
	if f == nil {
		return
	}
	idx := s.arrived
	s.arrived++
	if idx%s.stride != 0 {
		drop(s.Name(), fmt.Sprintf("striding by %d", s.stride), f)
		return
	}
	s.PushFrame(sinkName, f)
}
