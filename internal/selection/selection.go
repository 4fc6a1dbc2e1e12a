// Package selection holds the operators that decide which frames continue
// down the pipeline: striding, rate throttling, id-range selection and a
// fixed-depth delay buffer.
//
// Every operator here that discards a frame returns its flow-control token
// first, otherwise a blocking entrance upstream would eventually stall.
package selection

import (
	"fmt"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/monitoring"
	"github.com/banshee-data/camflow/internal/operator"
)

const (
	StriderType                = "Strider"
	ThrottlerType              = "Throttler"
	TemporalRegionSelectorType = "TemporalRegionSelector"
	BufferType                 = "Buffer"

	sourceName = "input"
	sinkName   = "output"
)

func drop(op, reason string, f *frame.Frame) {
	monitoring.Diagf("%s: %s, dropping frame %d", op, reason, f.ID())
	f.ReleaseFlowControl()
}

// Register adds the selection operator types to reg.
func Register(reg *operator.Registry) {
	reg.Register(StriderType, func(name string, p operator.Params, _ operator.Deps) (operator.Operator, error) {
		stride, err := p.RequireInt("stride")
		if err != nil {
			return nil, err
		}
		s, err := NewStrider(name, stride)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	reg.Register(ThrottlerType, func(name string, p operator.Params, _ operator.Deps) (operator.Operator, error) {
		fps, err := p.Float("fps", 0)
		if err != nil {
			return nil, err
		}
		t, err := NewThrottler(name, fps)
		if err != nil {
			return nil, err
		}
		return t, nil
	})
	reg.Register(TemporalRegionSelectorType, func(name string, p operator.Params, _ operator.Deps) (operator.Operator, error) {
		start, err := p.RequireUint64("start_id")
		if err != nil {
			return nil, err
		}
		end, err := p.RequireUint64("end_id")
		if err != nil {
			return nil, err
		}
		s, err := NewTemporalRegionSelector(name, start, end)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	reg.Register(BufferType, func(name string, p operator.Params, _ operator.Deps) (operator.Operator, error) {
		n, err := p.RequireInt("num_frames")
		if err != nil {
			return nil, err
		}
		b, err := NewBuffer(name, n)
		if err != nil {
			return nil, err
		}
		return b, nil
	})
}

func positive(name string, v int) error {
	if v <= 0 {
		return fmt.Errorf("%s must be positive, got %d", name, v)
	}
	return nil
}
