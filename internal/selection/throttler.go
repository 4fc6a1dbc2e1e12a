package selection

import (
	"fmt"
	"time"

	"github.com/banshee-data/camflow/internal/operator"
	"github.com/banshee-data/camflow/internal/timeutil"
)

// Throttler caps the forwarded frame rate. A frame arriving sooner than
// 1/fps after the last forwarded frame is dropped. fps of zero disables
// throttling.
type Throttler struct {
	*operator.Base

	delay       time.Duration
	clock       timeutil.Clock
	lastForward time.Time
}

// NewThrottler creates a throttler. fps must not be negative.
func NewThrottler(name string, fps float64) (*Throttler, error) {
	if fps < 0 {
		return nil, fmt.Errorf("fps cannot be negative, got %g", fps)
	}
	t := &Throttler{clock: timeutil.RealClock{}}
	if fps > 0 {
		t.delay = time.Duration(float64(time.Second) / fps)
	}
	t.Base = operator.NewBase(name, ThrottlerType, []string{sourceName}, []string{sinkName}, t)
	return t, nil
}

// Delay returns the minimum spacing between forwarded frames.
func (t *Throttler) Delay() time.Duration { return t.delay }

func (t *Throttler) Init() error   { return nil }
func (t *Throttler) OnStop() error { return nil }

func (t *Throttler) Process() {
	f := t.GetFrame(sourceName)
	if f == nil {
		return
	}
	if !t.admit(t.clock.Now()) {
		drop(t.Name(), "frame rate too high", f)
		return
	}
	t.PushFrame(sinkName, f)
}

// admit reports whether a frame arriving at now may pass. The timer only
// restarts when a frame is forwarded.
func (t *Throttler) admit(now time.Time) bool {
	if t.delay > 0 && !t.lastForward.IsZero() && now.Sub(t.lastForward) < t.delay {
		return false
	}
	t.lastForward = now
	return true
}
