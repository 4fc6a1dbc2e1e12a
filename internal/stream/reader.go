package stream

import (
	"sync"
	"time"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/monitoring"
)

const ewmaAlpha = 0.25

// Reader is one subscriber's cursor into a Stream.
type Reader struct {
	stream *Stream
	queue  chan *frame.Frame

	doneOnce sync.Once
	done     chan struct{}

	statsMu  sync.Mutex
	pushed   uint64
	popped   uint64
	dropped  uint64
	firstPop time.Time
	lastPush time.Time
	lastPop  time.Time
	pushEWMA float64 // ms between pushes
	popEWMA  float64 // ms between pops
}

func newReader(s *Stream, bufSize int) *Reader {
	now := time.Now()
	return &Reader{
		stream:   s,
		queue:    make(chan *frame.Frame, bufSize),
		done:     make(chan struct{}),
		lastPush: now,
		lastPop:  now,
	}
}

// Stream returns the stream this reader is subscribed to.
func (r *Reader) Stream() *Stream { return r.stream }

// Len returns the number of queued frames.
func (r *Reader) Len() int { return len(r.queue) }

// Cap returns the queue capacity.
func (r *Reader) Cap() int { return cap(r.queue) }

func (r *Reader) push(f *frame.Frame, block bool) bool {
	select {
	case <-r.done:
		f.ReleaseFlowControl()
		return false
	default:
	}

	if block {
		select {
		case r.queue <- f:
		case <-r.done:
			f.ReleaseFlowControl()
			return false
		case <-r.stream.closed:
			f.ReleaseFlowControl()
			return false
		}
	} else {
		select {
		case r.queue <- f:
		default:
			r.statsMu.Lock()
			r.dropped++
			r.statsMu.Unlock()
			monitoring.Diagf("stream %s: queue full, dropping frame %d", r.stream.name, f.ID())
			if f.Owner() != nil {
				monitoring.Opsf("stream %s: dropped frame %d while it held a flow-control token; "+
					"increase the stream buffer or lower max_tokens", r.stream.name, f.ID())
				f.ReleaseFlowControl()
			}
			return false
		}
	}

	// The reader may have unsubscribed between the check above and the send.
	select {
	case <-r.done:
		r.drain()
		return false
	default:
	}

	r.statsMu.Lock()
	now := time.Now()
	r.pushed++
	r.pushEWMA = r.pushEWMA*(1-ewmaAlpha) + float64(now.Sub(r.lastPush).Microseconds())/1000*ewmaAlpha
	r.lastPush = now
	r.statsMu.Unlock()
	return true
}

// PopFrame returns the next frame, waiting up to timeout. A non-positive
// timeout waits indefinitely. It returns nil when the timeout elapses, the
// reader has unsubscribed, or the stream is closed and fully drained.
func (r *Reader) PopFrame(timeout time.Duration) *frame.Frame {
	select {
	case f := <-r.queue:
		return r.recordPop(f)
	case <-r.done:
		return nil
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case f := <-r.queue:
		return r.recordPop(f)
	case <-r.done:
		return nil
	case <-r.stream.closed:
		select {
		case f := <-r.queue:
			return r.recordPop(f)
		default:
			return nil
		}
	case <-expired:
		return nil
	}
}

func (r *Reader) recordPop(f *frame.Frame) *frame.Frame {
	r.statsMu.Lock()
	now := time.Now()
	r.popped++
	r.popEWMA = r.popEWMA*(1-ewmaAlpha) + float64(now.Sub(r.lastPop).Microseconds())/1000*ewmaAlpha
	r.lastPop = now
	if r.firstPop.IsZero() {
		r.firstPop = now
	}
	r.statsMu.Unlock()
	return f
}

// Unsubscribe detaches the reader from its stream. Frames still queued are
// dropped and their flow-control tokens returned. Subsequent pops return nil.
func (r *Reader) Unsubscribe() {
	r.doneOnce.Do(func() { close(r.done) })
	r.stream.remove(r)
	r.drain()
}

func (r *Reader) drain() {
	for {
		select {
		case f := <-r.queue:
			if f.ReleaseFlowControl() {
				monitoring.Diagf("stream %s: released token of unconsumed frame %d", r.stream.name, f.ID())
			}
		default:
			return
		}
	}
}

// Stats is a point-in-time view of a reader's throughput.
type Stats struct {
	Queued        int
	Capacity      int
	Pushed        uint64
	Popped        uint64
	Dropped       uint64
	PushFPS       float64
	PopFPS        float64
	HistoricalFPS float64
}

// Stats returns the reader's current counters. FPS values are derived from
// an exponentially weighted moving average of inter-arrival times.
func (r *Reader) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	st := Stats{
		Queued:   len(r.queue),
		Capacity: cap(r.queue),
		Pushed:   r.pushed,
		Popped:   r.popped,
		Dropped:  r.dropped,
	}
	if r.pushEWMA > 0 {
		st.PushFPS = 1000 / r.pushEWMA
	}
	if r.popEWMA > 0 {
		st.PopFPS = 1000 / r.popEWMA
	}
	if !r.firstPop.IsZero() {
		if secs := time.Since(r.firstPop).Seconds(); secs > 0 {
			st.HistoricalFPS = float64(r.popped) / secs
		}
	}
	return st
}
