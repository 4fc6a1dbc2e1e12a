// Package operator provides the processing-stage abstraction of the
// pipeline: named input and output ports bound to streams, a private run
// loop per operator, lifecycle management and latency statistics.
//
// Concrete operators embed *Base and implement Processor. Base owns the
// goroutine that repeatedly pops every input, caches one frame per port and
// invokes Process; Process reads the cache with GetFrame and emits with
// PushFrame.
package operator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/monitoring"
	"github.com/banshee-data/camflow/internal/stream"
)

// popTimeout bounds how long the run loop waits on one input before moving
// on to the next, so multi-input operators make progress when only some
// inputs have data.
const popTimeout = 15 * time.Millisecond

// InvariantError is raised (as a panic) for broken pipeline invariants.
type InvariantError = frame.InvariantError

// Invariantf panics with an *InvariantError.
func Invariantf(format string, args ...any) { frame.Invariantf(format, args...) }

// ErrNotStarted is returned by operations that need a running operator.
var ErrNotStarted = errors.New("operator: not started")

// State is an operator lifecycle state.
type State int32

const (
	Created State = iota
	Initialized
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Processor is implemented by every concrete operator.
type Processor interface {
	// Init performs one-time setup. An error prevents the pipeline from
	// starting.
	Init() error
	// Process is called repeatedly from the operator's run loop, never
	// concurrently with itself.
	Process()
	// OnStop is called once when the operator is stopped. It must wake any
	// wait held inside Process.
	OnStop() error
}

// Flusher is implemented by operators that hold frames across rounds. Flush
// is called from the run loop when a stop frame arrives, before the stop
// frame is forwarded, so that held frames are not lost at end of stream.
type Flusher interface {
	Flush()
}

// Operator is the interface the pipeline uses to wire and drive stages.
type Operator interface {
	Name() string
	Type() string
	Sources() []string
	Sinks() []string
	SetSource(port string, s *stream.Stream) error
	Sink(port string) (*stream.Stream, error)
	SetPushPolicy(p stream.PushPolicy) error
	Start(ctx context.Context, bufSize int) error
	Stop() error
	State() State
	Done() <-chan struct{}
	Stats() Stats
}

// Base implements the port bookkeeping, run loop and lifecycle shared by all
// operators.
type Base struct {
	name string
	typ  string
	proc Processor

	sourceNames []string
	sources     map[string]*stream.Stream
	readers     map[string]*stream.Reader
	sinks       map[string]*stream.Stream
	sinkNames   []string

	// cache is only touched by the run loop, and by Stop after the loop
	// has exited.
	cache map[string]*frame.Frame

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	foundLast       bool
	processingStart time.Time

	stopMu sync.Mutex
	stats  latencyStats
}

// NewBase creates the shared operator state. proc is normally the concrete
// operator that embeds the returned Base.
func NewBase(name, typ string, sources, sinks []string, proc Processor) *Base {
	b := &Base{
		name:        name,
		typ:         typ,
		proc:        proc,
		sourceNames: append([]string(nil), sources...),
		sources:     make(map[string]*stream.Stream, len(sources)),
		readers:     make(map[string]*stream.Reader, len(sources)),
		sinks:       make(map[string]*stream.Stream, len(sinks)),
		sinkNames:   append([]string(nil), sinks...),
		cache:       make(map[string]*frame.Frame, len(sources)),
		done:        make(chan struct{}),
	}
	sort.Strings(b.sourceNames)
	sort.Strings(b.sinkNames)
	for _, s := range sources {
		b.sources[s] = nil
	}
	for _, s := range sinks {
		b.sinks[s] = stream.New(name+":"+s, stream.PushDrop)
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return b
}

// BatchPorts returns the "input{i}"/"output{i}" port names used by batched
// operators.
func BatchPorts(n int) (inputs, outputs []string) {
	for i := 0; i < n; i++ {
		inputs = append(inputs, fmt.Sprintf("input%d", i))
		outputs = append(outputs, fmt.Sprintf("output%d", i))
	}
	return inputs, outputs
}

func (b *Base) Name() string { return b.name }
func (b *Base) Type() string { return b.typ }

// Sources returns the input port names in sorted order.
func (b *Base) Sources() []string { return append([]string(nil), b.sourceNames...) }

// Sinks returns the output port names in sorted order.
func (b *Base) Sinks() []string { return append([]string(nil), b.sinkNames...) }

// State returns the current lifecycle state.
func (b *Base) State() State { return State(b.state.Load()) }

// Context is cancelled when the operator starts stopping. Process
// implementations that wait on timers use it to return promptly.
func (b *Base) Context() context.Context { return b.ctx }

// Done is closed when the run loop exits, either because the operator was
// stopped or because a stop frame passed through it.
func (b *Base) Done() <-chan struct{} { return b.done }

// SetSource binds an input port to an upstream stream.
func (b *Base) SetSource(port string, s *stream.Stream) error {
	if _, ok := b.sources[port]; !ok {
		return fmt.Errorf("source %q does not exist for operator %q (available: %v)", port, b.name, b.sourceNames)
	}
	if b.State() != Created {
		return fmt.Errorf("operator %q: cannot bind %q after start", b.name, port)
	}
	b.sources[port] = s
	return nil
}

// Sink returns the stream owned by an output port.
func (b *Base) Sink(port string) (*stream.Stream, error) {
	s, ok := b.sinks[port]
	if !ok {
		return nil, fmt.Errorf("sink %q does not exist for operator %q (available: %v)", port, b.name, b.sinkNames)
	}
	return s, nil
}

// SetPushPolicy replaces every sink stream with one using policy p. It must
// be called before downstream operators bind to the sinks.
func (b *Base) SetPushPolicy(p stream.PushPolicy) error {
	if b.State() != Created {
		return fmt.Errorf("operator %q: push policy must be set before start", b.name)
	}
	for _, port := range b.sinkNames {
		if len(b.sinks[port].Readers()) > 0 {
			return fmt.Errorf("operator %q: sink %q already has readers", b.name, port)
		}
		b.sinks[port] = stream.New(b.name+":"+port, p)
	}
	return nil
}

// Start initializes the operator, subscribes to every bound source and
// launches the run loop. Cancelling ctx ends the run loop, but sinks stay
// open and tokens stay held until Stop is called.
func (b *Base) Start(ctx context.Context, bufSize int) error {
	if b.State() != Created {
		return fmt.Errorf("operator %q has already started", b.name)
	}
	for _, port := range b.sourceNames {
		if b.sources[port] == nil {
			return fmt.Errorf("operator %q: source %q is not set", b.name, port)
		}
	}

	monitoring.Diagf("starting %s (%s)", b.name, b.typ)
	if err := b.proc.Init(); err != nil {
		return fmt.Errorf("operator %q is not able to be initialized: %w", b.name, err)
	}
	b.state.Store(int32(Initialized))

	for _, port := range b.sourceNames {
		r, err := b.sources[port].Subscribe(bufSize)
		if err != nil {
			for _, sub := range b.readers {
				sub.Unsubscribe()
			}
			return fmt.Errorf("operator %q: subscribe %q: %w", b.name, port, err)
		}
		b.readers[port] = r
	}

	b.cancel()
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.stats.start(time.Now())
	b.state.Store(int32(Running))
	go b.loop()
	return nil
}

// Stop shuts the operator down: cancel its context, call OnStop to wake any
// wait inside Process, detach inputs and close outputs, wait for the run
// loop, then release the tokens of frames that were never processed.
func (b *Base) Stop() error {
	b.stopMu.Lock()
	defer b.stopMu.Unlock()

	switch b.State() {
	case Stopped:
		monitoring.Diagf("Stop() called on %s which was already stopped", b.name)
		return nil
	case Created:
		b.cancel()
		b.closeSinks()
		b.state.Store(int32(Stopped))
		close(b.done)
		return nil
	case Initialized:
		// Start failed after Init; the run loop never ran.
		b.cancel()
		err := b.proc.OnStop()
		b.closeSinks()
		b.state.Store(int32(Stopped))
		close(b.done)
		if err != nil {
			return fmt.Errorf("operator %q: stop: %w", b.name, err)
		}
		return nil
	}

	monitoring.Diagf("stopping %s", b.name)
	b.state.Store(int32(Stopping))
	b.cancel()
	err := b.proc.OnStop()

	for _, r := range b.readers {
		r.Unsubscribe()
	}
	b.closeSinks()
	<-b.done

	for port, f := range b.cache {
		if f != nil && f.ReleaseFlowControl() {
			monitoring.Diagf("%s: released token of cached frame on %s", b.name, port)
		}
		delete(b.cache, port)
	}
	b.state.Store(int32(Stopped))
	monitoring.Diagf("stopped %s", b.name)
	if err != nil {
		return fmt.Errorf("operator %q: stop: %w", b.name, err)
	}
	return nil
}

func (b *Base) closeSinks() {
	for _, s := range b.sinks {
		s.Close()
	}
}

func (b *Base) loop() {
	defer close(b.done)

	for b.ctx.Err() == nil && !b.foundLast {
		b.releaseCache()
		for _, port := range b.sourceNames {
			f := b.readers[port].PopFrame(popTimeout)
			if f == nil {
				continue
			}
			if f.IsStop() {
				b.forwardStop(f)
				return
			}
			if ts, ok := f.GetTime(frame.KeyCaptureTimeMicros); ok {
				b.stats.addQueueLatency(time.Since(ts))
			}
			b.cache[port] = f
		}

		// Operators with inputs only run when something arrived. Sources
		// such as cameras have no inputs and run every round.
		if len(b.sourceNames) > 0 && len(b.cache) == 0 {
			continue
		}

		b.processingStart = time.Now()
		b.proc.Process()
		b.stats.addProcessing(time.Since(b.processingStart))
		b.processingStart = time.Time{}
	}
	b.releaseCache()
}

// releaseCache drops frames Process did not consume, returning their tokens.
func (b *Base) releaseCache() {
	for port, f := range b.cache {
		if f != nil {
			f.ReleaseFlowControl()
		}
		delete(b.cache, port)
	}
}

func (b *Base) forwardStop(f *frame.Frame) {
	monitoring.Diagf("%s: stop frame received, forwarding to %d sinks", b.name, len(b.sinkNames))
	b.releaseCache()
	if fl, ok := b.proc.(Flusher); ok {
		fl.Flush()
	}
	for _, port := range b.sinkNames {
		b.PushFrame(port, f.Clone())
	}
	f.ReleaseFlowControl()
	b.foundLast = true
}

// GetFrame takes the frame cached for port this round. It returns nil when
// the port received nothing. Asking for a port the operator does not have is
// a programming error.
func (b *Base) GetFrame(port string) *frame.Frame {
	if _, ok := b.sources[port]; !ok {
		Invariantf("%q is not a valid source for operator %q", port, b.name)
	}
	f := b.cache[port]
	delete(b.cache, port)
	return f
}

// PushFrame hands f to the stream behind port. The caller must not touch f
// afterwards. Pushing a stop frame ends the run loop after this round.
func (b *Base) PushFrame(port string, f *frame.Frame) {
	s, ok := b.sinks[port]
	if !ok {
		Invariantf("operator %q does not have a sink named %q", b.name, port)
	}
	if !b.processingStart.IsZero() {
		f.SetDuration(b.name+".total_micros", time.Since(b.processingStart))
	}
	if f.IsStop() {
		b.foundLast = true
	}
	if err := s.Push(f); err != nil && !errors.Is(err, stream.ErrClosed) {
		monitoring.Opsf("%s: push to %s: %v", b.name, port, err)
	}
}

// MarkFinished ends the run loop after the current round without emitting a
// stop frame.
func (b *Base) MarkFinished() { b.foundLast = true }
