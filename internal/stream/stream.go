// Package stream implements the bounded multi-reader channel of frames that
// connects pipeline operators.
//
// Every reader owns its own queue and cursor, so a slow reader never starves
// a fast one. A reader only sees frames pushed after it subscribed.
package stream

import (
	"errors"
	"sync"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/monitoring"
)

// DefaultBufferSize is the per-reader queue depth used when none is given.
const DefaultBufferSize = 16

// ErrClosed is returned when pushing to or subscribing on a closed stream.
var ErrClosed = errors.New("stream: closed")

// PushPolicy decides what a producer does when a reader queue is full.
type PushPolicy int

const (
	// PushDrop discards the frame for the full reader and returns its token.
	PushDrop PushPolicy = iota
	// PushBlock waits until the reader has room, unsubscribes, or the stream
	// closes.
	PushBlock
)

func (p PushPolicy) String() string {
	if p == PushBlock {
		return "block"
	}
	return "drop"
}

// ParsePushPolicy converts "drop" or "block" into a PushPolicy. Anything
// else yields PushDrop.
func ParsePushPolicy(s string) PushPolicy {
	if s == "block" {
		return PushBlock
	}
	return PushDrop
}

// Stream is an ordered multi-reader stream of frames.
type Stream struct {
	name   string
	policy PushPolicy

	mu      sync.Mutex
	readers []*Reader

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a stream with the given push policy.
func New(name string, policy PushPolicy) *Stream {
	return &Stream{
		name:   name,
		policy: policy,
		closed: make(chan struct{}),
	}
}

// Name returns the stream name, usually "<operator>:<sink>".
func (s *Stream) Name() string { return s.name }

// Policy returns the stream's push policy.
func (s *Stream) Policy() PushPolicy { return s.policy }

// Subscribe registers a new reader whose queue holds at most bufSize frames.
// A non-positive bufSize selects DefaultBufferSize.
func (s *Stream) Subscribe(bufSize int) (*Reader, error) {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed() {
		return nil, ErrClosed
	}
	r := newReader(s, bufSize)
	s.readers = append(s.readers, r)
	return r, nil
}

func (s *Stream) remove(r *Reader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.readers {
		if cur == r {
			s.readers = append(s.readers[:i], s.readers[i+1:]...)
			return
		}
	}
}

// Readers returns a snapshot of the current readers.
func (s *Stream) Readers() []*Reader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Reader(nil), s.readers...)
}

// Push delivers f to every reader. Ownership of f passes to the stream: the
// first reader receives f itself and the others receive clones without the
// flow-control owner, so only one copy can ever return the token.
//
// With no readers the frame is dropped and its token returned. Push returns
// ErrClosed if the stream was closed.
func (s *Stream) Push(f *frame.Frame) error {
	if s.isClosed() {
		f.ReleaseFlowControl()
		return ErrClosed
	}
	readers := s.Readers()
	if len(readers) == 0 {
		if monitoring.TraceEnabled() {
			monitoring.Tracef("stream %s: no readers, dropping frame %d", s.name, f.ID())
		}
		f.ReleaseFlowControl()
		return nil
	}
	for i, r := range readers {
		out := f
		if i > 0 {
			out = f.Clone()
		}
		r.push(out, s.policy == PushBlock)
	}
	return nil
}

// Close stops the stream. Readers drain what is already queued and then
// observe end of stream; blocked producers are released.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Closed returns a channel that is closed once Close has been called.
func (s *Stream) Closed() <-chan struct{} { return s.closed }

func (s *Stream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
