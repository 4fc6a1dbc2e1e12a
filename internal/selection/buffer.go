package selection

import (
	"sync"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/operator"
)

// Buffer delays the stream by a fixed number of frames. Once full, each
// arriving frame releases the oldest one.
type Buffer struct {
	*operator.Base

	depth int

	mu     sync.Mutex
	frames []*frame.Frame
}

// NewBuffer creates a buffer holding depth frames.
func NewBuffer(name string, depth int) (*Buffer, error) {
	if err := positive("num_frames", depth); err != nil {
		return nil, err
	}
	b := &Buffer{depth: depth, frames: make([]*frame.Frame, 0, depth)}
	b.Base = operator.NewBase(name, BufferType, []string{sourceName}, []string{sinkName}, b)
	return b, nil
}

func (b *Buffer) Init() error { return nil }

func (b *Buffer) Process() {
	f := b.GetFrame(sourceName)
	if f == nil {
		return
	}
	b.mu.Lock()
	if b.Context().Err() != nil {
		b.mu.Unlock()
		f.ReleaseFlowControl()
		return
	}
	var out *frame.Frame
	if len(b.frames) == b.depth {
		out = b.frames[0]
		copy(b.frames, b.frames[1:])
		b.frames = b.frames[:b.depth-1]
	}
	b.frames = append(b.frames, f)
	b.mu.Unlock()

	if out != nil {
		b.PushFrame(sinkName, out)
	}
}

// Flush forwards everything still buffered, oldest first.
func (b *Buffer) Flush() {
	b.mu.Lock()
	held := b.frames
	b.frames = nil
	b.mu.Unlock()
	for _, f := range held {
		b.PushFrame(sinkName, f)
	}
}

// Len returns the number of buffered frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// OnStop discards buffered frames, returning their tokens.
func (b *Buffer) OnStop() error {
	b.mu.Lock()
	held := b.frames
	b.frames = nil
	b.mu.Unlock()
	for _, f := range held {
		f.ReleaseFlowControl()
	}
	return nil
}
