// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"context"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/operator"
	"github.com/banshee-data/camflow/internal/stream"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// NewFrame returns a frame with the id, camera and capture time set.
func NewFrame(id uint64, camera string) *frame.Frame {
	f := frame.New()
	f.SetUint64(frame.KeyFrameID, id)
	f.SetString(frame.KeyCameraName, camera)
	f.SetTime(frame.KeyCaptureTimeMicros, time.Now())
	return f
}

// SolidImage returns a w×h RGBA image filled with c.
func SolidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// TokenLedger is a frame.TokenIssuer that records every returned id.
type TokenLedger struct {
	mu       sync.Mutex
	returned []uint64
}

func (l *TokenLedger) ReturnToken(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.returned = append(l.returned, id)
}

// Returned lists the returned ids in order.
func (l *TokenLedger) Returned() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uint64(nil), l.returned...)
}

// Count returns how many tokens have been returned.
func (l *TokenLedger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.returned)
}

// Harness wires an operator between test-owned input streams and readers on
// each of its sinks.
type Harness struct {
	Op  operator.Operator
	In  map[string]*stream.Stream
	Out map[string]*stream.Reader
}

// Attach binds fresh input streams to every source of op and subscribes to
// every sink. The operator is stopped when the test ends.
func Attach(t *testing.T, op operator.Operator) *Harness {
	t.Helper()
	h := &Harness{
		Op:  op,
		In:  make(map[string]*stream.Stream),
		Out: make(map[string]*stream.Reader),
	}
	for _, port := range op.Sources() {
		s := stream.New("test:"+port, stream.PushDrop)
		if err := op.SetSource(port, s); err != nil {
			t.Fatalf("bind %s: %v", port, err)
		}
		h.In[port] = s
	}
	for _, port := range op.Sinks() {
		sink, err := op.Sink(port)
		if err != nil {
			t.Fatalf("sink %s: %v", port, err)
		}
		r, err := sink.Subscribe(64)
		if err != nil {
			t.Fatalf("subscribe %s: %v", port, err)
		}
		h.Out[port] = r
	}
	t.Cleanup(func() { _ = op.Stop() })
	return h
}

// Start starts the operator or fails the test.
func (h *Harness) Start(t *testing.T) {
	t.Helper()
	if err := h.Op.Start(context.Background(), 64); err != nil {
		t.Fatalf("start %s: %v", h.Op.Name(), err)
	}
}

// Push sends f into the named input.
func (h *Harness) Push(t *testing.T, port string, f *frame.Frame) {
	t.Helper()
	if err := h.In[port].Push(f); err != nil {
		t.Fatalf("push %s: %v", port, err)
	}
}

// Pop waits up to timeout for a frame on the named output.
func (h *Harness) Pop(port string, timeout time.Duration) *frame.Frame {
	return h.Out[port].PopFrame(timeout)
}

// Drain pops frames from port until none arrives within quiet.
func (h *Harness) Drain(port string, quiet time.Duration) []*frame.Frame {
	var out []*frame.Frame
	for {
		f := h.Out[port].PopFrame(quiet)
		if f == nil {
			return out
		}
		out = append(out, f)
	}
}

// Eventually polls cond until it holds or the timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}
