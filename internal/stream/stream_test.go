package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/camflow/internal/frame"
)

type countingIssuer struct {
	mu       sync.Mutex
	returned []uint64
}

func (c *countingIssuer) ReturnToken(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.returned = append(c.returned, id)
}

func (c *countingIssuer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.returned)
}

func newFrame(id uint64) *frame.Frame {
	f := frame.New()
	f.SetUint64(frame.KeyFrameID, id)
	return f
}

func TestPushPopOrder(t *testing.T) {
	s := New("test", PushDrop)
	r, err := s.Subscribe(8)
	require.NoError(t, err)

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, s.Push(newFrame(i)))
	}
	for i := uint64(1); i <= 5; i++ {
		f := r.PopFrame(time.Second)
		require.NotNil(t, f)
		assert.Equal(t, i, f.ID())
	}
	assert.Nil(t, r.PopFrame(10*time.Millisecond), "empty queue times out")

	st := r.Stats()
	assert.Equal(t, uint64(5), st.Pushed)
	assert.Equal(t, uint64(5), st.Popped)
}

func TestSubscribeSeesOnlyLaterFrames(t *testing.T) {
	s := New("test", PushDrop)
	early, err := s.Subscribe(4)
	require.NoError(t, err)

	require.NoError(t, s.Push(newFrame(1)))
	late, err := s.Subscribe(4)
	require.NoError(t, err)
	require.NoError(t, s.Push(newFrame(2)))

	assert.Equal(t, uint64(1), early.PopFrame(time.Second).ID())
	assert.Equal(t, uint64(2), early.PopFrame(time.Second).ID())
	assert.Equal(t, uint64(2), late.PopFrame(time.Second).ID())
	assert.Nil(t, late.PopFrame(5*time.Millisecond))
}

func TestFanOutSingleOwner(t *testing.T) {
	s := New("test", PushDrop)
	a, _ := s.Subscribe(4)
	b, _ := s.Subscribe(4)
	issuer := &countingIssuer{}

	f := newFrame(9)
	f.SetOwner(issuer)
	require.NoError(t, s.Push(f))

	fa := a.PopFrame(time.Second)
	fb := b.PopFrame(time.Second)
	require.NotNil(t, fa)
	require.NotNil(t, fb)
	assert.NotNil(t, fa.Owner(), "first reader holds the original")
	assert.Nil(t, fb.Owner(), "other readers receive unowned clones")
	assert.Equal(t, fa.ID(), fb.ID())
}

func TestIndependentReaders(t *testing.T) {
	s := New("test", PushDrop)
	fast, _ := s.Subscribe(2)
	slow, _ := s.Subscribe(2)

	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, s.Push(newFrame(i)))
		require.NotNil(t, fast.PopFrame(time.Second))
	}
	// slow never popped: its queue kept the first two and dropped the rest
	assert.Equal(t, uint64(2), slow.Stats().Dropped)
	assert.Equal(t, uint64(0), fast.Stats().Dropped)
	assert.Equal(t, uint64(1), slow.PopFrame(time.Second).ID())
	assert.Equal(t, uint64(2), slow.PopFrame(time.Second).ID())
}

func TestDropReturnsToken(t *testing.T) {
	s := New("test", PushDrop)
	_, _ = s.Subscribe(1)
	issuer := &countingIssuer{}

	first := newFrame(1)
	first.SetOwner(issuer)
	second := newFrame(2)
	second.SetOwner(issuer)

	require.NoError(t, s.Push(first))
	require.NoError(t, s.Push(second))
	assert.Equal(t, []uint64{2}, issuer.returned)
}

func TestNoReadersReleasesToken(t *testing.T) {
	s := New("test", PushDrop)
	issuer := &countingIssuer{}
	f := newFrame(3)
	f.SetOwner(issuer)
	require.NoError(t, s.Push(f))
	assert.Equal(t, 1, issuer.count())
}

func TestUnsubscribeDropsQueuedFrames(t *testing.T) {
	s := New("test", PushDrop)
	r, _ := s.Subscribe(4)
	issuer := &countingIssuer{}
	for i := uint64(1); i <= 3; i++ {
		f := newFrame(i)
		f.SetOwner(issuer)
		require.NoError(t, s.Push(f))
	}

	r.Unsubscribe()
	assert.Equal(t, 3, issuer.count())
	assert.Nil(t, r.PopFrame(time.Millisecond))
	assert.Empty(t, s.Readers())

	// pushes after unsubscribe go nowhere and leak nothing
	f := newFrame(4)
	f.SetOwner(issuer)
	require.NoError(t, s.Push(f))
	assert.Equal(t, 4, issuer.count())
}

func TestCloseDrainsThenEnds(t *testing.T) {
	s := New("test", PushDrop)
	r, _ := s.Subscribe(4)
	require.NoError(t, s.Push(newFrame(1)))
	require.NoError(t, s.Push(newFrame(2)))
	s.Close()

	assert.Equal(t, uint64(1), r.PopFrame(time.Second).ID())
	assert.Equal(t, uint64(2), r.PopFrame(time.Second).ID())
	assert.Nil(t, r.PopFrame(time.Second))

	assert.ErrorIs(t, s.Push(newFrame(3)), ErrClosed)
	_, err := s.Subscribe(1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseWakesBlockedPop(t *testing.T) {
	s := New("test", PushDrop)
	r, _ := s.Subscribe(1)

	got := make(chan *frame.Frame, 1)
	go func() { got <- r.PopFrame(0) }()

	time.Sleep(10 * time.Millisecond)
	s.Close()

	select {
	case f := <-got:
		assert.Nil(t, f)
	case <-time.After(time.Second):
		t.Fatal("PopFrame did not return after Close")
	}
}

func TestBlockingPush(t *testing.T) {
	s := New("test", PushBlock)
	r, _ := s.Subscribe(1)
	require.NoError(t, s.Push(newFrame(1)))

	pushed := make(chan struct{})
	go func() {
		_ = s.Push(newFrame(2))
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("push should block while the queue is full")
	case <-time.After(20 * time.Millisecond):
	}

	assert.Equal(t, uint64(1), r.PopFrame(time.Second).ID())
	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("push did not resume after pop")
	}
	assert.Equal(t, uint64(2), r.PopFrame(time.Second).ID())
}

func TestBlockingPushReleasedByUnsubscribe(t *testing.T) {
	s := New("test", PushBlock)
	r, _ := s.Subscribe(1)
	require.NoError(t, s.Push(newFrame(1)))

	issuer := &countingIssuer{}
	f := newFrame(2)
	f.SetOwner(issuer)

	done := make(chan struct{})
	go func() {
		_ = s.Push(f)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	r.Unsubscribe()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked push not released")
	}
	assert.Equal(t, 1, issuer.count())
}

func TestParsePushPolicy(t *testing.T) {
	assert.Equal(t, PushBlock, ParsePushPolicy("block"))
	assert.Equal(t, PushDrop, ParsePushPolicy("drop"))
	assert.Equal(t, PushDrop, ParsePushPolicy(""))
	assert.Equal(t, "block", PushBlock.String())
}
