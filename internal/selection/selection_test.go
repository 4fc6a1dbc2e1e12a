package selection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/operator"
	"github.com/banshee-data/camflow/internal/testutil"
	"github.com/banshee-data/camflow/internal/timeutil"
)

const quiet = 60 * time.Millisecond

func ownedFrame(id uint64, ledger *testutil.TokenLedger) *frame.Frame {
	f := testutil.NewFrame(id, "cam")
	f.SetOwner(ledger)
	return f
}

func ids(frames []*frame.Frame) []uint64 {
	out := make([]uint64, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.ID())
	}
	return out
}

func TestStrider(t *testing.T) {
	s, err := NewStrider("strider", 3)
	require.NoError(t, err)
	h := testutil.Attach(t, s)
	h.Start(t)

	ledger := &testutil.TokenLedger{}
	for i := uint64(0); i < 9; i++ {
		h.Push(t, "input", ownedFrame(100+i, ledger))
	}

	got := h.Drain("output", quiet)
	assert.Equal(t, []uint64{100, 103, 106}, ids(got))
	assert.Equal(t, []uint64{101, 102, 104, 105, 107, 108}, ledger.Returned(), "each drop returns its token")
}

func TestStriderValidation(t *testing.T) {
	_, err := NewStrider("s", 0)
	assert.Error(t, err)
}

func TestThrottlerDropsFastFrames(t *testing.T) {
	th, err := NewThrottler("throttle", 10)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, th.Delay())

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	th.clock = clock

	h := testutil.Attach(t, th)
	h.Start(t)
	ledger := &testutil.TokenLedger{}

	// Each push is followed by a pop or quiet wait so that Process has
	// read the clock before it moves.
	h.Push(t, "input", ownedFrame(1, ledger))
	require.NotNil(t, h.Pop("output", time.Second))

	h.Push(t, "input", ownedFrame(2, ledger)) // +0ms: dropped
	assert.Nil(t, h.Pop("output", quiet))

	clock.Advance(100 * time.Millisecond)
	h.Push(t, "input", ownedFrame(3, ledger))
	require.NotNil(t, h.Pop("output", time.Second))

	testutil.Eventually(t, time.Second, func() bool { return ledger.Count() == 1 }, "token of dropped frame returned")
}

func TestThrottlerTimerRestartsOnlyOnForward(t *testing.T) {
	th, err := NewThrottler("throttle", 10)
	require.NoError(t, err)

	base := time.Unix(0, 0)
	step := func(at time.Duration) bool { return th.admit(base.Add(at)) }

	assert.True(t, step(0), "first frame forwarded")
	assert.False(t, step(60*time.Millisecond), "too soon")
	assert.False(t, step(90*time.Millisecond), "still measured from the last forward")
	assert.True(t, step(100*time.Millisecond), "delay elapsed since the first frame")
	assert.False(t, step(150*time.Millisecond))
	assert.True(t, step(200*time.Millisecond))
}

func TestThrottlerZeroDisables(t *testing.T) {
	th, err := NewThrottler("throttle", 0)
	require.NoError(t, err)
	assert.Zero(t, th.Delay())

	h := testutil.Attach(t, th)
	h.Start(t)
	for i := uint64(1); i <= 5; i++ {
		h.Push(t, "input", testutil.NewFrame(i, "cam"))
	}
	assert.Len(t, h.Drain("output", quiet), 5)

	_, err = NewThrottler("throttle", -1)
	assert.Error(t, err)
}

func TestTemporalRegionSelector(t *testing.T) {
	s, err := NewTemporalRegionSelector("trs", 10, 20)
	require.NoError(t, err)
	h := testutil.Attach(t, s)
	h.Start(t)
	ledger := &testutil.TokenLedger{}

	for _, id := range []uint64{5, 15, 20, 21, 22} {
		h.Push(t, "input", ownedFrame(id, ledger))
	}

	got := h.Drain("output", quiet)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(15), got[0].ID())
	assert.Equal(t, uint64(20), got[1].ID())
	assert.True(t, got[2].IsStop(), "frame past end becomes a stop frame")

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("selector kept running after emitting stop")
	}
	assert.Contains(t, ledger.Returned(), uint64(5))
	assert.Contains(t, ledger.Returned(), uint64(21))
}

func TestTemporalRegionSelectorValidation(t *testing.T) {
	_, err := NewTemporalRegionSelector("trs", 20, 10)
	assert.Error(t, err)
	_, err = NewTemporalRegionSelector("trs", 10, 10)
	assert.NoError(t, err)
}

func TestBufferDelaysAndFlushes(t *testing.T) {
	b, err := NewBuffer("buf", 2)
	require.NoError(t, err)
	h := testutil.Attach(t, b)
	h.Start(t)

	for i := uint64(1); i <= 4; i++ {
		h.Push(t, "input", testutil.NewFrame(i, "cam"))
	}
	assert.Equal(t, []uint64{1, 2}, ids(h.Drain("output", quiet)))
	assert.Equal(t, 2, b.Len())

	h.Push(t, "input", frame.NewStop())
	got := h.Drain("output", quiet)
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{3, 4}, ids(got[:2]))
	assert.True(t, got[2].IsStop())
}

func TestBufferStopReleasesTokens(t *testing.T) {
	b, err := NewBuffer("buf", 3)
	require.NoError(t, err)
	h := testutil.Attach(t, b)
	h.Start(t)
	ledger := &testutil.TokenLedger{}

	h.Push(t, "input", ownedFrame(1, ledger))
	h.Push(t, "input", ownedFrame(2, ledger))
	testutil.Eventually(t, time.Second, func() bool { return b.Len() == 2 }, "frames buffered")

	require.NoError(t, b.Stop())
	assert.ElementsMatch(t, []uint64{1, 2}, ledger.Returned())
}

func TestRegister(t *testing.T) {
	reg := operator.NewRegistry()
	Register(reg)
	assert.Equal(t, []string{BufferType, StriderType, TemporalRegionSelectorType, ThrottlerType}, reg.Types())

	tests := []struct {
		typ    string
		params operator.Params
		ok     bool
	}{
		{StriderType, operator.Params{"stride": "2"}, true},
		{StriderType, operator.Params{}, false},
		{StriderType, operator.Params{"stride": "x"}, false},
		{ThrottlerType, operator.Params{"fps": "15"}, true},
		{ThrottlerType, operator.Params{}, true},
		{TemporalRegionSelectorType, operator.Params{"start_id": "1", "end_id": "5"}, true},
		{TemporalRegionSelectorType, operator.Params{"start_id": "1"}, false},
		{TemporalRegionSelectorType, operator.Params{"start_id": "9", "end_id": "5"}, false},
		{BufferType, operator.Params{"num_frames": "4"}, true},
		{BufferType, operator.Params{"num_frames": "0"}, false},
	}
	for _, tt := range tests {
		_, err := reg.Create(tt.typ, "op", tt.params, operator.Deps{})
		if tt.ok {
			assert.NoError(t, err, "%s %v", tt.typ, tt.params)
		} else {
			assert.Error(t, err, "%s %v", tt.typ, tt.params)
		}
	}
}
