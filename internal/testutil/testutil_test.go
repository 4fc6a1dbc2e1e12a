package testutil

import (
	"image/color"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/operator"
)

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
}

func TestNewTestRequest(t *testing.T) {
	t.Parallel()
	req := NewTestRequest(http.MethodGet, "/debug/pipeline")
	assert.Equal(t, "/debug/pipeline", req.URL.Path)
	assert.Equal(t, http.StatusOK, NewTestRecorder().Code)
}

func TestNewFrame(t *testing.T) {
	t.Parallel()
	f := NewFrame(5, "cam1")
	assert.Equal(t, uint64(5), f.ID())
	name, ok := f.GetString(frame.KeyCameraName)
	require.True(t, ok)
	assert.Equal(t, "cam1", name)
	assert.True(t, f.Has(frame.KeyCaptureTimeMicros))
}

func TestSolidImage(t *testing.T) {
	t.Parallel()
	img := SolidImage(3, 2, color.RGBA{R: 255, A: 255})
	assert.Equal(t, 3, img.Bounds().Dx())
	r, _, _, _ := img.At(2, 1).RGBA()
	assert.Equal(t, uint32(0xffff), r)
}

func TestTokenLedger(t *testing.T) {
	t.Parallel()
	var l TokenLedger
	l.ReturnToken(1)
	l.ReturnToken(4)
	assert.Equal(t, []uint64{1, 4}, l.Returned())
	assert.Equal(t, 2, l.Count())
}

type echo struct{ *operator.Base }

func (e *echo) Init() error   { return nil }
func (e *echo) OnStop() error { return nil }
func (e *echo) Process() {
	if f := e.GetFrame("input"); f != nil {
		e.PushFrame("output", f)
	}
}

func TestHarness(t *testing.T) {
	t.Parallel()
	e := &echo{}
	e.Base = operator.NewBase("echo", "Echo", []string{"input"}, []string{"output"}, e)

	h := Attach(t, e)
	h.Start(t)
	h.Push(t, "input", NewFrame(1, "cam"))
	h.Push(t, "input", NewFrame(2, "cam"))

	got := h.Drain("output", 50*time.Millisecond)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[1].ID())

	Eventually(t, time.Second, func() bool { return e.Stats().FramesProcessed == 2 }, "two frames processed")
}
