package camera

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/httputil"
	"github.com/banshee-data/camflow/internal/operator"
	"github.com/banshee-data/camflow/internal/testutil"
	"github.com/banshee-data/camflow/internal/timeutil"
)

func TestSyntheticIsDeterministic(t *testing.T) {
	s := &Synthetic{Width: 40, Height: 20}
	a, err := s.Next(3)
	require.NoError(t, err)
	b, _ := s.Next(3)
	c, _ := s.Next(4)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, image.Rect(0, 0, 40, 20), a.Bounds())
}

func writePNG(t *testing.T, dir, name string, w, h int) {
	t.Helper()
	fh, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	defer fh.Close()
	require.NoError(t, png.Encode(fh, testutil.SolidImage(w, h, color.White)))
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "b.png", 4, 4)
	writePNG(t, dir, "a.png", 8, 8)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	d, err := OpenDir(dir, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.png"}, d.Files)

	img, err := d.Next(0)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	_, err = d.Next(2)
	assert.ErrorIs(t, err, io.EOF)

	d.Loop = true
	img, err = d.Next(3)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())

	_, err = OpenDir(t.TempDir(), false)
	assert.Error(t, err)
}

func TestParseSource(t *testing.T) {
	_, err := ParseSource("synthetic", 10, 10, false)
	assert.NoError(t, err)
	_, err = ParseSource("synthetic", 0, 10, false)
	assert.Error(t, err)
	_, err = ParseSource("rtsp://cam", 10, 10, false)
	assert.Error(t, err)
	src, err := ParseSource("http://cam.local/snapshot.jpg", 10, 10, false)
	require.NoError(t, err)
	assert.IsType(t, &Snapshot{}, src)
}

func TestSnapshotSource(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 6, 4))))
	client := httputil.NewMockHTTPClient(
		httputil.MockResponse{StatusCode: http.StatusOK, ContentType: "image/png", Body: buf.Bytes()},
		httputil.MockResponse{StatusCode: http.StatusOK, Body: []byte("not an image")},
	)
	src := &Snapshot{URL: "http://cam.local/snapshot.png", Client: client}

	img, err := src.Next(0)
	require.NoError(t, err)
	assert.Equal(t, 6, img.Bounds().Dx())

	_, err = src.Next(1)
	assert.ErrorContains(t, err, "decode snapshot")
	_, err = src.Next(2)
	assert.Error(t, err, "404 once the camera stops answering")
	assert.Equal(t, []string{
		"http://cam.local/snapshot.png",
		"http://cam.local/snapshot.png",
		"http://cam.local/snapshot.png",
	}, client.Requests())
}

func TestCameraEmitsThenStops(t *testing.T) {
	c, err := New("cam", Config{Name: "lobby", Width: 32, Height: 16, MaxFrames: 3}, &Synthetic{Width: 32, Height: 16})
	require.NoError(t, err)
	h := testutil.Attach(t, c)
	h.Start(t)

	got := h.Drain("output", 100*time.Millisecond)
	require.Len(t, got, 4)
	for i, f := range got[:3] {
		assert.Equal(t, uint64(i), f.ID())
		name, _ := f.GetString(frame.KeyCameraName)
		assert.Equal(t, "lobby", name)
		session, _ := f.GetString(KeySession)
		assert.Equal(t, c.Session(), session)
		assert.True(t, f.Has(frame.KeyOriginalImage))
		assert.True(t, f.Has(frame.KeyCaptureTimeMicros))
	}
	assert.True(t, got[3].IsStop())

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("run loop did not end after the stop frame")
	}
	assert.Equal(t, uint64(3), c.Frames())
}

func TestCameraPacesToFPS(t *testing.T) {
	c, err := New("cam", Config{FPS: 50, MaxFrames: 4}, &Synthetic{Width: 8, Height: 8})
	require.NoError(t, err)
	h := testutil.Attach(t, c)
	start := time.Now()
	h.Start(t)

	<-c.Done()
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond, "three 20ms gaps")
	assert.Len(t, h.Drain("output", 20*time.Millisecond), 5)
}

func TestCameraPacesOnClock(t *testing.T) {
	c, err := New("cam", Config{FPS: 10, MaxFrames: 2}, &Synthetic{Width: 8, Height: 8})
	require.NoError(t, err)
	t0 := time.Date(2026, 5, 4, 13, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(t0)
	c.clock = clock
	h := testutil.Attach(t, c)
	h.Start(t)

	first := h.Pop("output", time.Second)
	require.NotNil(t, first)
	testutil.Eventually(t, time.Second, func() bool { return clock.Pending() == 1 }, "camera waits on the frame interval")
	assert.Nil(t, h.Pop("output", 30*time.Millisecond))

	clock.Advance(100 * time.Millisecond)
	second := h.Pop("output", time.Second)
	require.NotNil(t, second)
	at0, _ := first.GetTime(frame.KeyCaptureTimeMicros)
	at1, _ := second.GetTime(frame.KeyCaptureTimeMicros)
	assert.Equal(t, 100*time.Millisecond, at1.Sub(at0))
}

func TestRegister(t *testing.T) {
	reg := operator.NewRegistry()
	Register(reg)

	op, err := reg.Create(CameraType, "cam0", operator.Params{"fps": "15", "width": "64", "height": "48"}, operator.Deps{})
	require.NoError(t, err)
	c := op.(*Camera)
	assert.Equal(t, "cam0", c.cfg.Name)
	assert.Empty(t, c.Sources())
	assert.Equal(t, []string{"output"}, c.Sinks())

	_, err = reg.Create(CameraType, "cam0", operator.Params{"source": "dir:/does/not/exist"}, operator.Deps{})
	assert.Error(t, err)
	_, err = reg.Create(CameraType, "cam0", operator.Params{"fps": "-1"}, operator.Deps{})
	assert.Error(t, err)
}
