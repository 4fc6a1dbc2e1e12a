package frame

import (
	"encoding/json"
	"image"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingIssuer struct {
	returned []uint64
}

func (r *recordingIssuer) ReturnToken(id uint64) { r.returned = append(r.returned, id) }

func TestTypedFields(t *testing.T) {
	f := New()
	now := time.Now()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))

	f.SetUint64(KeyFrameID, 7)
	f.SetString(KeyCameraName, "cam0")
	f.SetTime(KeyCaptureTimeMicros, now)
	f.SetImage(KeyOriginalImage, img)
	f.SetStrings(KeyTags, []string{"person"})
	f.SetRects(KeyBoundingBoxes, []Rect{{PX: 1, PY: 2, Width: 3, Height: 4}})
	f.SetFloats(KeyConfidences, []float64{0.9})
	f.SetFeatures(KeyFeatures, [][]float64{{1, 0}})
	f.SetInt("count", 3)
	f.SetBool("flag", true)
	f.SetDuration("elapsed", time.Second)

	assert.Equal(t, uint64(7), f.ID())
	name, ok := f.GetString(KeyCameraName)
	require.True(t, ok)
	assert.Equal(t, "cam0", name)

	ts, ok := f.GetTime(KeyCaptureTimeMicros)
	require.True(t, ok)
	assert.True(t, ts.Equal(now))

	got, ok := f.GetImage(KeyOriginalImage)
	require.True(t, ok)
	assert.Equal(t, img.Bounds(), got.Bounds())

	feats, ok := f.GetFeatures(KeyFeatures)
	require.True(t, ok)
	if diff := cmp.Diff([][]float64{{1, 0}}, feats); diff != "" {
		t.Errorf("features mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, KindRects, f.Kind(KeyBoundingBoxes))
	assert.Equal(t, KindInvalid, f.Kind("missing"))
	assert.Equal(t, 11, f.Len())

	_, ok = f.GetInt("missing")
	assert.False(t, ok)

	f.Delete("count")
	assert.False(t, f.Has("count"))
}

func TestWrongKindPanics(t *testing.T) {
	f := New()
	f.SetString(KeyCameraName, "cam0")

	defer func() {
		r := recover()
		require.NotNil(t, r)
		ie, ok := r.(*InvariantError)
		require.True(t, ok, "expected *InvariantError, got %T", r)
		assert.Contains(t, ie.Error(), KeyCameraName)
	}()
	f.GetInt(KeyCameraName)
}

func TestOwnerLifecycle(t *testing.T) {
	issuer := &recordingIssuer{}
	f := New()
	f.SetUint64(KeyFrameID, 42)

	assert.False(t, f.ReleaseFlowControl(), "no owner yet")

	f.SetOwner(issuer)
	assert.Same(t, issuer, f.Owner())

	assert.True(t, f.ReleaseFlowControl())
	assert.Nil(t, f.Owner())
	assert.Equal(t, []uint64{42}, issuer.returned)

	assert.False(t, f.ReleaseFlowControl(), "token already returned")
	assert.Len(t, issuer.returned, 1)
}

func TestSecondOwnerPanics(t *testing.T) {
	f := New()
	f.SetOwner(&recordingIssuer{})
	assert.Panics(t, func() { f.SetOwner(&recordingIssuer{}) })
}

func TestCloneDropsOwner(t *testing.T) {
	f := New()
	f.SetUint64(KeyFrameID, 1)
	f.SetString(KeyCameraName, "cam0")
	f.SetBytes("jpeg", []byte{1, 2, 3})
	f.SetOwner(&recordingIssuer{})

	c := f.Clone()
	assert.Nil(t, c.Owner())
	assert.Equal(t, f.Keys(), c.Keys())

	// byte payloads are not shared
	b, _ := c.GetBytes("jpeg")
	b[0] = 9
	orig, _ := f.GetBytes("jpeg")
	assert.Equal(t, byte(1), orig[0])

	sub := f.Clone(KeyFrameID)
	assert.Equal(t, []string{KeyFrameID}, sub.Keys())
}

func TestStopFrame(t *testing.T) {
	assert.True(t, NewStop().IsStop())
	assert.False(t, New().IsStop())
	assert.True(t, NewStop().Clone().IsStop())
}

func TestSizeBytes(t *testing.T) {
	f := New()
	f.SetImage(KeyImage, image.NewRGBA(image.Rect(0, 0, 10, 10)))
	f.SetString(KeyCameraName, "abcd")

	n, err := f.SizeBytes()
	require.NoError(t, err)
	assert.Equal(t, 404, n)

	n, err = f.SizeBytes(KeyCameraName)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = f.SizeBytes("nope")
	assert.Error(t, err)
}

func TestJSONMap(t *testing.T) {
	f := New()
	f.SetUint64(KeyFrameID, 3)
	f.SetImage(KeyImage, image.NewGray(image.Rect(0, 0, 2, 5)))
	f.SetRects(KeyBoundingBoxes, []Rect{{PX: 1, PY: 1, Width: 2, Height: 2}})

	data, err := json.Marshal(f)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(3), decoded[KeyFrameID])
	assert.Equal(t, map[string]any{"width": float64(2), "height": float64(5)}, decoded[KeyImage])

	sub := f.JSONMap(KeyFrameID, "absent")
	assert.Len(t, sub, 1)
}

func TestRectConversions(t *testing.T) {
	r := RectFrom(image.Rect(2, 3, 12, 8))
	assert.Equal(t, Rect{PX: 2, PY: 3, Width: 10, Height: 5}, r)
	assert.Equal(t, image.Rect(2, 3, 12, 8), r.Bounds())
	assert.True(t, Rect{}.Empty())
}
