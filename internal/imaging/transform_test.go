package imaging

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xdraw "golang.org/x/image/draw"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/operator"
	"github.com/banshee-data/camflow/internal/testutil"
)

func TestCenterCrop(t *testing.T) {
	tests := []struct {
		name string
		in   image.Rectangle
		w, h int
		want image.Rectangle
	}{
		{"wide to square", image.Rect(0, 0, 200, 100), 1, 1, image.Rect(50, 0, 150, 100)},
		{"tall to square", image.Rect(0, 0, 100, 300), 1, 1, image.Rect(0, 100, 100, 200)},
		{"same aspect", image.Rect(0, 0, 160, 90), 16, 9, image.Rect(0, 0, 160, 90)},
		{"offset origin", image.Rect(10, 10, 110, 60), 1, 1, image.Rect(35, 10, 85, 60)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CenterCrop(tt.in, tt.w, tt.h))
		})
	}
}

func TestRotate(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 2))
	img.SetGray(0, 0, color.Gray{Y: 200})

	r90 := Rotate(img, 90)
	assert.Equal(t, image.Rect(0, 0, 2, 3), r90.Bounds())
	assert.Equal(t, color.Gray{Y: 200}, r90.At(1, 0))

	r180 := Rotate(img, 180)
	assert.Equal(t, color.Gray{Y: 200}, r180.At(2, 1))

	r270 := Rotate(img, 270)
	assert.Equal(t, color.Gray{Y: 200}, r270.At(0, 2))

	assert.Same(t, img, Rotate(img, 0))
}

func TestTransform(t *testing.T) {
	src := testutil.SolidImage(200, 100, color.RGBA{R: 10, G: 200, B: 30, A: 255})

	out := Transform(src, Config{Width: 20, Height: 20, Channels: 3, Crop: true}, xdraw.BiLinear)
	assert.Equal(t, image.Rect(0, 0, 20, 20), out.Bounds())
	assert.Equal(t, color.RGBA{R: 10, G: 200, B: 30, A: 255}, out.At(10, 10))

	gray := Transform(src, Config{Width: 40, Height: 10, Channels: 1, Angle: 90}, xdraw.NearestNeighbor)
	assert.IsType(t, &image.Gray{}, gray)
	assert.Equal(t, image.Rect(0, 0, 10, 40), gray.Bounds())
}

func TestImageTransformerOperator(t *testing.T) {
	tr, err := New("xform", Config{Width: 16, Height: 8, Channels: 3, Crop: true})
	require.NoError(t, err)
	h := testutil.Attach(t, tr)
	h.Start(t)

	f := testutil.NewFrame(1, "cam0")
	f.SetImage(frame.KeyOriginalImage, testutil.SolidImage(64, 64, color.White))
	h.Push(t, "input", f)
	out := h.Pop("output", time.Second)
	require.NotNil(t, out)
	img, ok := out.GetImage(frame.KeyImage)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 16, 8), img.Bounds())
	orig, _ := out.GetImage(frame.KeyOriginalImage)
	assert.Equal(t, 64, orig.Bounds().Dx(), "original untouched")
}

func TestRegister(t *testing.T) {
	reg := operator.NewRegistry()
	Register(reg)
	_, err := reg.Create(ImageTransformerType, "x", operator.Params{"width": "300", "height": "300"}, operator.Deps{})
	assert.NoError(t, err)
	_, err = reg.Create(ImageTransformerType, "x", operator.Params{"width": "300"}, operator.Deps{})
	assert.ErrorIs(t, err, operator.ErrMissingParam)
	_, err = reg.Create(ImageTransformerType, "x", operator.Params{"width": "3", "height": "3", "angle": "45"}, operator.Deps{})
	assert.Error(t, err)
	_, err = reg.Create(ImageTransformerType, "x", operator.Params{"width": "3", "height": "3", "channels": "4"}, operator.Deps{})
	assert.Error(t, err)
}
