package preprocess

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/nvr-ai/go-facemask/images"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createBandedImage returns a width x height frame whose left and right
// quarters are red and blue, with a green center.
func createBandedImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.RGBA{G: 255, A: 255}
			switch {
			case x < width/4:
				c = color.RGBA{R: 255, A: 255}
			case x >= width-width/4:
				c = color.RGBA{B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func createUniformImage(width, height int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func newFaceMaskPreprocessor(t testing.TB, order ChannelOrder) *Preprocessor {
	t.Helper()
	p, err := NewPreprocessor(FaceMaskConfig(260, order))
	require.NoError(t, err)
	return p
}

func TestPreprocess_FaceMaskShapes(t *testing.T) {
	tests := []struct {
		name     string
		order    ChannelOrder
		expected []int64
	}{
		{"tflite layout", ChannelOrderHWC, []int64{1, 260, 260, 3}},
		{"onnx layout", ChannelOrderCHW, []int64{1, 3, 260, 260}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFaceMaskPreprocessor(t, tt.order)

			result, err := p.Preprocess(createBandedImage(640, 480))
			require.NoError(t, err)

			assert.Equal(t, tt.expected, result.Shape)
			assert.Len(t, result.Data, 260*260*3)
			assert.Equal(t, 640, result.OriginalWidth)
			assert.Equal(t, 480, result.OriginalHeight)
			assert.Equal(t, image.Rect(80, 0, 560, 480), result.Region)
			assert.Equal(t, image.Rect(0, 0, 260, 260), result.Content)

			for _, v := range result.Data {
				require.True(t, v >= 0 && v <= 1, "value %f out of [0, 1]", v)
			}
		})
	}
}

func TestPreprocess_ChannelLayout(t *testing.T) {
	red := createUniformImage(300, 300, color.RGBA{R: 255, G: 0, B: 51, A: 255})

	hwc, err := newFaceMaskPreprocessor(t, ChannelOrderHWC).Preprocess(red)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, hwc.Data[0], 1e-3)
	assert.InDelta(t, 0.0, hwc.Data[1], 1e-3)
	assert.InDelta(t, 0.2, hwc.Data[2], 1e-3)

	chw, err := newFaceMaskPreprocessor(t, ChannelOrderCHW).Preprocess(red)
	require.NoError(t, err)
	plane := 260 * 260
	assert.InDelta(t, 1.0, chw.Data[0], 1e-3)
	assert.InDelta(t, 0.0, chw.Data[plane], 1e-3)
	assert.InDelta(t, 0.2, chw.Data[2*plane], 1e-3)
}

func TestPreprocess_BGR(t *testing.T) {
	cfg := FaceMaskConfig(260, ChannelOrderHWC)
	cfg.ColorMode = ColorModeBGR
	p, err := NewPreprocessor(cfg)
	require.NoError(t, err)

	result, err := p.Preprocess(createUniformImage(260, 260, color.RGBA{R: 255, A: 255}))
	require.NoError(t, err)
	assert.InDelta(t, 0.0, result.Data[0], 1e-6)
	assert.InDelta(t, 1.0, result.Data[2], 1e-6)
}

func TestPreprocess_CenterCropDropsSides(t *testing.T) {
	result, err := newFaceMaskPreprocessor(t, ChannelOrderHWC).Preprocess(createBandedImage(640, 320))
	require.NoError(t, err)

	// The crop keeps x in [160, 480), exactly the green band.
	for _, x := range []int{0, 130, 259} {
		i := (130*260 + x) * 3
		assert.InDelta(t, 0.0, result.Data[i], 0.02, "red at x=%d", x)
		assert.InDelta(t, 1.0, result.Data[i+1], 0.02, "green at x=%d", x)
		assert.InDelta(t, 0.0, result.Data[i+2], 0.02, "blue at x=%d", x)
	}
}

func TestPreprocess_Letterbox(t *testing.T) {
	cfg := FaceMaskConfig(260, ChannelOrderHWC)
	cfg.ResizeMode = ResizeLetterbox
	p, err := NewPreprocessor(cfg)
	require.NoError(t, err)

	result, err := p.Preprocess(createUniformImage(520, 260, color.RGBA{G: 255, A: 255}))
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 65, 260, 195), result.Content)
	assert.Equal(t, image.Rect(0, 0, 520, 260), result.Region)

	// Top padding is black, the middle is the frame.
	assert.InDelta(t, 0.0, result.Data[(10*260+130)*3+1], 1e-6)
	assert.InDelta(t, 1.0, result.Data[(130*260+130)*3+1], 0.02)
}

func TestResult_Project(t *testing.T) {
	tests := []struct {
		name     string
		mode     ResizeMode
		width    int
		height   int
		box      images.Box
		expected image.Rectangle
	}{
		{
			name:  "center crop of a landscape frame",
			mode:  ResizeCenterCrop,
			width: 640, height: 480,
			box:      images.Box{X1: 0.25, Y1: 0.25, X2: 0.75, Y2: 0.75},
			expected: image.Rect(200, 120, 440, 360),
		},
		{
			name:  "letterboxed frame",
			mode:  ResizeLetterbox,
			width: 520, height: 260,
			box:      images.Box{X1: 0, Y1: 0.25, X2: 0.5, Y2: 0.75},
			expected: image.Rect(0, 0, 260, 260),
		},
		{
			name:  "boxes past the edge are clipped",
			mode:  ResizeStretch,
			width: 100, height: 100,
			box:      images.Box{X1: -0.1, Y1: -0.1, X2: 1.2, Y2: 0.5},
			expected: image.Rect(0, 0, 100, 50),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := FaceMaskConfig(260, ChannelOrderHWC)
			cfg.ResizeMode = tt.mode
			p, err := NewPreprocessor(cfg)
			require.NoError(t, err)

			result, err := p.Preprocess(createUniformImage(tt.width, tt.height, color.RGBA{A: 255}))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result.Project(tt.box))
		})
	}
}

func TestPreprocessImage_Encoded(t *testing.T) {
	p := newFaceMaskPreprocessor(t, ChannelOrderHWC)

	var jpegBuf, pngBuf bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpegBuf, createBandedImage(320, 240), nil))
	require.NoError(t, png.Encode(&pngBuf, createBandedImage(320, 240)))

	for name, data := range map[string][]byte{"jpeg": jpegBuf.Bytes(), "png": pngBuf.Bytes()} {
		t.Run(name, func(t *testing.T) {
			result, err := p.PreprocessImage(&images.Image{Data: data})
			require.NoError(t, err)
			assert.Equal(t, 320, result.OriginalWidth)
			assert.Len(t, result.Data, 260*260*3)
		})
	}
}

func TestPreprocess_Validation(t *testing.T) {
	p := newFaceMaskPreprocessor(t, ChannelOrderHWC)

	_, err := p.Preprocess(nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = p.Preprocess(image.NewRGBA(image.Rect(0, 0, 0, 10)))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = p.PreprocessImage(&images.Image{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = p.PreprocessImage(&images.Image{Data: []byte("corrupted")})
	assert.Error(t, err)

	_, err = NewPreprocessor(nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewPreprocessor(&ModelConfig{InputWidth: 0, InputHeight: 260})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPreprocess_Idempotent(t *testing.T) {
	p := newFaceMaskPreprocessor(t, ChannelOrderCHW)
	frame := createBandedImage(400, 300)

	first, err := p.Preprocess(frame)
	require.NoError(t, err)
	second, err := p.Preprocess(frame)
	require.NoError(t, err)

	assert.Equal(t, first.Data, second.Data)
}

func TestBatchPreprocess(t *testing.T) {
	p := newFaceMaskPreprocessor(t, ChannelOrderHWC)
	frames := []image.Image{
		createBandedImage(320, 240),
		createBandedImage(260, 260),
		createBandedImage(240, 320),
	}

	results, err := p.BatchPreprocess(frames, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, frames[i].Bounds().Dx(), r.OriginalWidth)
	}

	frames = append(frames, nil)
	_, err = p.BatchPreprocess(frames, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func BenchmarkPreprocess_FaceMask(b *testing.B) {
	p := newFaceMaskPreprocessor(b, ChannelOrderHWC)
	frame := createBandedImage(1280, 720)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Preprocess(frame); err != nil {
			b.Fatal(err)
		}
	}
}

func TestPreprocessEncoded(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, createBandedImage(640, 320)))

	t.Run("center crop runs in libvips", func(t *testing.T) {
		result, err := newFaceMaskPreprocessor(t, ChannelOrderHWC).PreprocessEncoded(buf.Bytes())
		require.NoError(t, err)

		assert.Equal(t, []int64{1, 260, 260, 3}, result.Shape)
		assert.Equal(t, 640, result.OriginalWidth)
		assert.Equal(t, 320, result.OriginalHeight)
		assert.Equal(t, image.Rect(160, 0, 480, 320), result.Region)

		// The crop keeps the green band only.
		i := (130*260 + 130) * 3
		assert.InDelta(t, 1.0, result.Data[i+1], 0.05)
		assert.InDelta(t, 0.0, result.Data[i], 0.05)
	})

	t.Run("other modes decode the frame", func(t *testing.T) {
		cfg := FaceMaskConfig(260, ChannelOrderHWC)
		cfg.ResizeMode = ResizeLetterbox
		p, err := NewPreprocessor(cfg)
		require.NoError(t, err)

		result, err := p.PreprocessEncoded(buf.Bytes())
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 640, 320), result.Region)
	})

	t.Run("invalid input", func(t *testing.T) {
		p := newFaceMaskPreprocessor(t, ChannelOrderHWC)
		_, err := p.PreprocessEncoded(nil)
		assert.ErrorIs(t, err, ErrInvalidInput)

		_, err = p.PreprocessEncoded([]byte("corrupted"))
		assert.Error(t, err)
	})
}
