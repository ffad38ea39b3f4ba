package images

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		getBytes func(t testing.TB) []byte
		format   ImageFormat
	}{
		{"jpeg", getJPEGBytes, FormatJPEG},
		{"png", getPNGBytes, FormatPNG},
		{"webp", getWebPBytes, FormatWebP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, format, err := Decode(tt.getBytes(t))
			require.NoError(t, err)
			assert.Equal(t, tt.format, format)
			assert.Equal(t, 160, img.Bounds().Dx())
			assert.Equal(t, 100, img.Bounds().Dy())
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	_, _, err := Decode(nil)
	assert.Error(t, err)

	_, _, err = Decode([]byte("GIF89a not supported"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	// A valid PNG signature followed by garbage fails in the decoder.
	_, format, err := Decode([]byte("\x89PNG\x0D\x0A\x1A\x0Agarbage"))
	assert.Error(t, err)
	assert.Equal(t, FormatPNG, format)
}

func TestNewImage(t *testing.T) {
	data := getPNGBytes(t)
	img, err := NewImage(data)
	require.NoError(t, err)

	assert.Equal(t, FormatPNG, img.Format)
	assert.Equal(t, 160, img.Width)
	assert.Equal(t, 100, img.Height)
	assert.Equal(t, data, img.Data)
}

func TestEncode_RoundTrip(t *testing.T) {
	for _, format := range []ImageFormat{FormatJPEG, FormatPNG, FormatWebP} {
		t.Run(string(format), func(t *testing.T) {
			data, err := Encode(getTestImage(), format, 90)
			require.NoError(t, err)

			img, detected, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, format, detected)
			assert.Equal(t, getTestImage().Bounds(), img.Bounds())
		})
	}

	_, err := Encode(getTestImage(), "gif", 90)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestDecodeConfig(t *testing.T) {
	for name, data := range map[string][]byte{
		"jpeg": getJPEGBytes(t),
		"png":  getPNGBytes(t),
		"webp": getWebPBytes(t),
	} {
		t.Run(name, func(t *testing.T) {
			cfg, format, err := DecodeConfig(data)
			require.NoError(t, err)
			assert.Equal(t, ImageFormat(name), format)
			assert.Equal(t, 160, cfg.Width)
			assert.Equal(t, 100, cfg.Height)
		})
	}

	_, _, err := DecodeConfig([]byte("plain text"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
