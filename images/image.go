// Package images - Image definition for processing utilities.
package images

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/chai2010/webp"
	"github.com/h2non/filetype"
	"github.com/pkg/errors"
)

// ErrUnsupportedFormat is returned for encoded data that is not JPEG, PNG or WebP.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Image represents an encoded image with a format, data, width, and height.
type Image struct {
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The data of the image.
	Data []byte `json:"data" yaml:"data"`
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
}

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
)

// DetectFormat sniffs the format of encoded image data from its magic bytes.
func DetectFormat(data []byte) (ImageFormat, error) {
	kind, err := filetype.Image(data)
	if err != nil || kind == filetype.Unknown {
		return "", ErrUnsupportedFormat
	}

	switch kind.MIME.Value {
	case "image/jpeg":
		return FormatJPEG, nil
	case "image/png":
		return FormatPNG, nil
	case "image/webp":
		return FormatWebP, nil
	default:
		return "", errors.Wrapf(ErrUnsupportedFormat, "%s", kind.MIME.Value)
	}
}

// Decode decodes JPEG, PNG or WebP data into an image.Image.
//
// Arguments:
//   - data: The encoded image.
//
// Returns:
//   - image.Image: The decoded image.
//   - ImageFormat: The detected format.
//   - error: ErrUnsupportedFormat or a decoder error.
func Decode(data []byte) (image.Image, ImageFormat, error) {
	if len(data) == 0 {
		return nil, "", errors.New("empty image data")
	}

	format, err := DetectFormat(data)
	if err != nil {
		return nil, "", err
	}

	var img image.Image
	switch format {
	case FormatJPEG:
		img, err = jpeg.Decode(bytes.NewReader(data))
	case FormatPNG:
		img, err = png.Decode(bytes.NewReader(data))
	case FormatWebP:
		img, err = webp.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, format, errors.Wrapf(err, "decode %s", format)
	}

	return img, format, nil
}

// DecodeConfig reads the format and dimensions of encoded data without
// decoding the pixels.
func DecodeConfig(data []byte) (image.Config, ImageFormat, error) {
	format, err := DetectFormat(data)
	if err != nil {
		return image.Config{}, "", err
	}

	var cfg image.Config
	switch format {
	case FormatJPEG:
		cfg, err = jpeg.DecodeConfig(bytes.NewReader(data))
	case FormatPNG:
		cfg, err = png.DecodeConfig(bytes.NewReader(data))
	case FormatWebP:
		cfg, err = webp.DecodeConfig(bytes.NewReader(data))
	}
	if err != nil {
		return image.Config{}, format, errors.Wrapf(err, "decode %s header", format)
	}
	return cfg, format, nil
}

// NewImage decodes data just far enough to fill in an Image.
func NewImage(data []byte) (*Image, error) {
	img, format, err := Decode(data)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	return &Image{Format: format, Data: data, Width: b.Dx(), Height: b.Dy()}, nil
}

// Encode writes img in the given format. Quality applies to JPEG and WebP.
func Encode(img image.Image, format ImageFormat, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	case FormatPNG:
		err = png.Encode(&buf, img)
	case FormatWebP:
		err = webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)})
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%q", format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", format)
	}
	return buf.Bytes(), nil
}
