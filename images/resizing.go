package images

import (
	"image"

	"github.com/cshum/vipsgen/vips"
	"github.com/pkg/errors"
)

// ResizeEncoded center-crops and resizes encoded image data with libvips,
// returning JPEG bytes of exactly width x height.
//
// This is the fast path for frames that arrive already encoded: libvips can
// shrink on load, so the full resolution frame is never decoded into memory.
//
// Arguments:
//   - data: JPEG, PNG or WebP bytes.
//   - width: The output width.
//   - height: The output height.
//
// Returns:
//   - []byte: The resized JPEG.
//   - error: An error if the image fails to load or resize.
func ResizeEncoded(data []byte, width, height int) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid dimensions: width=%d, height=%d", width, height)
	}

	img, err := vips.NewImageFromBuffer(data, &vips.LoadOptions{
		Access: vips.AccessSequential,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load image")
	}
	defer img.Close()

	err = img.ThumbnailImage(width, &vips.ThumbnailImageOptions{
		Height: height,
		Crop:   vips.InterestingCentre,
		FailOn: vips.FailOnError,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to resize image")
	}

	resized, err := img.JpegsaveBuffer(&vips.JpegsaveBufferOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode resized image")
	}
	if len(resized) == 0 {
		return nil, errors.New("failed to encode resized image")
	}

	return resized, nil
}

// ResizeToImage is ResizeEncoded followed by a decode.
func ResizeToImage(data []byte, width, height int) (image.Image, error) {
	resized, err := ResizeEncoded(data, width, height)
	if err != nil {
		return nil, err
	}

	img, _, err := Decode(resized)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode resized image")
	}
	return img, nil
}
