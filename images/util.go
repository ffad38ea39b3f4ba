package images

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// FromMat converts an OpenCV frame into a Go image.
//
// Arguments:
//   - mat: A BGR frame as returned by gocv.VideoCapture or gocv.IMRead.
//
// Returns:
//   - image.Image: The frame in RGB color order.
//   - error: An error if the Mat is empty or of an unsupported type.
func FromMat(mat gocv.Mat) (image.Image, error) {
	if mat.Empty() {
		return nil, errors.New("empty frame")
	}

	img, err := mat.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "convert mat to image")
	}
	return img, nil
}
