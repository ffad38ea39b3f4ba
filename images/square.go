package images

import (
	"image"
	"image/draw"

	"github.com/nfnt/resize"
)

// CenterSquare returns the largest square centered in r.
func CenterSquare(r image.Rectangle) image.Rectangle {
	r = r.Canon()
	side := min(r.Dx(), r.Dy())
	x := r.Min.X + (r.Dx()-side)/2
	y := r.Min.Y + (r.Dy()-side)/2
	return image.Rect(x, y, x+side, y+side)
}

// CropSquare crops the largest centered square out of img.
//
// The result is a copy with its origin at (0, 0).
func CropSquare(img image.Image) *image.RGBA {
	src := CenterSquare(img.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, src.Dx(), src.Dy()))
	draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Src)
	return dst
}

// Square center-crops img and scales it to a size x size square.
//
// A detection in normalized coordinates of the result maps back to the source
// frame through CenterSquare(img.Bounds()).
//
// Arguments:
//   - img: The source frame.
//   - size: The side of the output square, 260 for the face mask model.
//   - interp: The nfnt/resize interpolation function.
//
// Returns:
//   - image.Image: The square image.
func Square(img image.Image, size int, interp resize.InterpolationFunction) image.Image {
	cropped := CropSquare(img)
	if cropped.Bounds().Dx() == size {
		return cropped
	}
	return resize.Resize(uint(size), uint(size), cropped, interp)
}
