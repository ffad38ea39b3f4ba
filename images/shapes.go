// Package images - Image processing utilities
package images

import (
	"fmt"
	"image"
)

// Box is an axis-aligned box in normalized image coordinates (0..1 scale).
//
// The overlap math below follows the inclusive pixel-count convention of the
// face mask model's training pipeline: width and height are `x2 - x1 + 1` and
// `y2 - y1 + 1`. It must stay that way for numeric parity with the model.
type Box struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

// OverlapMode selects the normalization applied to an intersection area.
type OverlapMode string

const (
	// OverlapUnion divides the intersection by the union of both areas (IoU).
	OverlapUnion OverlapMode = "union"
	// OverlapMin divides the intersection by the smaller of both areas.
	OverlapMin OverlapMode = "min"
)

// Valid reports whether the mode is one of the supported modes.
func (m OverlapMode) Valid() bool {
	return m == OverlapUnion || m == OverlapMin
}

// Width returns the inclusive width of the box.
func (b Box) Width() float32 {
	return b.X2 - b.X1 + 1
}

// Height returns the inclusive height of the box.
func (b Box) Height() float32 {
	return b.Y2 - b.Y1 + 1
}

// Area returns the inclusive area of the box.
// The area is not truncated to an integer, so overlap ratios of normalized
// boxes near the threshold can differ from an integer-area implementation.
func (b Box) Area() float32 {
	return b.Width() * b.Height()
}

// Center returns the geometric center of the box.
func (b Box) Center() (cx, cy float32) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Size returns the exclusive extent of the box, as used by anchor geometry.
func (b Box) Size() (w, h float32) {
	return b.X2 - b.X1, b.Y2 - b.Y1
}

// Intersect returns the intersection rectangle of two boxes.
//
// Arguments:
//   - o: The other box.
//
// Returns:
//   - Box: The intersection rectangle.
//   - bool: False if the boxes do not overlap. Touching edges count as overlap.
func (b Box) Intersect(o Box) (Box, bool) {
	r := Box{
		X1: max(b.X1, o.X1),
		Y1: max(b.Y1, o.Y1),
		X2: min(b.X2, o.X2),
		Y2: min(b.Y2, o.Y2),
	}
	if r.X2 < r.X1 || r.Y2 < r.Y1 {
		return Box{}, false
	}
	return r, true
}

// ToRect scales the normalized box to a width x height frame.
//
// This loses precision, it only drops fractional pixels around the edges.
func (b Box) ToRect(width, height int) image.Rectangle {
	return image.Rect(
		int(b.X1*float32(width)),
		int(b.Y1*float32(height)),
		int(b.X2*float32(width)),
		int(b.Y2*float32(height)),
	).Canon()
}

func (b Box) String() string {
	return fmt.Sprintf("(%f, %f), (%f, %f)", b.X1, b.Y1, b.X2, b.Y2)
}

// CalculateOverlap measures how much two boxes overlap.
//
// The intersection area and both areas use the inclusive convention of Box.
// For OverlapUnion the ratio is `inter / (area(r) + area(o) - inter)`, for
// OverlapMin it is `inter / min(area(r), area(o))`.
//
// Arguments:
//   - r: The first box.
//   - o: The other box.
//   - mode: The normalization mode.
//
// Returns:
//   - float32: The overlap ratio, 0 when the boxes do not intersect.
//   - bool: False when the boxes do not intersect at all.
//
// Example Usage:
// ```go
//
//	a := Box{X1: 0, Y1: 0, X2: 9, Y2: 9}   // area 100
//	b := Box{X1: 0, Y1: 2.5, X2: 9, Y2: 11.5} // area 100, intersection 75
//	ratio, _ := CalculateOverlap(a, b, OverlapUnion) // 75 / 125 = 0.6
//
// ```
func CalculateOverlap(r, o Box, mode OverlapMode) (float32, bool) {
	inter, ok := r.Intersect(o)
	if !ok {
		return 0, false
	}
	interArea := inter.Area()

	areaR := r.Area()
	areaO := o.Area()

	var denom float32
	switch mode {
	case OverlapMin:
		denom = min(areaR, areaO)
	default:
		denom = areaR + areaO - interArea
	}
	if denom <= 0 {
		return 0, true
	}

	return interArea / denom, true
}

// CalculateIoU is CalculateOverlap with OverlapUnion.
func CalculateIoU(r, o Box) float32 {
	iou, _ := CalculateOverlap(r, o, OverlapUnion)
	return iou
}
