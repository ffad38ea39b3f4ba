package facemask

import (
	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-facemask/images"
	"github.com/pkg/errors"
)

// NumClasses is the number of scores the model emits per anchor.
const NumClasses = 2

// AnchorsPerCell is the number of anchor shapes centered on each grid cell.
const AnchorsPerCell = 4

// AnchorConfig describes the multi-scale anchor layout.
//
// Grids[i] is the side of the square feature map of level i, Sizes[i] holds the
// two base sizes used at that level, and Ratios the aspect ratios (width/height
// before the square root). RatioSizes picks the base size (0 or 1) of the
// ratio1 and ratio2 shapes; the zero value uses size0 for both.
type AnchorConfig struct {
	Grids      []int        `json:"grids" yaml:"grids"`
	Sizes      [][2]float32 `json:"sizes" yaml:"sizes"`
	Ratios     [3]float32   `json:"ratios" yaml:"ratios"`
	RatioSizes [2]int       `json:"ratio_sizes" yaml:"ratio_sizes"`
}

// DefaultAnchorConfig returns the layout of the 260x260 face mask network.
func DefaultAnchorConfig() AnchorConfig {
	return AnchorConfig{
		Grids: []int{33, 17, 9, 5, 3},
		Sizes: [][2]float32{
			{0.04, 0.056},
			{0.08, 0.11},
			{0.16, 0.22},
			{0.32, 0.45},
			{0.64, 0.72},
		},
		Ratios: [3]float32{1.0, 0.62, 0.42},
	}
}

// Validate checks the layout is consistent.
func (c *AnchorConfig) Validate() error {
	if len(c.Grids) == 0 {
		return errors.Wrap(ErrInvalidConfig, "anchor grids are empty")
	}
	if len(c.Grids) != len(c.Sizes) {
		return errors.Wrapf(ErrInvalidConfig, "%d grids but %d size pairs", len(c.Grids), len(c.Sizes))
	}
	for i, g := range c.Grids {
		if g <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "grid %d must be positive, got %d", i, g)
		}
		if c.Sizes[i][0] <= 0 || c.Sizes[i][1] <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "sizes of level %d must be positive", i)
		}
	}
	for i, r := range c.Ratios {
		if r <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "ratio %d must be positive, got %f", i, r)
		}
	}
	for i, s := range c.RatioSizes {
		if s != 0 && s != 1 {
			return errors.Wrapf(ErrInvalidConfig, "ratio size %d must be 0 or 1, got %d", i, s)
		}
	}
	return nil
}

// Count returns the number of anchors the layout produces.
func (c *AnchorConfig) Count() int {
	n := 0
	for _, g := range c.Grids {
		n += g * g * AnchorsPerCell
	}
	return n
}

// Anchors is an immutable, ordered set of anchor boxes.
//
// Index k of the model's output tensors refers to anchor k. The zero value is
// an empty set. Anchors is safe for concurrent use.
type Anchors struct {
	boxes []images.Box
}

// Len returns the number of anchors.
func (a Anchors) Len() int {
	return len(a.boxes)
}

// At returns anchor k.
//
// Returns:
//   - images.Box: The anchor in normalized left/top/right/bottom form.
//   - bool: False if k is out of range.
func (a Anchors) At(k int) (images.Box, bool) {
	if k < 0 || k >= len(a.boxes) {
		return images.Box{}, false
	}
	return a.boxes[k], true
}

// GenerateAnchors builds the anchor set for a layout.
//
// Anchors are ordered level by level, then row (y), column (x), and finally the
// four shapes of a cell: size0 at ratio0, size1 at ratio0, then ratio1 and
// ratio2 at the sizes selected by RatioSizes (size0 for both by default). A
// shape of size s and ratio r is s*sqrt(r) wide and s/sqrt(r) tall, centered
// on the cell.
//
// Arguments:
//   - cfg: The anchor layout. It is assumed to be valid.
//
// Returns:
//   - Anchors: 5972 boxes for DefaultAnchorConfig.
//
// Example Usage:
// ```go
//
//	anchors := GenerateAnchors(DefaultAnchorConfig())
//	first, _ := anchors.At(0) // smallest box centered on cell (0, 0) of the 33x33 grid
//
// ```
func GenerateAnchors(cfg AnchorConfig) Anchors {
	boxes := make([]images.Box, 0, cfg.Count())

	for level, grid := range cfg.Grids {
		sizes := cfg.Sizes[level]
		shapes := [AnchorsPerCell][2]float32{
			{sizes[0], cfg.Ratios[0]},
			{sizes[1], cfg.Ratios[0]},
			{sizes[cfg.RatioSizes[0]], cfg.Ratios[1]},
			{sizes[cfg.RatioSizes[1]], cfg.Ratios[2]},
		}

		for row := 0; row < grid; row++ {
			cy := cellCenter(row, grid)
			for col := 0; col < grid; col++ {
				cx := cellCenter(col, grid)
				for _, shape := range shapes {
					root := math32.Sqrt(shape[1])
					w := shape[0] * root
					h := shape[0] / root
					boxes = append(boxes, images.Box{
						X1: cx - w/2,
						Y1: cy - h/2,
						X2: cx + w/2,
						Y2: cy + h/2,
					})
				}
			}
		}
	}

	return Anchors{boxes: boxes}
}

// cellCenter returns the normalized center of cell c on a grid of the given side.
// grid/2 is integer division.
func cellCenter(c, grid int) float32 {
	return float32(c-grid/2)/float32(grid) + 0.5
}
