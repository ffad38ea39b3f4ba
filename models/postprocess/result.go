// Package postprocess - Postprocessing utilities for models.
package postprocess

import (
	"fmt"
	"image"

	"github.com/nvr-ai/go-facemask/images"
)

// Detection represents a single decoded detection result.
//
// A Detection is created per detection call and is owned by that call.
// Suppressed only ever goes from false to true.
type Detection struct {
	// The absolute box in normalized image coordinates.
	Box images.Box `json:"box"`
	// The confidence score of the winning class.
	Score float32 `json:"score"`
	// The predicted class index.
	Class int `json:"class"`
	// The human-readable label of Class.
	Label string `json:"label"`
	// The index of the anchor the detection was decoded from.
	AnchorIndex int `json:"anchor_index"`
	// Suppressed is set once the detection loses an overlap comparison.
	Suppressed bool `json:"-"`
}

// Rect scales the normalized box to a frame of the given size.
func (d Detection) Rect(width, height int) image.Rectangle {
	return d.Box.ToRect(width, height)
}

func (d Detection) String() string {
	return fmt.Sprintf("Object %s (confidence %f): %s", d.Label, d.Score, d.Box)
}

// Live returns the detections that have not been suppressed, preserving order.
//
// Arguments:
//   - detections: The detections after suppression.
//
// Returns:
//   - []Detection: The surviving detections, never nil.
func Live(detections []Detection) []Detection {
	live := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if !d.Suppressed {
			live = append(live, d)
		}
	}
	return live
}
