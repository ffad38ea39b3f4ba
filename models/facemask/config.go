// Package facemask - post-processing for the 260x260 single-shot face mask detector.
//
// The network emits, for each of its fixed anchors, four box offsets and two
// class scores. This package turns those raw tensors into labeled, non-overlapping
// boxes in normalized image coordinates.
package facemask

import (
	"github.com/nvr-ai/go-facemask/models/postprocess"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidConfig is returned when a Config cannot be used to build a Detector.
	ErrInvalidConfig = errors.New("invalid facemask config")
	// ErrShapeMismatch is returned when the raw model outputs do not agree with
	// each other or with the anchor set.
	ErrShapeMismatch = errors.New("model output shape mismatch")
	// ErrAnchorIndex is returned when a candidate refers to an anchor that does not exist.
	ErrAnchorIndex = errors.New("anchor index out of range")
)

// Class labels of the model, indexed by class id.
const (
	LabelMask   = "mask"
	LabelNoMask = "no_mask"
)

// Config holds every tunable of the detector.
type Config struct {
	// InputSize is the square side, in pixels, the network expects.
	InputSize int `json:"input_size" yaml:"input_size"`
	// ConfidenceThreshold is the score a winning class must strictly exceed.
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"`
	// Anchors describes the anchor layout the network was trained against.
	Anchors AnchorConfig `json:"anchors" yaml:"anchors"`
	// NMS configures suppression of overlapping detections.
	NMS postprocess.NMSConfig `json:"nms" yaml:"nms"`
	// Labels maps class ids to names.
	Labels []string `json:"labels" yaml:"labels"`
}

// DefaultConfig returns the configuration the published face mask model was trained with.
//
// Returns:
//   - Config: input 260, confidence 0.5, IoU 0.4 with union overlap.
func DefaultConfig() Config {
	return Config{
		InputSize:           260,
		ConfidenceThreshold: 0.5,
		Anchors:             DefaultAnchorConfig(),
		NMS:                 postprocess.DefaultNMSConfig(),
		Labels:              []string{LabelMask, LabelNoMask},
	}
}

// Validate checks that the configuration can build a working Detector.
func (c *Config) Validate() error {
	if c.InputSize <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "input_size must be positive, got %d", c.InputSize)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold >= 1 {
		return errors.Wrapf(ErrInvalidConfig, "confidence_threshold must be in [0, 1), got %f", c.ConfidenceThreshold)
	}
	if len(c.Labels) != NumClasses {
		return errors.Wrapf(ErrInvalidConfig, "expected %d labels, got %d", NumClasses, len(c.Labels))
	}
	if err := c.Anchors.Validate(); err != nil {
		return err
	}
	if err := c.NMS.Validate(); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	return nil
}
