package facemask

import (
	"github.com/nvr-ai/go-facemask/event"
	"github.com/nvr-ai/go-facemask/models/postprocess"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"
)

var log = event.Log

// Detector turns raw face mask model outputs into labeled detections.
//
// A Detector is immutable after NewDetector and may be shared by goroutines.
// Every call allocates its own candidate and detection buffers.
type Detector struct {
	config  Config
	anchors Anchors
}

// NewDetector validates the configuration and builds the anchor set once.
//
// Arguments:
//   - cfg: The detector configuration, usually DefaultConfig().
//
// Returns:
//   - *Detector: A ready detector.
//   - error: ErrInvalidConfig if cfg is not usable.
//
// Example Usage:
// ```go
//
//	detector, err := facemask.NewDetector(facemask.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	detections, err := detector.Detect(locations, scores)
//
// ```
func NewDetector(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Labels = append([]string(nil), cfg.Labels...)
	anchors := GenerateAnchors(cfg.Anchors)
	log.Debugf("facemask: generated %d anchors over %d levels", anchors.Len(), len(cfg.Anchors.Grids))

	return &Detector{config: cfg, anchors: anchors}, nil
}

// Config returns a copy of the detector's configuration.
func (d *Detector) Config() Config {
	cfg := d.config
	cfg.Labels = append([]string(nil), d.config.Labels...)
	return cfg
}

// Anchors returns the detector's anchor set.
func (d *Detector) Anchors() Anchors {
	return d.anchors
}

// Detect runs the post-processing pipeline on one frame's raw outputs.
//
// locations is the flattened [N][4] offset tensor and scores the flattened [N][2]
// class tensor, where N is the number of anchors. The pipeline filters by
// confidence, decodes each candidate against its anchor, suppresses overlapping
// detections of the same class and labels the survivors.
//
// Arguments:
//   - locations: Flattened [N][4] offsets.
//   - scores: Flattened [N][2] class scores.
//
// Returns:
//   - []postprocess.Detection: Surviving detections in anchor order, or by
//     descending score when NMS.Sorted is set. Empty, not nil, when nothing
//     was found.
//   - error: ErrShapeMismatch if the tensors do not match the anchor set.
func (d *Detector) Detect(locations, scores []float32) ([]postprocess.Detection, error) {
	n := d.anchors.Len()
	if len(locations) != n*4 || len(scores) != n*NumClasses {
		return nil, errors.Wrapf(ErrShapeMismatch,
			"got %d locations and %d scores, want %d and %d for %d anchors",
			len(locations), len(scores), n*4, n*NumClasses, n)
	}

	candidates, err := Filter(locations, scores, d.config.ConfidenceThreshold)
	if err != nil {
		return nil, err
	}

	detections := make([]postprocess.Detection, 0, len(candidates))
	for _, c := range candidates {
		det, err := Decode(c, d.anchors)
		if err != nil {
			return nil, err
		}
		det.Label = d.label(det.Class)
		detections = append(detections, det)
	}

	live := postprocess.ApplyNMS(detections, &d.config.NMS)

	log.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"detections": len(live),
	}).Debug("facemask: post-processed frame")

	return live, nil
}

// DetectTensors is Detect for float32 tensors of shape [1, N, 4] or [N, 4]
// (locations) and [1, N, 2] or [N, 2] (scores).
func (d *Detector) DetectTensors(loc, cls *tensor.Dense) ([]postprocess.Detection, error) {
	locations, err := flatten(loc, 4)
	if err != nil {
		return nil, errors.Wrap(err, "locations")
	}
	scores, err := flatten(cls, NumClasses)
	if err != nil {
		return nil, errors.Wrap(err, "scores")
	}
	return d.Detect(locations, scores)
}

func (d *Detector) label(class int) string {
	if class < 0 || class >= len(d.config.Labels) {
		return ""
	}
	return d.config.Labels[class]
}

// flatten checks that t is a float32 [1, N, width] or [N, width] tensor and
// returns its contiguous data.
func flatten(t *tensor.Dense, width int) ([]float32, error) {
	if t == nil {
		return nil, errors.Wrap(ErrShapeMismatch, "tensor is nil")
	}
	if t.Dtype() != tensor.Float32 {
		return nil, errors.Wrapf(ErrShapeMismatch, "dtype %v, want float32", t.Dtype())
	}

	shape := t.Shape()
	switch {
	case len(shape) == 3 && shape[0] == 1 && shape[2] == width:
	case len(shape) == 2 && shape[1] == width:
	default:
		return nil, errors.Wrapf(ErrShapeMismatch, "shape %v, want [1 N %d] or [N %d]", shape, width, width)
	}

	if t.IsView() {
		m, ok := t.Materialize().(*tensor.Dense)
		if !ok {
			return nil, errors.Wrap(ErrShapeMismatch, "cannot materialize tensor view")
		}
		t = m
	}
	return t.Float32s(), nil
}
