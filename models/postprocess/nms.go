// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"sort"
	"sync"

	"github.com/nvr-ai/go-facemask/images"
	"github.com/pkg/errors"
)

// ErrInvalidNMSConfig is returned when an NMSConfig cannot be used.
var ErrInvalidNMSConfig = errors.New("invalid nms config")

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold float32            `json:"iou_threshold" yaml:"iou_threshold"` // Overlap ratio at or above which the weaker box is suppressed.
	Mode         images.OverlapMode `json:"mode" yaml:"mode"`                   // Normalization of the intersection area.
	ClassAware   bool               `json:"class_aware" yaml:"class_aware"`     // If true, suppress only within same class.
	Sorted       bool               `json:"sorted" yaml:"sorted"`               // If true, order detections by descending score first.
	NumWorkers   int                `json:"num_workers" yaml:"num_workers"`     // Goroutines used to precompute overlaps, <= 1 runs inline.
}

// DefaultNMSConfig returns the suppression settings of the face mask model.
func DefaultNMSConfig() NMSConfig {
	return NMSConfig{
		IoUThreshold: 0.4,
		Mode:         images.OverlapUnion,
		ClassAware:   true,
	}
}

// Validate checks that the configuration is usable.
//
// Returns:
//   - error: ErrInvalidNMSConfig wrapped with the offending field.
func (c *NMSConfig) Validate() error {
	if c.IoUThreshold <= 0 || c.IoUThreshold > 1 {
		return errors.Wrapf(ErrInvalidNMSConfig, "iou_threshold must be in (0, 1], got %f", c.IoUThreshold)
	}
	if !c.Mode.Valid() {
		return errors.Wrapf(ErrInvalidNMSConfig, "unknown overlap mode %q", c.Mode)
	}
	if c.NumWorkers < 0 {
		return errors.Wrapf(ErrInvalidNMSConfig, "num_workers must not be negative, got %d", c.NumWorkers)
	}
	return nil
}

// Suppress marks redundant overlapping detections as suppressed, in place.
//
// Every unordered pair (i, j) with i < j is visited in slice order. A pair is
// compared only while both detections are live and, when ClassAware is set,
// share the same class. If their overlap ratio is >= IoUThreshold the weaker
// one is suppressed: j when score_i > score_j, otherwise i. Once i is
// suppressed it takes no further part in comparisons. Chains where a box is
// suppressed by one that is later suppressed itself are expected.
//
// When config.Sorted is set the slice is first reordered by descending score
// (stable), which makes the result match classic sorted greedy NMS.
//
// Arguments:
//   - detections: Decoded detections. Reordered when config.Sorted is set.
//   - config: NMS configuration.
func Suppress(detections []Detection, config *NMSConfig) {
	n := len(detections)
	if n < 2 {
		return
	}

	if config.Sorted {
		sort.SliceStable(detections, func(i, j int) bool {
			return detections[i].Score > detections[j].Score
		})
	}

	var overlaps *overlapMatrix
	if config.NumWorkers > 1 {
		overlaps = computeOverlaps(detections, config)
	}

	for i := 0; i < n; i++ {
		if detections[i].Suppressed {
			continue
		}

		for j := i + 1; j < n; j++ {
			if detections[i].Suppressed {
				break
			}
			if detections[j].Suppressed {
				continue
			}
			if config.ClassAware && detections[i].Class != detections[j].Class {
				continue
			}

			var ratio float32
			var ok bool
			if overlaps != nil {
				ratio, ok = overlaps.at(i, j)
			} else {
				ratio, ok = images.CalculateOverlap(detections[i].Box, detections[j].Box, config.Mode)
			}
			if !ok || ratio < config.IoUThreshold {
				continue
			}

			if detections[i].Score > detections[j].Score {
				detections[j].Suppressed = true
			} else {
				detections[i].Suppressed = true
			}
		}
	}
}

// ApplyNMS suppresses overlapping detections and returns the survivors.
//
// Arguments:
//   - detections: Decoded detections.
//   - config: NMS configuration.
//
// Returns:
//   - Filtered slice of detections. If no detections are provided, returns an empty slice.
func ApplyNMS(detections []Detection, config *NMSConfig) []Detection {
	Suppress(detections, config)
	return Live(detections)
}

// overlapMatrix holds the overlap ratio of every pair i < j, -1 meaning the
// boxes do not intersect.
type overlapMatrix struct {
	n      int
	ratios []float32
}

func (m *overlapMatrix) at(i, j int) (float32, bool) {
	r := m.ratios[i*m.n+j]
	return r, r >= 0
}

// computeOverlaps fills the overlap matrix using a worker pool, one row per job.
// Boxes never change during suppression, so rows are independent.
func computeOverlaps(detections []Detection, config *NMSConfig) *overlapMatrix {
	n := len(detections)
	m := &overlapMatrix{n: n, ratios: make([]float32, n*n)}

	rows := make(chan int, n)
	var wg sync.WaitGroup
	for w := 0; w < config.NumWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range rows {
				for j := i + 1; j < n; j++ {
					ratio, ok := images.CalculateOverlap(detections[i].Box, detections[j].Box, config.Mode)
					if !ok {
						ratio = -1
					}
					m.ratios[i*n+j] = ratio
				}
			}
		}()
	}

	for i := 0; i < n; i++ {
		rows <- i
	}
	close(rows)
	wg.Wait()

	return m
}
