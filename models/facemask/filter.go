package facemask

import (
	"github.com/pkg/errors"
)

// Encoding holds the raw anchor-relative offsets (ox, oy, ow, oh) the model
// predicted for one anchor. It is not a box; Decode turns it into one.
type Encoding [4]float32

// Candidate is an anchor whose winning class score passed the confidence threshold.
type Candidate struct {
	AnchorIndex int
	Class       int
	Score       float32
	Offsets     Encoding
}

// Filter keeps the anchors whose best class is confident enough.
//
// For anchor k the winning class is 0 when scores[2k] > scores[2k+1], otherwise
// 1. The anchor becomes a Candidate if the winning score is strictly greater than
// threshold. Candidates come back in anchor order.
//
// Arguments:
//   - locations: Flattened [N][4] offsets.
//   - scores: Flattened [N][2] class scores.
//   - threshold: Confidence threshold.
//
// Returns:
//   - []Candidate: Possibly empty, never nil on success.
//   - error: ErrShapeMismatch if the arrays do not describe the same N anchors.
func Filter(locations, scores []float32, threshold float32) ([]Candidate, error) {
	if len(scores)%NumClasses != 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "scores length %d is not a multiple of %d", len(scores), NumClasses)
	}
	n := len(scores) / NumClasses
	if len(locations) != n*4 {
		return nil, errors.Wrapf(ErrShapeMismatch, "locations length %d, want %d for %d anchors", len(locations), n*4, n)
	}

	candidates := make([]Candidate, 0)
	for k := 0; k < n; k++ {
		s0, s1 := scores[k*NumClasses], scores[k*NumClasses+1]

		class, score := 1, s1
		if s0 > s1 {
			class, score = 0, s0
		}
		if score <= threshold {
			continue
		}

		var enc Encoding
		copy(enc[:], locations[k*4:k*4+4])
		candidates = append(candidates, Candidate{
			AnchorIndex: k,
			Class:       class,
			Score:       score,
			Offsets:     enc,
		})
	}

	return candidates, nil
}
