package facemask

import (
	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-facemask/images"
	"github.com/nvr-ai/go-facemask/models/postprocess"
	"github.com/pkg/errors"
)

// Variances the network's offsets were scaled by during training.
const (
	centerVariance float32 = 0.1
	sizeVariance   float32 = 0.2
)

// Decode converts a candidate's offsets into an absolute box using its anchor.
//
// With the anchor's center (cx, cy) and size (w, h):
//
//	cx' = ox * 0.1 * w + cx
//	cy' = oy * 0.1 * h + cy
//	w'  = exp(ow * 0.2) * w
//	h'  = exp(oh * 0.2) * h
//
// and the box spans center +/- size/2. The result is not clipped to [0, 1].
//
// Arguments:
//   - c: The candidate to decode.
//   - anchors: The anchor set the model was run with.
//
// Returns:
//   - postprocess.Detection: A new, live detection without a label.
//   - error: ErrAnchorIndex if c refers to an anchor outside the set.
func Decode(c Candidate, anchors Anchors) (postprocess.Detection, error) {
	anchor, ok := anchors.At(c.AnchorIndex)
	if !ok {
		return postprocess.Detection{}, errors.Wrapf(ErrAnchorIndex, "index %d, %d anchors", c.AnchorIndex, anchors.Len())
	}

	return postprocess.Detection{
		Box:         decodeBox(c.Offsets, anchor),
		Score:       c.Score,
		Class:       c.Class,
		AnchorIndex: c.AnchorIndex,
	}, nil
}

func decodeBox(o Encoding, anchor images.Box) images.Box {
	acx, acy := anchor.Center()
	aw, ah := anchor.Size()

	cx := o[0]*centerVariance*aw + acx
	cy := o[1]*centerVariance*ah + acy
	w := math32.Exp(o[2]*sizeVariance) * aw
	h := math32.Exp(o[3]*sizeVariance) * ah

	return images.Box{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}

// Encode is the inverse of Decode: it computes the offsets that would make the
// model predict box for the given anchor. Both boxes must have positive size.
func Encode(anchor, box images.Box) Encoding {
	acx, acy := anchor.Center()
	aw, ah := anchor.Size()
	bcx, bcy := box.Center()
	bw, bh := box.Size()

	return Encoding{
		(bcx - acx) / (centerVariance * aw),
		(bcy - acy) / (centerVariance * ah),
		math32.Log(bw/aw) / sizeVariance,
		math32.Log(bh/ah) / sizeVariance,
	}
}
