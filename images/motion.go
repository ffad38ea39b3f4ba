package images

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// MotionGate reports whether video frames contain moving regions.
//
// It keeps a MOG2 background model across frames, thresholds the foreground
// mask, dilates it and looks for an external contour of at least MinimumArea
// pixels. It is not safe for concurrent use. Call Close to release the native
// resources.
type MotionGate struct {
	MinimumArea float64

	delta      gocv.Mat
	threshold  gocv.Mat
	kernel     gocv.Mat
	subtractor gocv.BackgroundSubtractorMOG2
}

// NewMotionGate creates a gate with a fresh background model.
//
// Arguments:
//   - minimumArea: The contour area, in pixels, that counts as motion.
//
// Returns:
//   - *MotionGate: The gate.
func NewMotionGate(minimumArea float64) *MotionGate {
	return &MotionGate{
		MinimumArea: minimumArea,
		delta:       gocv.NewMat(),
		threshold:   gocv.NewMat(),
		kernel:      gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3)),
		subtractor:  gocv.NewBackgroundSubtractorMOG2(),
	}
}

// Moving updates the background model with frame and reports whether it
// contains a moving region.
func (m *MotionGate) Moving(frame gocv.Mat) (bool, error) {
	if frame.Empty() {
		return false, errors.New("empty frame")
	}
	if err := m.subtractor.Apply(frame, &m.delta); err != nil {
		return false, errors.Wrap(err, "background subtraction")
	}
	gocv.Threshold(m.delta, &m.threshold, 25, 255, gocv.ThresholdBinary)
	if err := gocv.Dilate(m.threshold, &m.threshold, m.kernel); err != nil {
		return false, errors.Wrap(err, "dilate")
	}

	contours := gocv.FindContours(m.threshold, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	for i := 0; i < contours.Size(); i++ {
		if gocv.ContourArea(contours.At(i)) >= m.MinimumArea {
			return true, nil
		}
	}
	return false, nil
}

// Close releases all OpenCV native resources used by the gate.
func (m *MotionGate) Close() {
	m.delta.Close()
	m.threshold.Close()
	m.kernel.Close()
	m.subtractor.Close()
}
