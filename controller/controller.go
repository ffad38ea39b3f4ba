// Package controller - Routes a stream of frames through the detector one at a time.
package controller

import (
	"context"
	"image"
	"sync/atomic"
	"time"

	"github.com/nvr-ai/go-facemask/event"
	"github.com/nvr-ai/go-facemask/inference"
	"github.com/nvr-ai/go-facemask/profiler"
	"github.com/sirupsen/logrus"
)

var log = event.Log

// Frame is a single frame of video.
type Frame struct {
	ID        int
	Image     image.Image
	Timestamp time.Time
}

// Result is the outcome of one processed frame.
type Result struct {
	FrameID   int       `json:"frame_id"`
	Timestamp time.Time `json:"timestamp"`
	// Detections is empty, never nil, when the frame failed.
	Detections []inference.FrameDetection `json:"detections"`
	// Err is the reason the frame produced no detections, if it failed.
	Err     error         `json:"-"`
	Latency time.Duration `json:"latency"`
}

// Detector is an interface for a frame detector.
type Detector interface {
	PredictFrame(ctx context.Context, img image.Image) ([]inference.FrameDetection, error)
}

// Controller feeds frames to a Detector with at most one frame in flight.
//
// Frames offered while a frame is being processed are dropped.
type Controller struct {
	detector Detector
	profiler *profiler.Profiler

	busy      atomic.Bool
	processed atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// New creates a controller.
//
// Arguments:
//   - detector: The detector frames are sent to.
//   - prof: Receives per-frame timings and counts, may be nil.
//
// Returns:
//   - *Controller: The controller.
func New(detector Detector, prof *profiler.Profiler) *Controller {
	return &Controller{detector: detector, profiler: prof}
}

// Process runs one frame if no other frame is in flight.
//
// Arguments:
//   - ctx: The context for the detection.
//   - frame: The frame to process.
//
// Returns:
//   - Result: The detections of the frame.
//   - bool: False if the frame was dropped because another frame is in flight.
func (c *Controller) Process(ctx context.Context, frame Frame) (Result, bool) {
	if !c.acquire(frame) {
		return Result{}, false
	}
	defer c.busy.Store(false)

	return c.process(ctx, frame), true
}

// Run processes frames from the channel until it is closed or ctx is done.
//
// The returned channel is closed once the last accepted frame is processed.
// Results are delivered in frame order.
//
// Example Usage:
// ```go
//
//	for result := range ctrl.Run(ctx, frames) {
//		fmt.Println(result.FrameID, len(result.Detections))
//	}
//
// ```
func (c *Controller) Run(ctx context.Context, frames <-chan Frame) <-chan Result {
	out := make(chan Result)
	work := make(chan Frame, 1)

	go func() {
		defer close(out)
		for frame := range work {
			result := c.process(ctx, frame)
			c.busy.Store(false)

			select {
			case out <- result:
			case <-ctx.Done():
			}
		}
	}()

	go func() {
		defer close(work)
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				if c.acquire(frame) {
					work <- frame
				}
			}
		}
	}()

	return out
}

// Stats returns the processed, dropped and failed frame counts.
func (c *Controller) Stats() (processed, dropped, failed int64) {
	return c.processed.Load(), c.dropped.Load(), c.failed.Load()
}

func (c *Controller) acquire(frame Frame) bool {
	if c.busy.CompareAndSwap(false, true) {
		return true
	}
	c.dropped.Add(1)
	c.metric("frames_dropped", 1)
	log.WithField("frame", frame.ID).Debug("frame dropped, detector busy")
	return false
}

func (c *Controller) process(ctx context.Context, frame Frame) Result {
	start := time.Now()
	dets, err := c.detector.PredictFrame(ctx, frame.Image)
	latency := time.Since(start)

	c.processed.Add(1)
	if c.profiler != nil {
		c.profiler.RecordDuration("frame", latency)
	}

	if err != nil {
		c.failed.Add(1)
		c.metric("frames_failed", 1)
		log.WithError(err).WithField("frame", frame.ID).Warn("frame detection failed")
		dets = []inference.FrameDetection{}
	}
	c.metric("detections", float64(len(dets)))

	log.WithFields(logrus.Fields{
		"frame":      frame.ID,
		"detections": len(dets),
		"latency":    latency.String(),
	}).Debug("frame processed")

	return Result{
		FrameID:    frame.ID,
		Timestamp:  frame.Timestamp,
		Detections: dets,
		Err:        err,
		Latency:    latency,
	}
}

func (c *Controller) metric(name string, value float64) {
	if c.profiler != nil {
		c.profiler.RecordMetric(name, value)
	}
}
