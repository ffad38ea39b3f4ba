package main

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nvr-ai/go-facemask/controller"
	"github.com/nvr-ai/go-facemask/images"
	"github.com/nvr-ai/go-facemask/inference"
	"github.com/nvr-ai/go-facemask/models/facemask"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"gocv.io/x/gocv"
)

// VideoCommand runs the detector on a video file.
var VideoCommand = cli.Command{
	Name:      "video",
	Usage:     "Detect masks in the frames of a video file",
	ArgsUsage: "<video file>",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "live", Usage: "drop frames that arrive while a frame is in flight"},
		cli.StringFlag{Name: "output, o", Usage: "directory for annotated frames with detections"},
		cli.Float64Flag{Name: "motion-area", Usage: "skip frames without a moving region of this many pixels, 0 disables"},
	},
	Action: videoAction,
}

var (
	maskColor   = color.RGBA{G: 255, A: 255}
	noMaskColor = color.RGBA{R: 255, A: 255}
)

func videoAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.NewExitError("exactly one video file is required", 1)
	}
	path := ctx.Args().First()

	opts := optionsFromContext(ctx)
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	if err := cfg.ApplyLogging(); err != nil {
		return err
	}

	outputDir := ctx.String("output")
	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return errors.Wrap(err, "error creating output directory")
		}
	}

	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return errors.Wrapf(err, "error opening video %s", path)
	}
	defer capture.Close()

	engine, prof, err := newEngine(cfg, opts.Profile)
	if err != nil {
		return err
	}
	defer engine.Close()
	defer prof.Stop()

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var gate *images.MotionGate
	if area := ctx.Float64("motion-area"); area > 0 {
		gate = images.NewMotionGate(area)
		defer gate.Close()
	}

	ctrl := controller.New(engine, prof)
	enc := json.NewEncoder(os.Stdout)
	start := time.Now()

	if ctx.Bool("live") {
		frames := make(chan controller.Frame)
		readerDone := make(chan struct{})
		defer func() { <-readerDone }()
		go func() {
			defer close(readerDone)
			defer close(frames)
			readFrames(runCtx, capture, gate, func(f controller.Frame, _ gocv.Mat) bool {
				select {
				case frames <- f:
					return true
				case <-runCtx.Done():
					return false
				}
			})
		}()

		for result := range ctrl.Run(runCtx, frames) {
			if err := enc.Encode(result); err != nil {
				stop()
				return errors.Wrap(err, "error writing result")
			}
		}
	} else {
		var writeErr error
		readFrames(runCtx, capture, gate, func(f controller.Frame, mat gocv.Mat) bool {
			result, _ := ctrl.Process(runCtx, f)
			if writeErr = enc.Encode(result); writeErr != nil {
				return false
			}
			if outputDir != "" && len(result.Detections) > 0 {
				annotate(&mat, result.Detections)
				name := filepath.Join(outputDir, fmtFrameName(f.ID))
				if !gocv.IMWrite(name, mat) {
					log.WithField("file", name).Warn("error writing annotated frame")
				}
			}
			return true
		})
		if writeErr != nil {
			return errors.Wrap(writeErr, "error writing result")
		}
	}

	processed, dropped, failed := ctrl.Stats()
	log.WithFields(logrus.Fields{
		"video":     path,
		"processed": processed,
		"dropped":   dropped,
		"failed":    failed,
		"elapsed":   time.Since(start).String(),
	}).Info("video complete")

	if opts.Profile {
		prof.Report()
	}
	return nil
}

// readFrames decodes the video until it ends, ctx is done or handle returns false.
// With a gate, frames without motion are skipped.
func readFrames(ctx context.Context, capture *gocv.VideoCapture, gate *images.MotionGate, handle func(controller.Frame, gocv.Mat) bool) {
	mat := gocv.NewMat()
	defer mat.Close()

	for id := 0; ctx.Err() == nil; id++ {
		if ok := capture.Read(&mat); !ok {
			return
		}
		if gate != nil {
			moving, err := gate.Moving(mat)
			if err != nil {
				log.WithError(err).WithField("frame", id).Warn("motion check failed")
			} else if !moving {
				continue
			}
		}
		img, err := images.FromMat(mat)
		if err != nil {
			log.WithError(err).WithField("frame", id).Warn("skipping unreadable frame")
			continue
		}
		if !handle(controller.Frame{ID: id, Image: img, Timestamp: time.Now()}, mat) {
			return
		}
	}
}

func annotate(mat *gocv.Mat, dets []inference.FrameDetection) {
	for _, d := range dets {
		c := maskColor
		if d.Label == facemask.LabelNoMask {
			c = noMaskColor
		}
		gocv.Rectangle(mat, d.Rect, c, 2)
		gocv.PutText(mat, d.Label, image.Pt(d.Rect.Min.X, d.Rect.Min.Y-4), gocv.FontHersheySimplex, 0.5, c, 1)
	}
}

func fmtFrameName(id int) string {
	return "frame-" + strconv.Itoa(id) + ".jpg"
}
