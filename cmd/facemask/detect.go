package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize/english"
	"github.com/nvr-ai/go-facemask/controller"
	"github.com/nvr-ai/go-facemask/images"
	"github.com/nvr-ai/go-facemask/inference"
	"github.com/nvr-ai/go-facemask/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

// DetectCommand runs the detector on image files and directories.
var DetectCommand = cli.Command{
	Name:      "detect",
	Usage:     "Detect masks in image files or directories of frames",
	ArgsUsage: "<file or directory>...",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "fast-decode",
			Usage: "crop and resize encoded files with libvips before decoding (center crop only)",
		},
	},
	Action: detectAction,
}

// fileResult is one line of detect output.
type fileResult struct {
	File       string                     `json:"file"`
	Width      int                        `json:"width"`
	Height     int                        `json:"height"`
	Detections []inference.FrameDetection `json:"detections"`
	Error      string                     `json:"error,omitempty"`
}

func detectAction(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return cli.NewExitError("at least one image file or directory is required", 1)
	}

	opts := optionsFromContext(ctx)
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	if err := cfg.ApplyLogging(); err != nil {
		return err
	}

	files, err := collectInputs(ctx.Args())
	if err != nil {
		return err
	}

	engine, prof, err := newEngine(cfg, opts.Profile)
	if err != nil {
		return err
	}
	defer engine.Close()
	defer prof.Stop()

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ctrl := controller.New(engine, prof)
	enc := json.NewEncoder(os.Stdout)
	start := time.Now()

	for i, file := range files {
		if runCtx.Err() != nil {
			break
		}

		out := fileResult{File: file.Path, Detections: []inference.FrameDetection{}}
		if ctx.Bool("fast-decode") {
			out = detectEncoded(runCtx, engine, file)
		} else if img, _, err := images.Decode(file.Data); err != nil {
			log.WithError(err).WithField("file", file.Path).Warn("skipping undecodable file")
			out.Error = err.Error()
		} else {
			b := img.Bounds()
			out.Width, out.Height = b.Dx(), b.Dy()

			result, _ := ctrl.Process(runCtx, controller.Frame{ID: i, Image: img, Timestamp: time.Now()})
			out.Detections = result.Detections
			if result.Err != nil {
				out.Error = result.Err.Error()
			}
		}

		if err := enc.Encode(out); err != nil {
			return errors.Wrap(err, "error writing result")
		}
	}

	processed, _, failed := ctrl.Stats()
	log.WithFields(logrus.Fields{
		"files":     len(files),
		"processed": processed,
		"failed":    failed,
		"elapsed":   time.Since(start).String(),
	}).Infof("detect: searched %s", english.Plural(len(files), "file", "files"))

	if opts.Profile {
		prof.Report()
	}
	return nil
}

// detectEncoded predicts on the encoded file without a full decode.
func detectEncoded(ctx context.Context, engine inference.Engine, file util.ImageFile) fileResult {
	out := fileResult{File: file.Path, Detections: []inference.FrameDetection{}}

	header, _, err := images.DecodeConfig(file.Data)
	if err != nil {
		log.WithError(err).WithField("file", file.Path).Warn("skipping undecodable file")
		out.Error = err.Error()
		return out
	}
	out.Width, out.Height = header.Width, header.Height

	dets, err := engine.PredictEncoded(ctx, file.Data)
	if err != nil {
		log.WithError(err).WithField("file", file.Path).Warn("frame failed")
		out.Error = err.Error()
		return out
	}
	out.Detections = dets
	return out
}
