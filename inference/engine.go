package inference

import (
	"context"
	"image"

	"github.com/nvr-ai/go-facemask/models/facemask"
	"github.com/nvr-ai/go-facemask/models/model/preprocess"
	"github.com/nvr-ai/go-facemask/models/postprocess"
	"github.com/nvr-ai/go-facemask/profiler"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrNotConfigured is returned by Build when a required stage is missing.
var ErrNotConfigured = errors.New("engine not configured")

// FrameDetection is a detection with its box projected onto the source frame.
type FrameDetection struct {
	postprocess.Detection
	// Rect is the detection in source frame pixels.
	Rect image.Rectangle `json:"rect"`
}

// Engine defines the interface for the face mask inference engine.
type Engine interface {
	// Predict returns the detections for a frame, boxes normalized to the model input.
	Predict(ctx context.Context, img image.Image) ([]postprocess.Detection, error)
	// PredictFrame returns the detections for a frame with source pixel rectangles.
	PredictFrame(ctx context.Context, img image.Image) ([]FrameDetection, error)
	// PredictEncoded is PredictFrame for JPEG, PNG or WebP bytes.
	PredictEncoded(ctx context.Context, data []byte) ([]FrameDetection, error)
	// Close releases the model runtime.
	Close() error
}

// EngineBuilder assembles an Engine with a fluent API.
//
// The first error is kept and every later step is skipped.
type EngineBuilder struct {
	preprocessor *preprocess.Preprocessor
	runner       Runner
	detector     *facemask.Detector
	profiler     *profiler.Profiler
	err          error
}

// NewEngineBuilder creates a new engine builder.
//
// Returns:
//   - *EngineBuilder: The engine builder.
//
// Example Usage:
// ```go
//
//	engine, err := inference.NewEngineBuilder().
//		WithPreprocessor(preprocess.FaceMaskConfig(260, preprocess.ChannelOrderHWC)).
//		WithRunner(runnerConfig).
//		WithDetector(facemask.DefaultConfig()).
//		Build()
//
// ```
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{}
}

// WithPreprocessor sets the frame preprocessing for the engine.
//
// Arguments:
//   - cfg: The preprocessing configuration.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithPreprocessor(cfg *preprocess.ModelConfig) *EngineBuilder {
	if b.HasError() {
		return b
	}

	p, err := preprocess.NewPreprocessor(cfg)
	if err != nil {
		b.err = err
		return b
	}
	b.preprocessor = p
	return b
}

// WithRunner loads the model described by cfg.
//
// Arguments:
//   - cfg: The runner configuration.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithRunner(cfg RunnerConfig) *EngineBuilder {
	if b.HasError() {
		return b
	}

	r, err := NewRunner(cfg)
	if err != nil {
		b.err = err
		return b
	}
	b.runner = r
	return b
}

// WithRunnerInstance uses an existing runner. The engine takes ownership of it.
func (b *EngineBuilder) WithRunnerInstance(r Runner) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if r == nil {
		b.err = errors.Wrap(ErrNotConfigured, "nil runner")
		return b
	}
	b.runner = r
	return b
}

// WithDetector sets the output decoding for the engine.
//
// Arguments:
//   - cfg: The detector configuration.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithDetector(cfg facemask.Config) *EngineBuilder {
	if b.HasError() {
		return b
	}

	d, err := facemask.NewDetector(cfg)
	if err != nil {
		b.err = err
		return b
	}
	b.detector = d
	return b
}

// WithProfiler records per-stage timings on p.
func (b *EngineBuilder) WithProfiler(p *profiler.Profiler) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.profiler = p
	return b
}

// HasError checks if the engine builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// MustBuild builds the engine and panics if there is an error.
//
// Returns:
//   - Engine: The engine.
func (b *EngineBuilder) MustBuild() Engine {
	e, err := b.Build()
	if err != nil {
		panic(err)
	}
	return e
}

// Build builds the engine.
//
// A runner already loaded is closed when the build fails.
//
// Returns:
//   - Engine: The engine.
//   - error: The error if any.
func (b *EngineBuilder) Build() (Engine, error) {
	e, err := b.build()
	if err != nil && b.runner != nil {
		if cerr := b.runner.Close(); cerr != nil {
			log.WithError(cerr).Warn("error closing runner")
		}
		b.runner = nil
	}
	return e, err
}

func (b *EngineBuilder) build() (*engine, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.preprocessor == nil {
		return nil, errors.Wrap(ErrNotConfigured, "preprocessor not configured")
	}
	if b.runner == nil {
		return nil, errors.Wrap(ErrNotConfigured, "runner not configured")
	}
	if b.detector == nil {
		return nil, errors.Wrap(ErrNotConfigured, "detector not configured")
	}

	cfg := b.preprocessor.Config()
	if want, got := cfg.InputWidth*cfg.InputHeight*3, inputSize(b.runner.InputShape()); want != got {
		return nil, errors.Wrapf(ErrInvalidInput,
			"preprocessor produces %d values, runner expects %v", want, b.runner.InputShape())
	}

	return &engine{
		preprocessor: b.preprocessor,
		runner:       b.runner,
		detector:     b.detector,
		profiler:     b.profiler,
	}, nil
}

// engine implements the Engine interface.
type engine struct {
	preprocessor *preprocess.Preprocessor
	runner       Runner
	detector     *facemask.Detector
	profiler     *profiler.Profiler
}

// Predict predicts the detections of one frame.
//
// Arguments:
//   - ctx: The context for the prediction.
//   - img: The frame to predict.
//
// Returns:
//   - []postprocess.Detection: The surviving detections, never nil on success.
//   - error: The error if any.
func (e *engine) Predict(ctx context.Context, img image.Image) ([]postprocess.Detection, error) {
	dets, _, err := e.predict(ctx, img)
	return dets, err
}

// PredictFrame predicts the detections of one frame in frame pixels.
func (e *engine) PredictFrame(ctx context.Context, img image.Image) ([]FrameDetection, error) {
	return project(e.predict(ctx, img))
}

// PredictEncoded predicts the detections of an encoded frame in frame pixels.
// Center crop inputs are cropped and resized before decoding.
func (e *engine) PredictEncoded(ctx context.Context, data []byte) ([]FrameDetection, error) {
	return project(e.run(ctx, func() (*preprocess.Result, error) {
		return e.preprocessor.PreprocessEncoded(data)
	}))
}

func project(dets []postprocess.Detection, input *preprocess.Result, err error) ([]FrameDetection, error) {
	if err != nil {
		return nil, err
	}

	out := make([]FrameDetection, len(dets))
	for i, d := range dets {
		out[i] = FrameDetection{Detection: d, Rect: input.Project(d.Box)}
	}
	return out, nil
}

func (e *engine) predict(ctx context.Context, img image.Image) ([]postprocess.Detection, *preprocess.Result, error) {
	return e.run(ctx, func() (*preprocess.Result, error) {
		return e.preprocessor.Preprocess(img)
	})
}

func (e *engine) run(
	ctx context.Context,
	prepare func() (*preprocess.Result, error),
) ([]postprocess.Detection, *preprocess.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	done := e.track("preprocess")
	input, err := prepare()
	done()
	if err != nil {
		return nil, nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	done = e.track("inference")
	outputs, err := e.runner.Run(ctx, input.Data)
	done()
	if err != nil {
		return nil, nil, errors.Wrap(err, "error running model")
	}

	done = e.track("postprocess")
	dets, err := e.detector.DetectTensors(outputs.Locations, outputs.Scores)
	done()
	if err != nil {
		return nil, nil, err
	}

	log.WithFields(logrus.Fields{
		"width":      input.OriginalWidth,
		"height":     input.OriginalHeight,
		"detections": len(dets),
	}).Trace("frame predicted")

	return dets, input, nil
}

func (e *engine) track(stage string) func() {
	if e.profiler == nil {
		return func() {}
	}
	return e.profiler.StartOperation(stage)
}

// Close releases the model runtime.
func (e *engine) Close() error {
	return e.runner.Close()
}
