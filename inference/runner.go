// Package inference - Model runners and the face mask inference engine.
package inference

import (
	"context"

	"github.com/nvr-ai/go-facemask/event"
	"github.com/nvr-ai/go-facemask/inference/providers"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

var log = event.Log

// Output tensor names of the exported face mask graph.
const (
	LocationsOutput = "loc_branch_concat_1/concat"
	ScoresOutput    = "cls_branch_concat_1/concat"
	// DefaultInputName is the input tensor name of the exported graph.
	DefaultInputName = "data_1"
)

var (
	// ErrBackendUnavailable is returned when a runner backend was not compiled in.
	ErrBackendUnavailable = errors.New("inference backend unavailable")
	// ErrInvalidInput is returned for input buffers that do not match the model.
	ErrInvalidInput = errors.New("invalid model input")
	// ErrRunnerClosed is returned when running a closed runner.
	ErrRunnerClosed = errors.New("runner closed")
)

// Backend selects the runtime that executes the model.
type Backend string

const (
	// BackendONNX runs .onnx models through onnxruntime.
	BackendONNX Backend = "onnx"
	// BackendTFLite runs .tflite models through TensorFlow Lite.
	BackendTFLite Backend = "tflite"
)

// Outputs holds the raw model outputs of one inference.
type Outputs struct {
	// Locations has shape [1, N, 4].
	Locations *tensor.Dense
	// Scores has shape [1, N, 2].
	Scores *tensor.Dense
}

// Runner executes the model on one preprocessed input.
type Runner interface {
	// Run executes the model. The input is copied, and the returned tensors
	// are owned by the caller.
	Run(ctx context.Context, input []float32) (*Outputs, error)
	// InputShape returns the expected input tensor shape.
	InputShape() []int64
	// Close releases the runtime resources.
	Close() error
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Backend selects the runtime (default: onnx).
	Backend Backend `json:"backend" yaml:"backend"`
	// ModelPath is the path to the model file.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// InputName is the input tensor name for onnx models.
	InputName string `json:"input_name" yaml:"input_name"`
	// InputShape is the input tensor shape, NHWC for the face mask graph.
	InputShape []int64 `json:"input_shape" yaml:"input_shape"`
	// Anchors is the number of anchors per output.
	Anchors int `json:"anchors" yaml:"anchors"`
	// Threads is the number of intra-op threads, 0 lets the runtime decide.
	Threads int `json:"threads" yaml:"threads"`
	// LibraryPath is the onnxruntime shared library path.
	LibraryPath string `json:"library_path" yaml:"library_path"`
	// Provider configures the onnxruntime execution provider.
	Provider providers.Config `json:"provider" yaml:"provider"`
}

// Validate checks a runner configuration.
func (c *RunnerConfig) Validate() error {
	if c.ModelPath == "" {
		return errors.Wrap(ErrInvalidInput, "model path is required")
	}
	if len(c.InputShape) == 0 {
		return errors.Wrap(ErrInvalidInput, "input shape is required")
	}
	for _, d := range c.InputShape {
		if d <= 0 {
			return errors.Wrapf(ErrInvalidInput, "input shape %v has a non-positive dimension", c.InputShape)
		}
	}
	if c.Anchors <= 0 {
		return errors.Wrapf(ErrInvalidInput, "anchor count %d must be positive", c.Anchors)
	}
	return nil
}

// NewRunner creates the runner for the configured backend.
//
// Arguments:
//   - cfg: The runner configuration.
//
// Returns:
//   - Runner: The runner, ready for Run.
//   - error: An error if the backend is unknown or the model cannot be loaded.
func NewRunner(cfg RunnerConfig) (Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendONNX, "":
		r, err := NewORTRunner(cfg)
		if err != nil {
			return nil, err
		}
		return r, nil
	case BackendTFLite:
		r, err := NewTFLiteRunner(cfg)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, errors.Wrapf(ErrBackendUnavailable, "unknown backend %q", cfg.Backend)
	}
}

// inputSize returns the number of elements of a shape.
func inputSize(shape []int64) int {
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}

// newOutputs copies raw model outputs into caller-owned tensors.
func newOutputs(locations, scores []float32, anchors int) (*Outputs, error) {
	if len(locations) != anchors*4 || len(scores) != anchors*2 {
		return nil, errors.Wrapf(ErrInvalidInput,
			"model returned %d locations and %d scores for %d anchors", len(locations), len(scores), anchors)
	}
	loc := make([]float32, len(locations))
	copy(loc, locations)
	cls := make([]float32, len(scores))
	copy(cls, scores)

	return &Outputs{
		Locations: tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(1, anchors, 4), tensor.WithBacking(loc)),
		Scores:    tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(1, anchors, 2), tensor.WithBacking(cls)),
	}, nil
}
