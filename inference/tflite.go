//go:build tflite

package inference

import (
	"context"
	"sync"

	"github.com/mattn/go-tflite"
	"github.com/pkg/errors"
)

// TFLiteRunner runs a .tflite model through the TensorFlow Lite interpreter.
type TFLiteRunner struct {
	mu          sync.Mutex
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	shape       []int64
	anchors     int
}

// NewTFLiteRunner loads a TensorFlow Lite model.
//
// Arguments:
//   - cfg: The runner configuration.
//
// Returns:
//   - *TFLiteRunner: The runner.
//   - error: An error if the model cannot be loaded.
func NewTFLiteRunner(cfg RunnerConfig) (*TFLiteRunner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	model := tflite.NewModelFromFile(cfg.ModelPath)
	if model == nil {
		return nil, errors.Errorf("error loading tflite model %s", cfg.ModelPath)
	}

	options := tflite.NewInterpreterOptions()
	if cfg.Threads > 0 {
		options.SetNumThread(cfg.Threads)
	}
	options.SetErrorReporter(func(msg string, _ interface{}) {
		log.WithField("model", cfg.ModelPath).Warn(msg)
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, errors.Errorf("error creating tflite interpreter for %s", cfg.ModelPath)
	}

	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return nil, errors.Errorf("error allocating tflite tensors: %v", status)
	}

	if n := interpreter.GetOutputTensorCount(); n < 2 {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return nil, errors.Wrapf(ErrInvalidInput, "model has %d outputs, expected 2", n)
	}

	log.WithField("model", cfg.ModelPath).Info("tflite interpreter created")

	return &TFLiteRunner{
		model:       model,
		options:     options,
		interpreter: interpreter,
		shape:       append([]int64(nil), cfg.InputShape...),
		anchors:     cfg.Anchors,
	}, nil
}

// Run executes the model on one input.
func (r *TFLiteRunner) Run(ctx context.Context, input []float32) (*Outputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(input) != inputSize(r.shape) {
		return nil, errors.Wrapf(ErrInvalidInput, "input has %d values, model expects %v", len(input), r.shape)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.interpreter == nil {
		return nil, ErrRunnerClosed
	}

	dst := r.interpreter.GetInputTensor(0).Float32s()
	if len(dst) != len(input) {
		return nil, errors.Wrapf(ErrInvalidInput, "model input holds %d values, got %d", len(dst), len(input))
	}
	copy(dst, input)

	if status := r.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.Errorf("error running tflite model: %v", status)
	}

	// The converted graph does not keep output names, the locations are the
	// output with four values per anchor.
	first := r.interpreter.GetOutputTensor(0).Float32s()
	second := r.interpreter.GetOutputTensor(1).Float32s()
	if len(first) == r.anchors*4 {
		return newOutputs(first, second, r.anchors)
	}
	return newOutputs(second, first, r.anchors)
}

// InputShape returns the expected input tensor shape.
func (r *TFLiteRunner) InputShape() []int64 {
	return append([]int64(nil), r.shape...)
}

// Close releases the interpreter and model.
func (r *TFLiteRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.interpreter == nil {
		return nil
	}
	r.interpreter.Delete()
	r.options.Delete()
	r.model.Delete()
	r.interpreter = nil
	return nil
}
