package inference

import (
	"context"
	"sync"

	"github.com/nvr-ai/go-facemask/inference/providers"
	"github.com/pkg/errors"
)

// ORTRunner runs an ONNX model through onnxruntime.
//
// The session binds preallocated tensors, so runs are serialized.
type ORTRunner struct {
	mu      sync.Mutex
	session *providers.Session
	shape   []int64
	anchors int
}

// NewORTRunner loads an ONNX model.
//
// Arguments:
//   - cfg: The runner configuration.
//
// Returns:
//   - *ORTRunner: The runner.
//   - error: An error if the provider or session cannot be created.
func NewORTRunner(cfg RunnerConfig) (*ORTRunner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	provider, err := providers.NewProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	inputName := cfg.InputName
	if inputName == "" {
		inputName = DefaultInputName
	}

	session, err := providers.NewSession(provider, providers.NewSessionArgs{
		ModelPath:   cfg.ModelPath,
		LibraryPath: cfg.LibraryPath,
		Input:       providers.TensorSpec{Name: inputName, Shape: cfg.InputShape},
		Outputs: []providers.TensorSpec{
			{Name: LocationsOutput, Shape: []int64{1, int64(cfg.Anchors), 4}},
			{Name: ScoresOutput, Shape: []int64{1, int64(cfg.Anchors), 2}},
		},
		IntraOpThreads: cfg.Threads,
	})
	if err != nil {
		return nil, errors.Wrap(err, "error loading onnx model")
	}

	return &ORTRunner{
		session: session,
		shape:   append([]int64(nil), cfg.InputShape...),
		anchors: cfg.Anchors,
	}, nil
}

// Run executes the model on one input.
func (r *ORTRunner) Run(ctx context.Context, input []float32) (*Outputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(input) != inputSize(r.shape) {
		return nil, errors.Wrapf(ErrInvalidInput, "input has %d values, model expects %v", len(input), r.shape)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return nil, ErrRunnerClosed
	}

	copy(r.session.Input.GetData(), input)
	if err := r.session.Run(); err != nil {
		return nil, err
	}

	return newOutputs(r.session.Outputs[0].GetData(), r.session.Outputs[1].GetData(), r.anchors)
}

// InputShape returns the expected input tensor shape.
func (r *ORTRunner) InputShape() []int64 {
	return append([]int64(nil), r.shape...)
}

// Close releases the session.
func (r *ORTRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return nil
	}
	err := r.session.Close()
	r.session = nil
	return err
}
