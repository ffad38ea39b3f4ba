package inference

import (
	"context"
	"image"
	"sync"
	"testing"

	"github.com/nvr-ai/go-facemask/images"
	"github.com/nvr-ai/go-facemask/models/facemask"
	"github.com/nvr-ai/go-facemask/models/model/preprocess"
	"github.com/nvr-ai/go-facemask/profiler"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// mockRunner returns fixed outputs for every input.
type mockRunner struct {
	mu          sync.Mutex
	shape       []int64
	locations   []float32
	scores      []float32
	shouldError bool
	calls       int
	lastInput   int
	closed      bool
}

func (m *mockRunner) Run(ctx context.Context, input []float32) (*Outputs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.lastInput = len(input)
	if m.shouldError {
		return nil, errors.New("mock runner error")
	}
	n := len(m.scores) / 2
	return &Outputs{
		Locations: tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(1, n, 4), tensor.WithBacking(append([]float32(nil), m.locations...))),
		Scores:    tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(1, n, 2), tensor.WithBacking(append([]float32(nil), m.scores...))),
	}, nil
}

func (m *mockRunner) InputShape() []int64 {
	return m.shape
}

func (m *mockRunner) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// newMockRunner builds a runner whose outputs decode to one no_mask face at box.
func newMockRunner(t testing.TB, box images.Box) *mockRunner {
	t.Helper()
	anchors := facemask.GenerateAnchors(facemask.DefaultAnchorConfig())
	m := &mockRunner{
		shape:     []int64{1, 260, 260, 3},
		locations: make([]float32, anchors.Len()*4),
		scores:    make([]float32, anchors.Len()*2),
	}

	const k = 5884
	anchor, ok := anchors.At(k)
	require.True(t, ok)
	enc := facemask.Encode(anchor, box)
	copy(m.locations[k*4:], enc[:])
	m.scores[k*2] = 0.1
	m.scores[k*2+1] = 0.9
	return m
}

func newTestEngine(t testing.TB, runner Runner) Engine {
	t.Helper()
	e, err := NewEngineBuilder().
		WithPreprocessor(preprocess.FaceMaskConfig(260, preprocess.ChannelOrderHWC)).
		WithRunnerInstance(runner).
		WithDetector(facemask.DefaultConfig()).
		Build()
	require.NoError(t, err)
	return e
}

func TestEngine_Predict(t *testing.T) {
	box := images.Box{X1: 0.25, Y1: 0.25, X2: 0.75, Y2: 0.75}
	runner := newMockRunner(t, box)
	e := newTestEngine(t, runner)

	dets, err := e.Predict(context.Background(), image.NewRGBA(image.Rect(0, 0, 640, 480)))
	require.NoError(t, err)
	require.Len(t, dets, 1)

	assert.Equal(t, facemask.LabelNoMask, dets[0].Label)
	assert.Equal(t, float32(0.9), dets[0].Score)
	assert.InDelta(t, 0.25, dets[0].Box.X1, 1e-5)
	assert.InDelta(t, 0.75, dets[0].Box.Y2, 1e-5)
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, 260*260*3, runner.lastInput)
}

func TestEngine_PredictFrame(t *testing.T) {
	runner := newMockRunner(t, images.Box{X1: 0.25, Y1: 0.25, X2: 0.75, Y2: 0.75})
	e := newTestEngine(t, runner)

	dets, err := e.PredictFrame(context.Background(), image.NewRGBA(image.Rect(0, 0, 640, 480)))
	require.NoError(t, err)
	require.Len(t, dets, 1)

	// The center crop of a 640x480 frame covers x in [80, 560).
	assert.Equal(t, image.Rect(200, 120, 440, 360), dets[0].Rect)
	assert.Equal(t, facemask.LabelNoMask, dets[0].Label)
}

func TestEngine_PredictEncoded(t *testing.T) {
	runner := newMockRunner(t, images.Box{X1: 0.25, Y1: 0.25, X2: 0.75, Y2: 0.75})
	e := newTestEngine(t, runner)

	data, err := images.Encode(image.NewRGBA(image.Rect(0, 0, 640, 480)), images.FormatPNG, 0)
	require.NoError(t, err)

	dets, err := e.PredictEncoded(context.Background(), data)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, image.Rect(200, 120, 440, 360), dets[0].Rect)
	assert.Equal(t, 260*260*3, runner.lastInput)

	_, err = e.PredictEncoded(context.Background(), []byte("corrupted"))
	assert.Error(t, err)
}

func TestEngine_PredictNothing(t *testing.T) {
	runner := newMockRunner(t, images.Box{X1: 0.25, Y1: 0.25, X2: 0.75, Y2: 0.75})
	for i := range runner.scores {
		runner.scores[i] = 0
	}
	e := newTestEngine(t, runner)

	dets, err := e.Predict(context.Background(), image.NewRGBA(image.Rect(0, 0, 100, 100)))
	require.NoError(t, err)
	assert.NotNil(t, dets)
	assert.Empty(t, dets)
}

func TestEngine_CanceledContext(t *testing.T) {
	runner := newMockRunner(t, images.Box{X1: 0.25, Y1: 0.25, X2: 0.75, Y2: 0.75})
	e := newTestEngine(t, runner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Predict(ctx, image.NewRGBA(image.Rect(0, 0, 100, 100)))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, runner.calls)
}

func TestEngine_Errors(t *testing.T) {
	runner := newMockRunner(t, images.Box{X1: 0.25, Y1: 0.25, X2: 0.75, Y2: 0.75})
	runner.shouldError = true
	e := newTestEngine(t, runner)

	_, err := e.Predict(context.Background(), image.NewRGBA(image.Rect(0, 0, 100, 100)))
	assert.ErrorContains(t, err, "mock runner error")

	_, err = e.Predict(context.Background(), nil)
	assert.ErrorIs(t, err, preprocess.ErrInvalidInput)
}

func TestEngine_Profiler(t *testing.T) {
	p := profiler.New(profiler.Options{})
	e, err := NewEngineBuilder().
		WithPreprocessor(preprocess.FaceMaskConfig(260, preprocess.ChannelOrderHWC)).
		WithRunnerInstance(newMockRunner(t, images.Box{X1: 0.25, Y1: 0.25, X2: 0.75, Y2: 0.75})).
		WithDetector(facemask.DefaultConfig()).
		WithProfiler(p).
		Build()
	require.NoError(t, err)

	_, err = e.Predict(context.Background(), image.NewRGBA(image.Rect(0, 0, 100, 100)))
	require.NoError(t, err)

	var names []string
	for _, op := range p.Operations() {
		names = append(names, op.Name)
	}
	assert.Equal(t, []string{"inference", "postprocess", "preprocess"}, names)
}

func TestEngine_Close(t *testing.T) {
	runner := newMockRunner(t, images.Box{X1: 0.25, Y1: 0.25, X2: 0.75, Y2: 0.75})
	e := newTestEngine(t, runner)

	require.NoError(t, e.Close())
	assert.True(t, runner.closed)
}

func TestEngineBuilder_Errors(t *testing.T) {
	box := images.Box{X1: 0.25, Y1: 0.25, X2: 0.75, Y2: 0.75}

	t.Run("missing stages", func(t *testing.T) {
		_, err := NewEngineBuilder().Build()
		assert.ErrorIs(t, err, ErrNotConfigured)

		_, err = NewEngineBuilder().
			WithPreprocessor(preprocess.FaceMaskConfig(260, preprocess.ChannelOrderHWC)).
			WithDetector(facemask.DefaultConfig()).
			Build()
		assert.ErrorIs(t, err, ErrNotConfigured)
	})

	t.Run("first error is sticky", func(t *testing.T) {
		runner := newMockRunner(t, box)
		b := NewEngineBuilder().
			WithPreprocessor(nil).
			WithRunnerInstance(runner).
			WithDetector(facemask.DefaultConfig())
		assert.True(t, b.HasError())

		_, err := b.Build()
		assert.ErrorIs(t, err, preprocess.ErrInvalidInput)
	})

	t.Run("invalid detector config", func(t *testing.T) {
		cfg := facemask.DefaultConfig()
		cfg.ConfidenceThreshold = 2

		_, err := NewEngineBuilder().
			WithPreprocessor(preprocess.FaceMaskConfig(260, preprocess.ChannelOrderHWC)).
			WithRunnerInstance(newMockRunner(t, box)).
			WithDetector(cfg).
			Build()
		assert.ErrorIs(t, err, facemask.ErrInvalidConfig)
	})

	t.Run("input shape mismatch closes the runner", func(t *testing.T) {
		runner := newMockRunner(t, box)
		runner.shape = []int64{1, 300, 300, 3}

		_, err := NewEngineBuilder().
			WithPreprocessor(preprocess.FaceMaskConfig(260, preprocess.ChannelOrderHWC)).
			WithRunnerInstance(runner).
			WithDetector(facemask.DefaultConfig()).
			Build()
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.True(t, runner.closed)
	})

	t.Run("must build panics", func(t *testing.T) {
		assert.Panics(t, func() { NewEngineBuilder().MustBuild() })
	})
}
