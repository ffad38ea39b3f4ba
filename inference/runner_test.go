package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerConfig_Validate(t *testing.T) {
	valid := RunnerConfig{ModelPath: "face_mask_detection.onnx", InputShape: []int64{1, 260, 260, 3}, Anchors: 5972}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *RunnerConfig)
	}{
		{"missing model", func(c *RunnerConfig) { c.ModelPath = "" }},
		{"missing shape", func(c *RunnerConfig) { c.InputShape = nil }},
		{"zero dimension", func(c *RunnerConfig) { c.InputShape = []int64{1, 0, 260, 3} }},
		{"no anchors", func(c *RunnerConfig) { c.Anchors = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			cfg.InputShape = append([]int64(nil), valid.InputShape...)
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidInput)
		})
	}
}

func TestNewRunner_UnknownBackend(t *testing.T) {
	_, err := NewRunner(RunnerConfig{
		Backend:    "torch",
		ModelPath:  "model.pt",
		InputShape: []int64{1, 260, 260, 3},
		Anchors:    5972,
	})
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestNewOutputs(t *testing.T) {
	locations := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	scores := []float32{0.1, 0.9, 0.8, 0.2}

	out, err := newOutputs(locations, scores, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 4}, []int(out.Locations.Shape()))
	assert.Equal(t, []int{1, 2, 2}, []int(out.Scores.Shape()))

	// Outputs are copies of the runtime buffers.
	locations[0] = 100
	assert.Equal(t, float32(1), out.Locations.Float32s()[0])

	_, err = newOutputs(locations, scores, 3)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestInputSize(t *testing.T) {
	assert.Equal(t, 260*260*3, inputSize([]int64{1, 260, 260, 3}))
	assert.Equal(t, 1, inputSize(nil))
}
