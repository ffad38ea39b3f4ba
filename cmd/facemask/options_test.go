package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-facemask/config"
	"github.com/nvr-ai/go-facemask/inference"
	"github.com/nvr-ai/go-facemask/inference/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_Load(t *testing.T) {
	t.Run("defaults with overrides", func(t *testing.T) {
		cfg, err := options{
			ModelPath:  "face_mask_detection.onnx",
			Provider:   "coreml",
			Layout:     "nchw",
			Confidence: 0.7,
			IoU:        0.3,
			Threads:    2,
		}.load()
		require.NoError(t, err)

		assert.Equal(t, "face_mask_detection.onnx", cfg.Model.ModelPath)
		assert.Equal(t, inference.BackendONNX, cfg.Model.Backend)
		assert.Equal(t, providers.CoreMLProviderBackend, cfg.Model.Provider.Backend)
		assert.Equal(t, config.LayoutNCHW, cfg.Layout)
		assert.Equal(t, float32(0.7), cfg.Detector.ConfidenceThreshold)
		assert.Equal(t, float32(0.3), cfg.Detector.NMS.IoUThreshold)
		assert.Equal(t, 2, cfg.Model.Threads)
	})

	t.Run("tflite models select the tflite backend", func(t *testing.T) {
		cfg, err := options{ModelPath: "face_mask_detection.tflite"}.load()
		require.NoError(t, err)
		assert.Equal(t, inference.BackendTFLite, cfg.Model.Backend)
	})

	t.Run("flags override the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "facemask.yaml")
		require.NoError(t, os.WriteFile(path, []byte("model:\n  model_path: file.onnx\ndetector:\n  confidence_threshold: 0.8\n"), 0o600))

		cfg, err := options{ConfigPath: path, Confidence: 0.6}.load()
		require.NoError(t, err)
		assert.Equal(t, "file.onnx", cfg.Model.ModelPath)
		assert.Equal(t, float32(0.6), cfg.Detector.ConfidenceThreshold)
	})

	t.Run("model is required", func(t *testing.T) {
		_, err := options{}.load()
		assert.Error(t, err)
	})

	t.Run("invalid override", func(t *testing.T) {
		_, err := options{ModelPath: "m.onnx", Layout: "hwc"}.load()
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})
}

func TestCollectInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame-2.jpg", "frame-1.jpg", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o600))
	}
	single := filepath.Join(t.TempDir(), "face.png")
	require.NoError(t, os.WriteFile(single, []byte("png"), 0o600))

	files, err := collectInputs([]string{single, dir})
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, single, files[0].Path)
	assert.Equal(t, 1, files[1].Frame)
	assert.Equal(t, 2, files[2].Frame)

	_, err = collectInputs([]string{filepath.Join(dir, "missing.jpg")})
	assert.Error(t, err)
}
