package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nvr-ai/go-facemask/images"
	"github.com/nvr-ai/go-facemask/inference"
	"github.com/nvr-ai/go-facemask/inference/providers"
	"github.com/nvr-ai/go-facemask/models/facemask"
	"github.com/nvr-ai/go-facemask/models/model/preprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "facemask.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 260, cfg.Detector.InputSize)
	assert.Equal(t, float32(0.5), cfg.Detector.ConfidenceThreshold)
	assert.Equal(t, float32(0.4), cfg.Detector.NMS.IoUThreshold)
	assert.Equal(t, LayoutNHWC, cfg.Layout)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  json: true
model:
  backend: onnx
  model_path: models/face_mask_detection.onnx
  threads: 2
  provider:
    backend: openvino
    openvino:
      device_type: GPU
layout: nchw
detector:
  confidence_threshold: 0.6
  nms:
    iou_threshold: 0.5
    mode: min
profiler:
  report_interval: 30s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, LogConfig{Level: "debug", JSON: true}, cfg.Log)
	assert.Equal(t, "models/face_mask_detection.onnx", cfg.Model.ModelPath)
	assert.Equal(t, 2, cfg.Model.Threads)
	assert.Equal(t, providers.OpenVINOProviderBackend, cfg.Model.Provider.Backend)
	assert.Equal(t, "GPU", cfg.Model.Provider.OpenVINO.DeviceType)
	assert.Equal(t, inference.DefaultInputName, cfg.Model.InputName, "unset keys keep defaults")
	assert.Equal(t, LayoutNCHW, cfg.Layout)
	assert.Equal(t, float32(0.6), cfg.Detector.ConfidenceThreshold)
	assert.Equal(t, float32(0.5), cfg.Detector.NMS.IoUThreshold)
	assert.Equal(t, images.OverlapMin, cfg.Detector.NMS.Mode)
	assert.Equal(t, []string{facemask.LabelMask, facemask.LabelNoMask}, cfg.Detector.Labels)
	assert.Equal(t, 30*time.Second, cfg.Profiler.ReportInterval)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", "detector:\n  confidence: 0.5\n"},
		{"threshold out of range", "detector:\n  confidence_threshold: 1.5\n"},
		{"bad layout", "layout: hwcn\n"},
		{"bad backend", "model:\n  backend: torch\n"},
		{"bad overlap mode", "detector:\n  nms:\n    mode: max\n"},
		{"malformed yaml", "detector: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestRunnerConfig(t *testing.T) {
	cfg := Default()
	cfg.Model.ModelPath = "face_mask_detection.onnx"

	rc := cfg.RunnerConfig()
	assert.Equal(t, []int64{1, 260, 260, 3}, rc.InputShape)
	assert.Equal(t, 5972, rc.Anchors)
	require.NoError(t, rc.Validate())

	cfg.Layout = LayoutNCHW
	assert.Equal(t, []int64{1, 3, 260, 260}, cfg.RunnerConfig().InputShape)

	cfg.Model.InputShape = []int64{1, 260, 260, 3}
	assert.Equal(t, []int64{1, 260, 260, 3}, cfg.RunnerConfig().InputShape, "explicit shapes win")
}

func TestPreprocessConfig(t *testing.T) {
	cfg := Default()
	assert.Equal(t, preprocess.ChannelOrderHWC, cfg.PreprocessConfig().ChannelOrder)
	assert.Equal(t, 260, cfg.PreprocessConfig().InputWidth)

	cfg.Layout = LayoutNCHW
	assert.Equal(t, preprocess.ChannelOrderCHW, cfg.PreprocessConfig().ChannelOrder)
}

func TestApplyLogging(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "verbose"
	assert.ErrorIs(t, cfg.ApplyLogging(), ErrInvalidConfig)
}
