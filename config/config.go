// Package config - YAML configuration of the face mask detector.
package config

import (
	"io"
	"os"

	"github.com/nvr-ai/go-facemask/event"
	"github.com/nvr-ai/go-facemask/inference"
	"github.com/nvr-ai/go-facemask/models/facemask"
	"github.com/nvr-ai/go-facemask/models/model/preprocess"
	"github.com/nvr-ai/go-facemask/profiler"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a configuration file cannot be used.
var ErrInvalidConfig = errors.New("invalid configuration")

// Layout is the memory layout of the model input tensor.
type Layout string

const (
	// LayoutNHWC is [1, height, width, channels], used by the Keras and TFLite exports.
	LayoutNHWC Layout = "nhwc"
	// LayoutNCHW is [1, channels, height, width].
	LayoutNCHW Layout = "nchw"
)

// LogConfig configures the shared logger.
type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	JSON  bool   `json:"json" yaml:"json"`
}

// Config is the full configuration of the detector.
type Config struct {
	Log LogConfig `json:"log" yaml:"log"`
	// Model selects the runtime and the model file.
	Model inference.RunnerConfig `json:"model" yaml:"model"`
	// Layout is the input tensor layout the model expects.
	Layout Layout `json:"layout" yaml:"layout"`
	// Detector holds the thresholds, anchors and labels.
	Detector facemask.Config `json:"detector" yaml:"detector"`
	// Profiler configures periodic timing reports.
	Profiler profiler.Options `json:"profiler" yaml:"profiler"`
}

// Default returns the configuration of the published face mask model.
func Default() *Config {
	return &Config{
		Log:      LogConfig{Level: "info"},
		Model:    inference.RunnerConfig{Backend: inference.BackendONNX, InputName: inference.DefaultInputName},
		Layout:   LayoutNHWC,
		Detector: facemask.DefaultConfig(),
	}
}

// Load reads a YAML file over the defaults.
//
// Keys missing from the file keep their default value, unknown keys are rejected.
//
// Arguments:
//   - path: The path to the YAML file.
//
// Returns:
//   - *Config: The validated configuration.
//   - error: An error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening config %s", path)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "error loading config %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML from r over the defaults and validates the result.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section of the configuration.
func (c *Config) Validate() error {
	if c.Layout != LayoutNHWC && c.Layout != LayoutNCHW {
		return errors.Wrapf(ErrInvalidConfig, "unknown layout %q", c.Layout)
	}
	if err := c.Detector.Validate(); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if c.Model.Backend != inference.BackendONNX && c.Model.Backend != inference.BackendTFLite {
		return errors.Wrapf(ErrInvalidConfig, "unknown backend %q", c.Model.Backend)
	}
	if c.Model.Threads < 0 {
		return errors.Wrapf(ErrInvalidConfig, "threads must not be negative, got %d", c.Model.Threads)
	}
	return nil
}

// ApplyLogging configures the shared logger.
func (c *Config) ApplyLogging() error {
	if err := event.Configure(c.Log.Level, c.Log.JSON); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	return nil
}

// PreprocessConfig returns the frame preprocessing matching the model input.
func (c *Config) PreprocessConfig() *preprocess.ModelConfig {
	order := preprocess.ChannelOrderHWC
	if c.Layout == LayoutNCHW {
		order = preprocess.ChannelOrderCHW
	}
	return preprocess.FaceMaskConfig(c.Detector.InputSize, order)
}

// RunnerConfig returns the model runner configuration.
//
// The input shape and anchor count follow the detector settings unless the
// file sets them explicitly.
func (c *Config) RunnerConfig() inference.RunnerConfig {
	rc := c.Model
	size := int64(c.Detector.InputSize)
	if len(rc.InputShape) == 0 {
		if c.Layout == LayoutNCHW {
			rc.InputShape = []int64{1, 3, size, size}
		} else {
			rc.InputShape = []int64{1, size, size, 3}
		}
	}
	if rc.Anchors == 0 {
		rc.Anchors = c.Detector.Anchors.Count()
	}
	return rc
}
