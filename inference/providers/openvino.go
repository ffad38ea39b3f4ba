package providers

import (
	"fmt"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// OpenVINOProviderBackend uses Intel OpenVINO for inference optimization.
	OpenVINOProviderBackend ProviderBackend = "openvino"
)

// OpenVINOOptions contains arguments for the OpenVINO provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
type OpenVINOOptions struct {
	DeviceID string `json:"device_id" yaml:"device_id"`
	// Overrides the accelerator hardware type (CPU, GPU, NPU) at runtime.
	DeviceType string `json:"device_type" yaml:"device_type"`
	// FP32, FP16 or ACCURACY. Empty keeps the hardware default.
	Precision string `json:"precision" yaml:"precision"`
	// Overrides the default number of inference threads.
	NumOfThreads int `json:"num_of_threads" yaml:"num_of_threads"`
	// Rewrites dynamic shaped models to static shape at runtime.
	DisableDynamicShapes bool `json:"disable_dynamic_shapes" yaml:"disable_dynamic_shapes"`
}

func (OpenVINOOptions) isProviderOptions() {}

// ProviderOptions returns the key/value form ONNX Runtime expects.
// Unset fields are left out so the runtime defaults apply.
func (o OpenVINOOptions) ProviderOptions() map[string]string {
	config := map[string]string{
		"disable_dynamic_shapes": fmt.Sprintf("%t", o.DisableDynamicShapes),
	}
	if o.DeviceID != "" {
		config["device_id"] = o.DeviceID
	}
	if o.DeviceType != "" {
		config["device_type"] = o.DeviceType
	}
	if o.Precision != "" {
		config["precision"] = o.Precision
	}
	if o.NumOfThreads > 0 {
		config["num_of_threads"] = fmt.Sprintf("%d", o.NumOfThreads)
	}
	return config
}

// OpenVINOProvider implements the ExecutionProvider interface.
type OpenVINOProvider struct {
	options OpenVINOOptions
}

// NewOpenVINOProvider creates a new OpenVINO provider.
func NewOpenVINOProvider(options OpenVINOOptions) *OpenVINOProvider {
	return &OpenVINOProvider{options: options}
}

// Backend returns the backend of the OpenVINO provider.
func (p *OpenVINOProvider) Backend() ProviderBackend {
	return OpenVINOProviderBackend
}

// Options returns the options of the OpenVINO provider.
func (p *OpenVINOProvider) Options() ProviderOptions {
	return p.options
}

// Apply enables OpenVINO on the session options.
func (p *OpenVINOProvider) Apply(options *ort.SessionOptions) error {
	if err := options.AppendExecutionProviderOpenVINO(p.options.ProviderOptions()); err != nil {
		return errors.Wrap(err, "error enabling OpenVINO")
	}
	return nil
}
