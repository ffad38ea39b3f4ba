// Package providers - ONNX Runtime execution providers and sessions.
package providers

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ErrUnsupportedBackend is returned for a backend name no provider is registered for.
var ErrUnsupportedBackend = errors.New("unsupported provider backend")

// ProviderBackend represents different ONNX Runtime execution providers
type ProviderBackend string

// ProviderOptions is a marker interface for provider-specific config.
type ProviderOptions interface {
	isProviderOptions()
}

// ExecutionProvider represents the contract that all execution providers must implement.
type ExecutionProvider interface {
	// Backend returns the backend name.
	Backend() ProviderBackend
	// Options returns the provider-specific options.
	Options() ProviderOptions
	// Apply enables the provider on a set of session options.
	Apply(options *ort.SessionOptions) error
}

// Config selects and configures an execution provider.
type Config struct {
	// Backend specifies the backend to use.
	Backend ProviderBackend `json:"backend" yaml:"backend"`
	// CoreML holds options used when Backend is "coreml".
	CoreML CoreMLOptions `json:"coreml" yaml:"coreml"`
	// OpenVINO holds options used when Backend is "openvino".
	OpenVINO OpenVINOOptions `json:"openvino" yaml:"openvino"`
	// CUDA holds options used when Backend is "cuda".
	CUDA CUDAOptions `json:"cuda" yaml:"cuda"`
}

// DefaultConfig returns a CPU-only provider configuration.
func DefaultConfig() Config {
	return Config{Backend: CPUProviderBackend}
}

// NewProvider creates a new provider based on the required backend.
//
// Arguments:
//   - cfg: The provider configuration.
//
// Returns:
//   - ExecutionProvider: The new provider.
//   - error: ErrUnsupportedBackend if the backend is unknown.
func NewProvider(cfg Config) (ExecutionProvider, error) {
	switch cfg.Backend {
	case CPUProviderBackend, "":
		return NewCPUProvider(), nil
	case CoreMLProviderBackend:
		return NewCoreMLProvider(cfg.CoreML), nil
	case OpenVINOProviderBackend:
		return NewOpenVINOProvider(cfg.OpenVINO), nil
	case CUDAProviderBackend:
		return NewCUDAProvider(cfg.CUDA), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedBackend, "%q", cfg.Backend)
	}
}
