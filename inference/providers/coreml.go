package providers

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// CoreMLProviderBackend uses Apple CoreML for macOS/iOS acceleration.
	CoreMLProviderBackend ProviderBackend = "coreml"
)

// CoreML flag bits, see coreml_provider_factory.h.
const (
	CoreMLFlagUseCPUOnly          uint32 = 0x001
	CoreMLFlagEnableOnSubgraph    uint32 = 0x002
	CoreMLFlagOnlyEnableDeviceANE uint32 = 0x004
	CoreMLFlagStaticInputShapes   uint32 = 0x008
)

// CoreMLOptions contains arguments for the CoreML provider.
// See: https://onnxruntime.ai/docs/execution-providers/CoreML-ExecutionProvider.html
type CoreMLOptions struct {
	// Flags is a bitwise OR of the CoreMLFlag constants.
	Flags uint32 `json:"flags" yaml:"flags"`
}

func (CoreMLOptions) isProviderOptions() {}

// CoreMLProvider implements the ExecutionProvider interface.
type CoreMLProvider struct {
	options CoreMLOptions
}

// NewCoreMLProvider creates a new CoreML provider.
func NewCoreMLProvider(options CoreMLOptions) *CoreMLProvider {
	return &CoreMLProvider{options: options}
}

// Backend returns the backend of the CoreML provider.
func (p *CoreMLProvider) Backend() ProviderBackend {
	return CoreMLProviderBackend
}

// Options returns the options of the CoreML provider.
func (p *CoreMLProvider) Options() ProviderOptions {
	return p.options
}

// Apply enables CoreML on the session options.
func (p *CoreMLProvider) Apply(options *ort.SessionOptions) error {
	if err := options.AppendExecutionProviderCoreML(p.options.Flags); err != nil {
		return errors.Wrap(err, "error enabling CoreML")
	}
	return nil
}
