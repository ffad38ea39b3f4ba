//go:build !tflite

package inference

import "github.com/pkg/errors"

// NewTFLiteRunner reports that TensorFlow Lite support was not compiled in.
// Build with -tags tflite to enable it.
func NewTFLiteRunner(RunnerConfig) (Runner, error) {
	return nil, errors.Wrap(ErrBackendUnavailable, "tflite support requires the tflite build tag")
}
