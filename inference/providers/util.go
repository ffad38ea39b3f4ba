package providers

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
)

// LibraryPathEnv overrides the onnxruntime shared library location.
const LibraryPathEnv = "ONNXRUNTIME_LIB"

// ErrLibraryNotFound is returned when the onnxruntime shared library cannot be located.
var ErrLibraryNotFound = errors.New("onnxruntime library not found")

// GetSharedLibPath returns the path to the shared library for the current platform.
//
// Returns:
//   - string: The path to the shared library.
//   - error: ErrLibraryNotFound on platforms without a bundled build.
func GetSharedLibPath() (string, error) {
	if path := os.Getenv(LibraryPathEnv); path != "" {
		return path, nil
	}
	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "./third_party/onnxruntime.dll", nil
		}
	case "darwin":
		return "./third_party/libonnxruntime.1.23.0.dylib", nil
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so", nil
		}
		return "./third_party/onnxruntime.so", nil
	}
	return "", errors.Wrapf(ErrLibraryNotFound, "no build for %s/%s", runtime.GOOS, runtime.GOARCH)
}
