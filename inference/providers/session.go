package providers

import (
	"os"
	"sync"

	"github.com/nvr-ai/go-facemask/event"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

var log = event.Log

// initMu guards the process-wide ONNX Runtime environment.
var initMu sync.Mutex

// TensorSpec names a model tensor and its fixed shape.
type TensorSpec struct {
	Name  string
	Shape []int64
}

// Session represents a model session from the onnxruntime with preallocated tensors.
type Session struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Outputs []*ort.Tensor[float32]
}

// Run executes the model on the data currently held by Input.
func (s *Session) Run() error {
	if s.Session == nil {
		return errors.New("session is closed")
	}
	return errors.Wrap(s.Session.Run(), "error running ORT session")
}

// Close releases the resources associated with the Session.
func (s *Session) Close() error {
	if s.Input != nil {
		s.Input.Destroy()
		s.Input = nil
	}

	for _, output := range s.Outputs {
		output.Destroy()
	}
	s.Outputs = nil

	if s.Session != nil {
		err := s.Session.Destroy()
		s.Session = nil
		if err != nil {
			return errors.Wrap(err, "error destroying ORT session")
		}
	}

	return nil
}

// NewSessionArgs represents the arguments for creating a new ONNX session.
type NewSessionArgs struct {
	// The path to the ONNX model file.
	ModelPath string
	// The path to the onnxruntime shared library. Empty selects GetSharedLibPath.
	LibraryPath string
	// The single float input of the model.
	Input TensorSpec
	// The float outputs of the model, in the order they are returned.
	Outputs []TensorSpec
	// Intra-op thread count, 0 lets the runtime decide.
	IntraOpThreads int
}

// NewSession creates a new ONNX Runtime session with preallocated input and output tensors.
//
// The runtime environment is initialized on first use and shared by every session
// in the process. Tensors are owned by the returned Session and released by Close.
//
// Arguments:
//   - provider: The execution provider for the session.
//   - args: The arguments for the session.
//
// Returns:
//   - *Session: The session holding the native handle and its tensors.
//   - error: An error if the session creation fails.
func NewSession(provider ExecutionProvider, args NewSessionArgs) (*Session, error) {
	if err := initEnvironment(args.LibraryPath); err != nil {
		return nil, err
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(args.Input.Shape...))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}

	s := &Session{Input: input}
	outputNames := make([]string, 0, len(args.Outputs))
	outputs := make([]ort.Value, 0, len(args.Outputs))
	for _, spec := range args.Outputs {
		output, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.Shape...))
		if err != nil {
			s.Close()
			return nil, errors.Wrapf(err, "error creating output tensor %q", spec.Name)
		}
		s.Outputs = append(s.Outputs, output)
		outputNames = append(outputNames, spec.Name)
		outputs = append(outputs, output)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "error creating ORT session options")
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(args.IntraOpThreads); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "error setting intra-op threads")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "error setting graph optimization level")
	}
	if err := provider.Apply(options); err != nil {
		s.Close()
		return nil, err
	}

	session, err := ort.NewAdvancedSession(
		args.ModelPath,
		[]string{args.Input.Name},
		outputNames,
		[]ort.Value{input},
		outputs,
		options,
	)
	if err != nil {
		s.Close()
		return nil, errors.Wrapf(err, "error creating ORT session for %s", args.ModelPath)
	}
	s.Session = session

	log.WithFields(logrus.Fields{
		"model":    args.ModelPath,
		"provider": provider.Backend(),
		"input":    args.Input.Name,
		"outputs":  outputNames,
	}).Info("onnxruntime session created")

	return s, nil
}

func initEnvironment(libPath string) error {
	initMu.Lock()
	defer initMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	if libPath == "" {
		var err error
		if libPath, err = GetSharedLibPath(); err != nil {
			return err
		}
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(ErrLibraryNotFound, "%s: %v", libPath, err)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	return nil
}
