// internal/inference/onnx.go
package inference

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ErrEngineClosed is returned by Run once Close has been called.
var ErrEngineClosed = errors.New("inference session is closed")

// ONNXOptions configures an ONNX Runtime engine.
type ONNXOptions struct {
	// SharedLibraryPath points at onnxruntime.so/.dylib/.dll. Empty uses the
	// runtime's default lookup.
	SharedLibraryPath string
	InputName         string
	OutputName        string
	// OutputShape is the shape of the single output tensor, e.g. [1 1].
	OutputShape []int64
}

// DefaultONNXOptions matches a single-input, single-scalar-output classifier.
func DefaultONNXOptions() ONNXOptions {
	return ONNXOptions{
		InputName:   "input",
		OutputName:  "output",
		OutputShape: []int64{1, 1},
	}
}

// The ONNX Runtime environment is process global; engines share it and the
// last one to close tears it down.
var (
	envMu   sync.Mutex
	envRefs int
)

func acquireEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 {
		return nil
	}
	envRefs--
	if envRefs == 0 {
		return ort.DestroyEnvironment()
	}
	return nil
}

// ONNXEngine wraps an ONNX Runtime session for serialized inference.
// It implements the Engine interface.
type ONNXEngine struct {
	mu          sync.Mutex
	session     *ort.DynamicAdvancedSession
	outputShape []int64
}

// NewONNXEngine creates a session from an in-memory ONNX model. Any resource
// acquired before a failure is released before the error is returned.
func NewONNXEngine(model []byte, opts ONNXOptions) (*ONNXEngine, error) {
	if len(model) == 0 {
		return nil, fmt.Errorf("failed to create ONNX session: empty model data")
	}
	if opts.InputName == "" || opts.OutputName == "" {
		return nil, fmt.Errorf("failed to create ONNX session: input and output names are required")
	}
	if len(opts.OutputShape) == 0 {
		opts.OutputShape = []int64{1, 1}
	}

	if err := acquireEnvironment(opts.SharedLibraryPath); err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(
		model,
		[]string{opts.InputName},
		[]string{opts.OutputName},
		nil, // default session options
	)
	if err != nil {
		if relErr := releaseEnvironment(); relErr != nil {
			err = errors.Join(err, relErr)
		}
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXEngine{
		session:     session,
		outputShape: append([]int64(nil), opts.OutputShape...),
	}, nil
}

// OpenONNX returns an Opener that builds ONNX engines with opts.
func OpenONNX(opts ONNXOptions) Opener {
	return func(model []byte) (Engine, error) {
		return NewONNXEngine(model, opts)
	}
}

// Run executes the model on input with the given shape and returns a copy of
// the output tensor data.
func (e *ONNXEngine) Run(input []float32, shape []int64) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, ErrEngineClosed
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(shape...), input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(e.outputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	err = e.session.Run(
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
	)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := outputTensor.GetData()
	result := make([]float32, len(out))
	copy(result, out)
	return result, nil
}

// Close destroys the session and drops this engine's hold on the environment.
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil
	}

	err := e.session.Destroy()
	e.session = nil
	if relErr := releaseEnvironment(); relErr != nil {
		err = errors.Join(err, relErr)
	}
	if err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

// Ensure ONNXEngine implements Engine at compile time
var _ Engine = (*ONNXEngine)(nil)
