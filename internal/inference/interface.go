// internal/inference/interface.go
package inference

// Engine is a loaded model that can run a synchronous forward pass.
// This abstraction allows for easy mocking in tests and swapping runtimes.
type Engine interface {
	// Run executes one forward pass over input, a dense float32 buffer laid
	// out according to shape, and returns the flattened output tensor.
	Run(input []float32, shape []int64) ([]float32, error)

	// Close releases the runtime resources held by the engine. It is safe to
	// call more than once.
	Close() error
}

// Opener builds an Engine from a serialized model artifact.
type Opener func(model []byte) (Engine, error)
