// internal/inference/mock.go
package inference

import (
	"fmt"
	"sync"
)

// MockEngine is a deterministic Engine for tests and for running the service
// without the ONNX shared library. It returns Score as a (1,1) output.
type MockEngine struct {
	mu sync.Mutex

	// Score is the scalar returned by every Run call
	Score float32
	// ShouldError if true, Run will return an error
	ShouldError bool
	// ErrorMessage is the error message to return when ShouldError is true
	ErrorMessage string

	// CallCount tracks the number of times Run was called
	CallCount int
	// CloseCount tracks the number of times Close was called
	CloseCount int
	// LastInput and LastShape hold the arguments of the most recent Run
	LastInput []float32
	LastShape []int64
}

// NewMock creates a MockEngine that always reports score.
func NewMock(score float32) *MockEngine {
	return &MockEngine{Score: score}
}

// Run records its arguments and returns Score.
func (m *MockEngine) Run(input []float32, shape []int64) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallCount++
	m.LastInput = append(m.LastInput[:0], input...)
	m.LastShape = append(m.LastShape[:0], shape...)

	if m.ShouldError {
		if m.ErrorMessage != "" {
			return nil, fmt.Errorf("%s", m.ErrorMessage)
		}
		return nil, fmt.Errorf("mock inference error")
	}

	size := int64(1)
	for _, d := range shape {
		size *= d
	}
	if int64(len(input)) != size {
		return nil, fmt.Errorf("input has wrong size: got %d, expected %d", len(input), size)
	}

	return []float32{m.Score}, nil
}

// Close counts calls; the mock holds no resources.
func (m *MockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCount++
	return nil
}

// SetError configures the mock to fail every subsequent Run call
func (m *MockEngine) SetError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldError = true
	m.ErrorMessage = msg
}

// ClearError clears any configured error
func (m *MockEngine) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldError = false
	m.ErrorMessage = ""
}

// Calls returns CallCount under the lock.
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// Closes returns CloseCount under the lock.
func (m *MockEngine) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CloseCount
}

// MockOpener returns an Opener that hands out m for any non-empty model.
func MockOpener(m *MockEngine) Opener {
	return func(model []byte) (Engine, error) {
		if len(model) == 0 {
			return nil, fmt.Errorf("failed to create mock session: empty model data")
		}
		return m, nil
	}
}

// Ensure MockEngine implements Engine at compile time
var _ Engine = (*MockEngine)(nil)
