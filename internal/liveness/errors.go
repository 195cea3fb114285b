package liveness

import (
	"errors"
	"fmt"
)

// ErrClosed is returned when a classifier or pool is used after Close.
var ErrClosed = errors.New("liveness classifier is closed")

// LoadError reports that the model artifact could not be loaded into an
// inference engine. It is only returned by construction.
type LoadError struct {
	Ref string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load liveness model %q: %v", e.Ref, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// InvalidInputError reports an image that does not satisfy the fixed input
// contract. No numeric work or inference happens for such an image.
type InvalidInputError struct {
	Width  int
	Height int
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid input image (%dx%d): %s", e.Width, e.Height, e.Reason)
	}
	return fmt.Sprintf("invalid input image: got %dx%d, expected %dx%d", e.Width, e.Height, InputSize, InputSize)
}

// InferenceError reports a failed forward pass. It indicates a broken engine
// or model rather than a retryable condition.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("liveness inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// IsInvalidInput reports whether err is or wraps an *InvalidInputError.
func IsInvalidInput(err error) bool {
	var target *InvalidInputError
	return errors.As(err, &target)
}

// IsInference reports whether err is or wraps an *InferenceError.
func IsInference(err error) bool {
	var target *InferenceError
	return errors.As(err, &target)
}

// IsLoad reports whether err is or wraps a *LoadError.
func IsLoad(err error) bool {
	var target *LoadError
	return errors.As(err, &target)
}
