// internal/handler/errors.go
package handler

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/SyedDaiam9101/liveness-service/internal/liveness"
)

// grpcError maps known internal errors to appropriate gRPC status errors
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var invalid *liveness.InvalidInputError
	var infer *liveness.InferenceError
	var load *liveness.LoadError

	switch {
	case errors.As(err, &invalid):
		return status.Errorf(codes.InvalidArgument, "%v", invalid)

	case errors.Is(err, liveness.ErrClosed):
		return status.Errorf(codes.FailedPrecondition, "liveness classifier not initialized")

	case errors.As(err, &load):
		return status.Errorf(codes.FailedPrecondition, "model loading failed: %v", load)

	case errors.As(err, &infer):
		return status.Errorf(codes.Internal, "inference execution failed: %v", infer)

	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "no classifier available: %v", err)

	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "request canceled")

	default:
		return status.Errorf(codes.Internal, "internal error: %v", err)
	}
}

// invalidArgumentError creates an InvalidArgument gRPC error
func invalidArgumentError(format string, args ...interface{}) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

// failedPreconditionError creates a FailedPrecondition gRPC error
func failedPreconditionError(format string, args ...interface{}) error {
	return status.Errorf(codes.FailedPrecondition, format, args...)
}

// internalError creates an Internal gRPC error
func internalError(format string, args ...interface{}) error {
	return status.Errorf(codes.Internal, format, args...)
}
