// Package exception provides the error types shared by the replication engine.
// Errors carry the module they originated in and whether the failed call may be
// retried in place, which drives the transient-retry executor.
package exception

import (
	"errors"
	"fmt"
	"runtime"
)

// BatchError is an error raised by one of the engine's modules.
// It holds the module where the error occurred, a message, the wrapped original
// error, and whether the failing call may be retried.
type BatchError struct {
	// Module indicates where the error occurred (e.g. "source", "writer", "store").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// isRetryable indicates whether the failing call may be retried in place.
	isRetryable bool
	// StackTrace is the stack trace at the time of the error (for debugging).
	StackTrace string
}

// NewBatchError creates a new BatchError instance.
//
// module: The module where the error occurred.
// message: The error message.
// originalErr: The original error to wrap (may be nil).
// isRetryable: Whether the failing call may be retried.
func NewBatchError(module, message string, originalErr error, isRetryable bool) *BatchError {
	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		StackTrace:  captureStack(),
	}
}

// NewBatchErrorf creates a non-retryable BatchError using a format string.
// A trailing error argument is extracted and wrapped instead of being formatted.
//
// Example:
//
//	NewBatchErrorf("target", "failed to truncate %s", table, err)
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	var originalErr error
	args := a
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}
	return &BatchError{
		Module:      module,
		Message:     fmt.Sprintf(format, args...),
		OriginalErr: originalErr,
		StackTrace:  captureStack(),
	}
}

func captureStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is retryable.
func (e *BatchError) IsRetryable() bool {
	return e.isRetryable
}

// IsBatchError reports whether err (or anything it wraps) is a BatchError.
func IsBatchError(err error) bool {
	var be *BatchError
	return errors.As(err, &be)
}

// RetryExhaustedError is returned when a retried call failed on every attempt.
// It wraps the cause of the final attempt.
type RetryExhaustedError struct {
	Operation string
	Attempts  int
	LastErr   error
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Operation, e.Attempts, e.LastErr)
}

// Unwrap returns the final attempt's cause.
func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsFatal reports whether err must not be retried in place.
// Anything that is not transient is fatal, and so is an exhausted retry.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var exhausted *RetryExhaustedError
	if errors.As(err, &exhausted) {
		return true
	}
	return !IsTransient(err)
}

// ExtractErrorMessage returns the BatchError message when available,
// falling back to the standard Error() string.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}
