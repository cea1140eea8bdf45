package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrTransport       = errors.New("transport failure")
	ErrOperationFailed = errors.New("operation failed")
	ErrLockHeld        = errors.New("lock already held")
)

// ValidationError reports malformed caller input. It is raised before any
// ledger call is made and is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + " " + e.Reason
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TransportError wraps a failure surfaced by the ledger transport. Retryable
// failures (network errors, throttling, server faults) are retried by the
// engine; non-retryable ones (rejected transactions) end the attempt loop.
type TransportError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *TransportError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports whether target is ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Retryable wraps err as a transient transport failure.
func Retryable(op string, err error) error {
	return &TransportError{Op: op, Retryable: true, Err: err}
}

// Fatal wraps err as a permanent transport failure.
func Fatal(op string, err error) error {
	return &TransportError{Op: op, Retryable: false, Err: err}
}

// IsRetryable reports whether err should be retried. Errors that carry no
// classification are treated as retryable.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return true
}

// OperationFailedError is the terminal error returned once the retry budget
// is spent, a fatal transport error is seen, or the caller's context ends.
type OperationFailedError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *OperationFailedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *OperationFailedError) Unwrap() error { return e.Err }

// Is reports whether target is ErrOperationFailed.
func (e *OperationFailedError) Is(target error) bool {
	return target == ErrOperationFailed
}
