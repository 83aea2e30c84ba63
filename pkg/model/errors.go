package model

import (
	"errors"
	"fmt"
)

// Transport errors. All of them are transient and retried.
var (
	ErrTimeout          = errors.New("timeout")
	ErrInvalidByteValue = errors.New("invalid byte value")
	ErrTransport        = errors.New("transport error")
	ErrNotConnected     = errors.New("device not connected")
)

// ErrInvalidValue is returned by a driver that refuses to encode a value
var ErrInvalidValue = errors.New("invalid value")

// ErrDeviceNotFound is returned when the address is not advertised at setup
var ErrDeviceNotFound = errors.New("device not found")

// ErrValidation marks errors the caller has to correct
var ErrValidation = errors.New("validation failed")

// ValidationError is a caller error. It is never retried.
type ValidationError struct {
	Message string
	Err     error
}

// NewValidationError creates a ValidationError with a formatted message
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrValidation) true for every ValidationError
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// UpdateFailedError is returned when a refresh cycle could not read the
// mandatory attributes
type UpdateFailedError struct {
	Address  string
	Attempts int
	Err      error
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("error retrieving data from %s after %d attempt(s): %v", e.Address, e.Attempts, e.Err)
}

func (e *UpdateFailedError) Unwrap() error { return e.Err }

// CommandFailedError is returned when a command exhausted its retries
type CommandFailedError struct {
	Operation string
	Caller    string
	Err       error
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("error sending command %s from %s: %v", e.Operation, e.Caller, e.Err)
}

func (e *CommandFailedError) Unwrap() error { return e.Err }
