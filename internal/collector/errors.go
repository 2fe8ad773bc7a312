package collector

import (
	"errors"
	"fmt"
)

// ValidationError rejects a malformed or unsupported inbound message.
// It is never queued and never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// NewValidationError builds a ValidationError with the given reason code.
func NewValidationError(reason string) *ValidationError {
	return &ValidationError{Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// UpstreamError is a hard upstream failure: the entity is missing or the
// payload is malformed. It propagates as a task failure.
type UpstreamError struct {
	Kind   QueryKind
	Reason string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Upstream builds a hard upstream failure for a query kind.
func Upstream(kind QueryKind, reason string) *UpstreamError {
	return &UpstreamError{Kind: kind, Reason: reason}
}

// IsUpstream reports whether err is a hard upstream failure.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// InfraError wraps an infrastructure failure (storage unavailable, pool
// exhausted). It propagates as a task failure; no retry beyond the per-call
// timeout.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InfraError) Unwrap() error { return e.Err }

// Infra wraps err as an infrastructure failure for the given operation.
func Infra(op string, err error) *InfraError {
	return &InfraError{Op: op, Err: err}
}

// IsInfra reports whether err is an infrastructure failure.
func IsInfra(err error) bool {
	var ie *InfraError
	return errors.As(err, &ie)
}

// Well-known validation reasons, mirrored on the wire.
var (
	ErrInvalidMessage    = NewValidationError("invalid_message")
	ErrUnsupportedSource = NewValidationError("unsupported_source")
	ErrUnsupportedType   = NewValidationError("unsupported_type")
)

// Task store sentinels shared by every implementation.
var (
	// ErrTaskNotFound is returned for lookups of unknown task ids.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskConflict rejects a status transition whose predecessor state
	// does not match, which is how a task claim stays exclusive.
	ErrTaskConflict = errors.New("task status conflict")
)
