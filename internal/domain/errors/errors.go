package errors

import (
	"errors"
	"fmt"
)

var (
	// Precondition errors, surfaced verbatim to the caller and never retried.
	ErrNoTransaction       = errors.New("could not load corresponding transaction")
	ErrNotRefundable       = errors.New("the transaction is not in a state to be refunded")
	ErrNotCompletable      = errors.New("the transaction is not in a state to be completed")
	ErrNotVoidable         = errors.New("the transaction is not in a state to be voided")
	ErrOperationInProgress = errors.New("another operation is in progress for this transaction")

	// Lookup errors
	ErrJobNotFound   = errors.New("job not found")
	ErrOrderNotFound = errors.New("order not found")

	// State machine errors
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// Lock errors
	ErrLockTimeout     = errors.New("transaction lock timeout")
	ErrSweepInProgress = errors.New("another sweep is in progress")
	ErrLockNotHeld     = errors.New("lock not held")

	// Gateway errors
	ErrGatewayUnavailable = errors.New("gateway unavailable")

	// Idempotency errors
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsPrecondition reports whether err is one of the synchronous precondition
// failures raised by an engine's execute step.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrNoTransaction) ||
		errors.Is(err, ErrNotRefundable) ||
		errors.Is(err, ErrNotCompletable) ||
		errors.Is(err, ErrNotVoidable) ||
		errors.Is(err, ErrOperationInProgress)
}
