// Package errs collects the sentinel error kinds shared across the
// orchestrator core, mirroring the teacher's pkg/services/errors.go.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a session, subtask, or artifact does not
	// exist (or is soft-deleted and the caller did not ask to include
	// deleted records).
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned for duplicate creation attempts (e.g. a
	// second account registration for the same owner).
	ErrAlreadyExists = errors.New("already exists")

	// ErrAlreadyRunning is returned when next/all is issued against a
	// session that already has a background task in flight.
	ErrAlreadyRunning = errors.New("session already running")

	// ErrPlanNotConfirmed is returned when an execution-phase command is
	// issued against a session still in planning mode.
	ErrPlanNotConfirmed = errors.New("plan not confirmed")

	// ErrProviderUnavailable is returned by an Agent Runner backend after
	// retries are exhausted.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrRedoBudgetExhausted signals that a subtask hit its redo budget;
	// callers other than the executor should treat this as an internal
	// signal, not surface it to users (spec.md absorbs it into force-accept).
	ErrRedoBudgetExhausted = errors.New("redo budget exhausted")

	// ErrUnauthorized is returned by pkg/authn and pkg/api for missing or
	// invalid bearer tokens.
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError reports a single invalid-input field, mirroring the
// teacher's pkg/services/errors.go ValidationError.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// NewValidationError constructs a *ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is (or wraps) a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
