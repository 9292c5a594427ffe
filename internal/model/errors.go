package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared by every layer. The HTTP handler maps them to
// status codes; everything below it wraps with %w and never reclassifies.
var (
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("an active registration request already exists")
	ErrNotFound           = errors.New("registration request not found")
	ErrInvalidTransition  = errors.New("registration request is not pending")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTooManyAttempts    = errors.New("too many failed login attempts")
)

// ValidationError carries the individual field messages of a rejected input.
type ValidationError struct {
	Errors []string
}

// NewValidationError returns nil when there is nothing to report.
func NewValidationError(errs ...string) error {
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Errors: errs}
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Errors, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// TransitionError reports a decision attempted on an already decided request.
type TransitionError struct {
	TelegramID string
	Current    RequestStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("registration request %s is already %s", e.TelegramID, e.Current)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ValidationMessages extracts field messages from err, if it is a validation failure.
func ValidationMessages(err error) []string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Errors
	}
	return nil
}
