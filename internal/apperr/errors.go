package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("deal not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// IllegalTransitionError is returned when an operation is invoked against a deal
// whose current status does not allow it. The deal is left untouched.
type IllegalTransitionError struct {
	Op     string
	Status string
	Reason string
}

func (e *IllegalTransitionError) Error() string {
	msg := fmt.Sprintf("operation %s is not allowed while deal is %s", e.Op, e.Status)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func IllegalTransition(op, status string) error {
	return &IllegalTransitionError{Op: op, Status: status}
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// Unauthorizedf wraps ErrUnauthorized with a reason so errors.Is still matches.
func Unauthorizedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// AsIllegalTransition reports whether err is an IllegalTransitionError and returns it.
func AsIllegalTransition(err error) (*IllegalTransitionError, bool) {
	var it *IllegalTransitionError
	if errors.As(err, &it) {
		return it, true
	}
	return nil, false
}
