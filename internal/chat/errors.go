package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the caller's credential is missing
	// or invalid. Raised before any coordinator operation runs.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when an operation references a chat or
	// participant that does not exist in the store.
	ErrNotFound = errors.New("not found")
)

// ValidationError reports a malformed request payload. It is always raised
// before any lock is taken or state mutated, so reporting it is
// side-effect-free.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

func validationErr(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
