package ratelimit

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTier is returned when an IP tier name is not recognized.
	ErrUnknownTier = errors.New("ratelimit: unknown ip tier")
	// ErrDefaultService is returned when removing the default service limits.
	ErrDefaultService = errors.New("ratelimit: default service limits cannot be removed")
	// ErrStoreUnavailable marks counter store failures that trigger failover.
	ErrStoreUnavailable = errors.New("ratelimit: counter store unavailable")
)

// ValidationError reports an invalid administrative input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
