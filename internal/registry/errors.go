package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a service or group id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrUnsupportedVersion is returned for import bundles with a missing or unknown version.
	ErrUnsupportedVersion = errors.New("unsupported document version")
)

// ValidationError describes a rejected record field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is makes errors.Is(err, ErrValidation) hold for any validation error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
