package tier

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches every ConfigurationError.
	ErrConfiguration = errors.New("invalid tier configuration")

	// ErrInvalid matches every FieldError.
	ErrInvalid = errors.New("invalid tier")

	ErrTierNotFound = errors.New("tier not found")

	// ErrEmptyCatalog is returned when no tier is configured at all.
	ErrEmptyCatalog = &ConfigurationError{Reason: "tier catalog is empty"}
)

// ConfigurationError reports a catalog that would break the min-nights staircase.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConfiguration, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// FieldError reports a malformed tier field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Is(target error) bool {
	return target == ErrInvalid
}

func configErr(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}
