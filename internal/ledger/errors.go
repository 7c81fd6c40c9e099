package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientBalance occurs when a deduction would take the balance
	// below zero. Nothing is appended.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAccountNotFound indicates the user has no loyalty account.
	ErrAccountNotFound = errors.New("loyalty account not found")

	// ErrTransactionNotFound indicates the referenced transaction id does not exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrConcurrencyConflict is transient: the mutation did not commit and may
	// be retried safely.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// ValidationError describes malformed input. It is always raised before any
// mutation is attempted.
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

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
