package workflow

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned when an operation is applied to a registration
// whose derived state does not allow it.
var ErrInvalidState = errors.New("operation not allowed in the current state")

// ValidationError marks a caller-supplied command that violates a
// precondition. Nothing has been mutated when one is returned.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Validationf builds a ValidationError the way fmt.Errorf builds an error.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func validationf(format string, args ...any) error {
	return Validationf(format, args...)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrProvisioningFailed wraps a gateway failure that aborted a provisioning
// transaction. The local transaction has been rolled back; the remote side
// may or may not have taken effect (see the reconciliation log).
var ErrProvisioningFailed = errors.New("provisioning failed")

func provisioningFailed(err error) error {
	return fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
}
