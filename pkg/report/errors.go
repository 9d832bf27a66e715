package report

import (
	"errors"
	"fmt"
)

// ValidationError rejects a render call before any output is produced:
// an empty record set or geometry that cannot be laid out.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "report: " + e.Reason
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err (or anything it wraps) is a ValidationError
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
