package domain

import (
	"errors"
	"fmt"
)

// ErrConcurrencyConflict is returned by stores when a guarded batch lost a
// race with a concurrent writer. Callers re-read and re-plan.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// NotFoundError covers both a missing resource and one owned by another
// principal; the two are indistinguishable on purpose.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
