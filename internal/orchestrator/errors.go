package orchestrator

import (
	"errors"
	"fmt"
)

// NotFoundError reports that a referenced session, novel, or voice does not
// exist. The transport layer maps it to 404.
type NotFoundError struct {
	Resource string // "Session", "Novel", "Voice"
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError reports invalid client input. The transport layer maps it
// to 400. No state changes before a validation error is returned.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// IsNotFound reports whether err is (or wraps) a [NotFoundError].
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is (or wraps) a [ValidationError].
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func notFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func validation(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
