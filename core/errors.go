package core

import (
	"strings"

	"github.com/pkg/errors"
)

// FieldError reports a problem with one field of a request payload.
type FieldError struct {
	Field string
	Error string
}

// ValidationError is a client error, optionally detailed per field.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{Err: err, Fields: flds}
}

func (err *ValidationError) Error() string {
	msgs := make([]string, 0, len(err.Fields)+1)
	if err.Err != nil {
		msgs = append(msgs, err.Err.Error())
	}
	for _, fld := range err.Fields {
		msgs = append(msgs, fld.Field+": "+fld.Error)
	}
	if len(msgs) == 0 {
		return "validation failed"
	}
	return strings.Join(msgs, "; ")
}

func (err *ValidationError) Unwrap() error { return err.Err }

// shutdownError makes the API server stop gracefully once handled.
type shutdownError struct {
	reason string
}

func NewShutdownError(reason string) error {
	return &shutdownError{reason: reason}
}

func (err *shutdownError) Error() string {
	return "shutting down: " + err.reason
}

// IsShutdown reports whether err, or any error it wraps, asks for a shutdown.
func IsShutdown(err error) bool {
	var sErr *shutdownError
	return errors.As(err, &sErr)
}
