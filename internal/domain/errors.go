package domain

import "github.com/cockroachdb/errors"

// Sentinel errors matched with errors.Is across layers. The HTTP layer
// maps them to status codes; everything else is a 500.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrExecutionFailed = errors.New("execution failed")
)

// NotFoundf wraps ErrNotFound with a formatted detail message.
func NotFoundf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}

// Conflictf wraps ErrConflict with a formatted detail message.
func Conflictf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConflict, format, args...)
}

// InvalidArgumentf wraps ErrInvalidArgument with a formatted detail message.
func InvalidArgumentf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}
