package vm

import (
	"errors"
	"fmt"
)

// ValidationError marks a request rejected before any side effect took
// place. It is fatal like any external failure; only flag and argument
// mistakes get the usage exit code.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// ErrAborted means the operator declined the confirmation prompt. Not a
// failure: the tool did exactly what was asked.
var ErrAborted = errors.New("aborted by operator")
