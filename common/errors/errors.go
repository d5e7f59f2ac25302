package errors

import "fmt"

type ExitCodeError struct {
	code ExitCode
	error
}

func NewError(err error, exitCode ExitCode) *ExitCodeError {
	if err == nil {
		return nil
	}
	return &ExitCodeError{exitCode, err}
}

func NewErrorf(exitCode ExitCode, format string, args ...interface{}) *ExitCodeError {
	return &ExitCodeError{exitCode, fmt.Errorf(format, args...)}
}

func (e *ExitCodeError) GetExitCode() ExitCode {
	if e == nil {
		return 0
	}
	return e.code
}

func (e *ExitCodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.error
}

// ExitCodeOf returns the exit code carried by err, GenericFailureExitCode for other
// non-nil errors and 0 for nil.
func ExitCodeOf(err error) ExitCode {
	if err == nil {
		return 0
	}
	if e, ok := err.(*ExitCodeError); ok && e != nil {
		return e.code
	}
	return GenericFailureExitCode
}
