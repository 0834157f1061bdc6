package pagestore

import (
	"errors"
	"fmt"
)

// Error represents a pagestore error with an error code.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error // wrapped error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pagestore: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("pagestore: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode classifies the user-visible failure kinds named in the store's
// error handling design.
type ErrorCode int

const (
	// Success is the zero value; never attached to a returned *Error.
	Success ErrorCode = iota

	// ErrFormat indicates a corrupt or unexpected on-disk representation:
	// an index page version/page_size mismatch, or a truncated patch frame.
	ErrFormat

	// ErrInvalidArgument indicates a caller-supplied argument is out of
	// range: page_size, page_number, or mismatched buffer lengths in a diff.
	ErrInvalidArgument

	// ErrConcurrentTransaction indicates RunTransaction was invoked while
	// another transaction attempt is already active on the same store.
	ErrConcurrentTransaction

	// ErrBackend wraps an error returned verbatim by the backend for a
	// non-CAS failure; the current transaction attempt is aborted without
	// retry.
	ErrBackend
)

var errorMessages = map[ErrorCode]string{
	ErrFormat:                "format error",
	ErrInvalidArgument:       "invalid argument",
	ErrConcurrentTransaction: "another transaction is already active on this store",
	ErrBackend:               "backend error",
}

// NewError creates a new *Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	if message == "" {
		if msg, ok := errorMessages[code]; ok {
			message = msg
		} else {
			message = fmt.Sprintf("unknown error code %d", code)
		}
	}
	return &Error{Code: code, Message: message}
}

// WrapError creates a new *Error wrapping another error.
func WrapError(code ErrorCode, err error) *Error {
	e := NewError(code, "")
	e.Err = err
	return e
}

// Code returns the error code carried by err, or Success if err is nil, or
// ErrBackend if err is a non-nil error not produced by this package.
func Code(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrBackend
}

// retryRequired is the internal control-flow signal raised by Txn.Get and
// Txn.GetForUpdate when a page they need is not loaded, and by the commit
// planner when a base page it needs to materialize is not loaded. It is
// caught by the transaction attempt loop and never escapes RunTransaction.
var retryRequired = errors.New("pagestore: retry required")

// isRetryRequired reports whether err is (or wraps) the retryRequired signal.
func isRetryRequired(err error) bool {
	return errors.Is(err, retryRequired)
}
