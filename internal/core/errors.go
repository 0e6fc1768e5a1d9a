package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so the boundary layer can map them to HTTP
// status codes by exhaustive switch instead of string matching.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error carries a machine-readable kind alongside the message.
type Error struct {
	Kind ErrorKind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		if e.msg == "" {
			return e.err.Error()
		}
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Validationf builds a Validation-kind error. The message is shown to the
// caller verbatim, so it names the offending field.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, msg: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a NotFound-kind error. Callers surface a fixed generic
// message regardless of the underlying cause.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, msg: fmt.Sprintf(format, args...)}
}

// Internal wraps err as an Internal-kind error with context.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, msg: msg, err: err}
}

// KindOf extracts the kind from err, treating anything untyped as internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Details extracts a human-readable message from err for 500 bodies. An
// error with no message yields the fixed fallback string.
func Details(err error) string {
	if err == nil || err.Error() == "" {
		return "Unknown error"
	}
	return err.Error()
}
