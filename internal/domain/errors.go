package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable machine-readable classification of an error.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindUnauthorized ErrorKind = "unauthorized"
	KindForbidden    ErrorKind = "forbidden"
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "conflict"
	KindState        ErrorKind = "state"
	KindUnavailable  ErrorKind = "unavailable"
	KindTimeout      ErrorKind = "timeout"
	KindInternal     ErrorKind = "internal"
)

// Error is a classified error surfaced to callers.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies err under kind with an additional message.
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validationf(format string, args ...interface{}) error {
	return NewError(KindValidation, format, args...)
}

func Unauthorizedf(format string, args ...interface{}) error {
	return NewError(KindUnauthorized, format, args...)
}

func Forbiddenf(format string, args ...interface{}) error {
	return NewError(KindForbidden, format, args...)
}

func NotFoundf(format string, args ...interface{}) error {
	return NewError(KindNotFound, format, args...)
}

func Conflictf(format string, args ...interface{}) error {
	return NewError(KindConflict, format, args...)
}

func Statef(format string, args ...interface{}) error {
	return NewError(KindState, format, args...)
}

func Unavailablef(format string, args ...interface{}) error {
	return NewError(KindUnavailable, format, args...)
}

func Timeoutf(format string, args ...interface{}) error {
	return NewError(KindTimeout, format, args...)
}

// KindOf returns the kind of err, or KindInternal when err is not classified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the human-readable detail of a classified error.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
