// Package toolerr defines the error taxonomy shared by the router,
// supervisor, discovery engine and scheduler. Every error that crosses a
// component boundary carries a machine-readable Kind plus a human message.
package toolerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for upstream clients and execution records.
type Kind string

const (
	KindNotFound         Kind = "NotFound"
	KindInvalidParams    Kind = "InvalidParams"
	KindUnauthorised     Kind = "Unauthorised"
	KindTimeout          Kind = "Timeout"
	KindTransportFailure Kind = "TransportFailure"
	KindDownstreamError  Kind = "DownstreamError"
	KindQuarantined      Kind = "Quarantined"
	KindUserCancelled    Kind = "UserCancelled"
	KindInternal         Kind = "Internal"
)

// Error is the structured error type used across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// Code/Data preserve a downstream JSON-RPC error verbatim.
	Code int
	Data interface{}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// NotFound reports an unknown tool or job id.
func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

// InvalidParams reports parameters that fail a tool's input schema.
func InvalidParams(format string, args ...interface{}) *Error {
	return New(KindInvalidParams, format, args...)
}

// Unauthorised reports rejected downstream credentials.
func Unauthorised(format string, args ...interface{}) *Error {
	return New(KindUnauthorised, format, args...)
}

// Timeout reports an exceeded per-call deadline.
func Timeout(format string, args ...interface{}) *Error {
	return New(KindTimeout, format, args...)
}

// Transport reports a dropped connection or dead subprocess.
func Transport(err error, format string, args ...interface{}) *Error {
	return Wrap(KindTransportFailure, err, format, args...)
}

// Downstream preserves a JSON-RPC error returned by a downstream server.
func Downstream(code int, message string, data interface{}) *Error {
	return &Error{Kind: KindDownstreamError, Message: message, Code: code, Data: data}
}

// Quarantined reports a dispatch attempt against a disabled server.
func Quarantined(format string, args ...interface{}) *Error {
	return New(KindQuarantined, format, args...)
}

// UserCancelled reports a declined or unavailable confirmation.
func UserCancelled(format string, args ...interface{}) *Error {
	return New(KindUserCancelled, format, args...)
}

// Internal reports a bug in the proxy itself.
func Internal(err error, format string, args ...interface{}) *Error {
	return Wrap(KindInternal, err, format, args...)
}

// KindOf extracts the Kind from an error chain, defaulting to Internal.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// AffectsHealth reports whether an error counts against the originating
// server's health budget. Downstream application errors, bad parameters and
// auth rejections do not.
func AffectsHealth(err error) bool {
	switch KindOf(err) {
	case KindTransportFailure, KindTimeout:
		return true
	default:
		return false
	}
}
