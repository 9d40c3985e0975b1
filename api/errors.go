// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-flow.

package api

import (
	"errors"
	"fmt"
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResourceExhausted
	ErrCodeClosed
	ErrCodeBackpressureTimeout
	ErrCodeSessionUnavailable
	ErrCodeProtocolViolation
	ErrCodeLivenessTimeout
	ErrCodeSubstrateFailure
	ErrCodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid_argument"
	case ErrCodeResourceExhausted:
		return "resource_exhausted"
	case ErrCodeClosed:
		return "closed"
	case ErrCodeBackpressureTimeout:
		return "backpressure_timeout"
	case ErrCodeSessionUnavailable:
		return "session_unavailable"
	case ErrCodeProtocolViolation:
		return "protocol_violation"
	case ErrCodeLivenessTimeout:
		return "liveness_timeout"
	case ErrCodeSubstrateFailure:
		return "substrate_failure"
	default:
		return "internal"
	}
}

// Error represents a structured error with code, context and optional cause.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if len(e.Context) > 0 {
		msg = fmt.Sprintf("%s (context: %+v)", msg, e.Context)
	}
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the cause to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// Sentinels usable with errors.Is. Matching is by code, so a contextual
// error built with NewError(ErrCodeProtocolViolation, ...) matches
// ErrProtocolViolation.
var (
	ErrInvalidArgument     = NewError(ErrCodeInvalidArgument, "invalid argument")
	ErrResourceExhausted   = NewError(ErrCodeResourceExhausted, "resource exhausted")
	ErrClosed              = NewError(ErrCodeClosed, "resource is closed")
	ErrBackpressureTimeout = NewError(ErrCodeBackpressureTimeout, "backpressure retry budget exhausted")
	ErrSessionUnavailable  = NewError(ErrCodeSessionUnavailable, "session unavailable")
	ErrProtocolViolation   = NewError(ErrCodeProtocolViolation, "protocol violation")
	ErrLivenessTimeout     = NewError(ErrCodeLivenessTimeout, "peer silent past liveness timeout")
	ErrSubstrateFailure    = NewError(ErrCodeSubstrateFailure, "substrate failure")
	ErrInternal            = NewError(ErrCodeInternal, "internal error")

	// ErrMalformedFrame is a protocol violation raised by the frame codec.
	ErrMalformedFrame = NewError(ErrCodeProtocolViolation, "malformed frame")
)

// CodeOf extracts the code of err, or ErrCodeInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsRecoverable reports whether the caller may resubmit after err.
func IsRecoverable(err error) bool {
	return CodeOf(err) == ErrCodeBackpressureTimeout
}

// IsGraceful reports whether a teardown cause should be surfaced to an
// inbound consumer as completion rather than error.
func IsGraceful(err error) bool {
	switch CodeOf(err) {
	case ErrCodeOK, ErrCodeClosed, ErrCodeLivenessTimeout, ErrCodeSessionUnavailable:
		return true
	default:
		return false
	}
}
