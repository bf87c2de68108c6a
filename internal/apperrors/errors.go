// Package apperrors defines the closed set of error codes ARCS returns to
// clients across the WebSocket protocol.
package apperrors

import (
	"errors"
	"fmt"
)

// Code is one of the protocol-level error codes carried in an "error"
// message. The set is closed: new failure
// modes get a new constant here, not an ad hoc string at the call site.
type Code string

const (
	CodeAuthFailed     Code = "ERR_AUTH_FAILED"
	CodeInvalidToken   Code = "INVALID_TOKEN"
	CodeSessionMissing Code = "SESSION_NOT_FOUND"
	CodeUnauthorized   Code = "UNAUTHORIZED"
	CodeRateLimit      Code = "ERR_RATE_LIMIT"
	CodeInvalidMessage Code = "INVALID_MESSAGE"
)

// CodedError pairs a protocol error code with a human-readable message and an
// optional wrapped cause. It implements error and supports errors.As/errors.Is
// through Unwrap so callers can test for a specific Code without string
// comparisons.
type CodedError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a CodedError with no wrapped cause.
func New(code Code, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// Wrap creates a CodedError that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *CodedError {
	return &CodedError{Code: code, Message: message, Cause: cause}
}

// GetCode extracts the Code from err if it (or something it wraps) is a
// *CodedError. The zero Code is returned otherwise.
func GetCode(err error) Code {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// GetMessage extracts the human-readable message from err, falling back to
// err.Error() when it is not a *CodedError.
func GetMessage(err error) string {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// ToCodeAndMessage is a convenience for building an "error" protocol message
// from an arbitrary error value.
func ToCodeAndMessage(err error) (Code, string) {
	if err == nil {
		return "", ""
	}
	var ce *CodedError
	if errors.As(err, &ce) {
		return GetCode(err), GetMessage(err)
	}
	return CodeInvalidMessage, err.Error()
}

func AuthFailed(message string) *CodedError     { return New(CodeAuthFailed, message) }
func InvalidToken(message string) *CodedError   { return New(CodeInvalidToken, message) }
func SessionMissing(message string) *CodedError { return New(CodeSessionMissing, message) }
func Unauthorized(message string) *CodedError   { return New(CodeUnauthorized, message) }
func RateLimited(message string) *CodedError    { return New(CodeRateLimit, message) }
func InvalidMessage(message string) *CodedError { return New(CodeInvalidMessage, message) }
