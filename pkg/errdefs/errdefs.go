package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable machine-readable error token. The HTTP layer maps codes to
// status codes; UIs branch on the token and display the message.
type Code string

const (
	CodeNotFound                   Code = "NotFound"
	CodeAlreadyExists              Code = "AlreadyExists"
	CodeInvalidArgument            Code = "InvalidArgument"
	CodeInvalidSecretName          Code = "InvalidSecretName"
	CodeServerDisabledForWorkspace Code = "ServerDisabledForWorkspace"
	CodePortExhausted              Code = "PortExhausted"
	CodeSpawnFailed                Code = "SpawnFailed"
	CodeReadinessTimeout           Code = "ReadinessTimeout"
	CodeUpstreamUnavailable        Code = "UpstreamUnavailable"
	CodeInstanceBusy               Code = "InstanceBusy"
	CodePersisted                  Code = "Persisted"
	CodeInternal                   Code = "Internal"
)

// Error is an error carrying a stable code alongside its message
type Error struct {
	ErrCode Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes the cause for errors.Is / errors.As chains
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a coded error
func New(code Code, format string, args ...any) *Error {
	return &Error{ErrCode: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a coded error around a cause
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{ErrCode: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// GetCode extracts the code from an error chain, defaulting to Internal
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.ErrCode
	}
	return CodeInternal
}

// Is reports whether the error chain carries the given code
func Is(err error, code Code) bool {
	return GetCode(err) == code
}

// HTTPStatus maps a code to the HTTP status the API responds with
func HTTPStatus(code Code) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists, CodeServerDisabledForWorkspace, CodePortExhausted, CodeInstanceBusy:
		return http.StatusConflict
	case CodeInvalidArgument, CodeInvalidSecretName:
		return http.StatusBadRequest
	case CodeUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Convenience constructors for the common kinds

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, format, args...)
}

func AlreadyExists(format string, args ...any) *Error {
	return New(CodeAlreadyExists, format, args...)
}

func InvalidArgument(format string, args ...any) *Error {
	return New(CodeInvalidArgument, format, args...)
}

func Persisted(cause error, format string, args ...any) *Error {
	return Wrap(CodePersisted, cause, format, args...)
}

func Internal(cause error, format string, args ...any) *Error {
	return Wrap(CodeInternal, cause, format, args...)
}
