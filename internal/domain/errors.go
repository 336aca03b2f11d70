package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies engine failures surfaced to the caller.
type ErrorKind string

const (
	KindValidation     ErrorKind = "ValidationError"
	KindUnauthorized   ErrorKind = "Unauthorized"
	KindNotFound       ErrorKind = "NotFound"
	KindUpstream       ErrorKind = "Upstream"
	KindTimeout        ErrorKind = "Timeout"
	KindRateLimited    ErrorKind = "RateLimited"
	KindSandboxFailure ErrorKind = "SandboxFailure"
	KindConflict       ErrorKind = "Conflict"
	KindInternal       ErrorKind = "Internal"
)

// HTTPStatus maps the error kind to its caller-visible status code.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindValidation, KindSandboxFailure:
		return http.StatusUnprocessableEntity
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// EngineError is the typed result value returned at component boundaries.
// Adapters normalize vendor errors into one of the ErrorKind classes.
type EngineError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Err }

// E builds an EngineError with a formatted message.
func E(kind ErrorKind, format string, args ...any) *EngineError {
	return &EngineError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an EngineError around an underlying cause.
func Wrap(kind ErrorKind, err error, format string, args ...any) *EngineError {
	return &EngineError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the ErrorKind from err, defaulting to Internal.
func KindOf(err error) ErrorKind {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindInternal
}

// KindFromStatus normalizes a vendor HTTP status into an error kind.
func KindFromStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindUnauthorized
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 400 && status < 500:
		return KindValidation
	case status >= 500:
		return KindUpstream
	default:
		return KindInternal
	}
}
