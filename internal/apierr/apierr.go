// Package apierr defines the error taxonomy surfaced to API clients and the
// mapping from each kind to an HTTP status code.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ffmpeg-api/internal/logging"
)

// Kind classifies an error for the client.
type Kind string

// Error kinds.
const (
	KindValidation     Kind = "VALIDATION_ERROR"
	KindFetch          Kind = "FETCH_ERROR"
	KindProcessing     Kind = "PROCESSING_ERROR"
	KindAuth           Kind = "AUTH_ERROR"
	KindRateLimit      Kind = "RATE_LIMIT_ERROR"
	KindForbiddenPath  Kind = "FORBIDDEN_PATH"
	KindNotImplemented Kind = "NOT_IMPLEMENTED"
	KindInternal       Kind = "INTERNAL_ERROR"
)

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbiddenPath:
		return http.StatusForbidden
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// NoExitCode marks an error that did not come from a finished subprocess.
const NoExitCode = -1

// Error is an API-facing error.
type Error struct {
	Kind Kind
	// Message is shown to the client.
	Message string
	// ExitCode is the subprocess exit code for processing errors.
	ExitCode int
	// Err is the underlying cause. It is logged, never sent to the client.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, &Error{Kind: KindFetch}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

func newError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
		ExitCode: NoExitCode,
		Err:      err,
	}
}

// Validation reports a missing or invalid request field.
func Validation(format string, args ...interface{}) *Error {
	return newError(KindValidation, nil, format, args...)
}

// Fetch reports a failure retrieving a remote input.
func Fetch(err error, format string, args ...interface{}) *Error {
	return newError(KindFetch, err, format, args...)
}

// Processing reports a subprocess failure with its exit code.
func Processing(exitCode int, err error, format string, args ...interface{}) *Error {
	e := newError(KindProcessing, err, format, args...)
	e.ExitCode = exitCode
	return e
}

// Auth reports a missing or mismatched credential.
func Auth(format string, args ...interface{}) *Error {
	return newError(KindAuth, nil, format, args...)
}

// RateLimit reports that the caller exceeded the request budget.
func RateLimit(format string, args ...interface{}) *Error {
	return newError(KindRateLimit, nil, format, args...)
}

// ForbiddenPath reports a request for a denylisted path.
func ForbiddenPath(path string) *Error {
	return newError(KindForbiddenPath, nil, "Forbidden: %s", path)
}

// NotImplemented reports an operation that is declared but not implemented.
func NotImplemented(name string) *Error {
	return newError(KindNotImplemented, nil, "%s is not implemented", name)
}

// Internal wraps an unexpected failure.
func Internal(err error, format string, args ...interface{}) *Error {
	return newError(KindInternal, err, format, args...)
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// ExitCode returns the subprocess exit code carried by err, or NoExitCode.
func ExitCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.ExitCode
	}
	return NoExitCode
}

// StatusCode returns the HTTP status for err.
func StatusCode(err error) int {
	return KindOf(err).Status()
}

// Message returns the client-safe message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal server error"
}

// Write renders err as the response. Forbidden paths get a plain-text body,
// every other kind gets {"error": message}.
func Write(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	msg := Message(err)

	if status >= http.StatusInternalServerError {
		logging.Error("request failed: %v", err)
	} else {
		logging.Debug("request rejected: %v", err)
	}

	if KindOf(err) == KindForbiddenPath {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(msg))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		logging.Error("failed to encode error response: %v", err)
	}
}
