// Package core provides the error taxonomy, HTTP retry and input validation
// shared by the import pipeline.
package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// Fatal for an import run
	ErrRetrieval ErrorCode = "RETRIEVAL_ERROR"
	ErrParse     ErrorCode = "PARSE_ERROR"

	// Recoverable, logged only
	ErrTagParse        ErrorCode = "TAG_PARSE_WARNING"
	ErrElevationMiss   ErrorCode = "ELEVATION_LOOKUP_MISS"
	ErrPerWayFailure   ErrorCode = "PER_WAY_FAILURE"
	ErrElevationFailed ErrorCode = "ELEVATION_UNAVAILABLE"

	// Input validation
	ErrInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrInvalidLatitude  ErrorCode = "INVALID_LATITUDE"
	ErrInvalidLongitude ErrorCode = "INVALID_LONGITUDE"
	ErrInvalidLength    ErrorCode = "INVALID_LENGTH"

	// Service errors
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrServiceTimeout     ErrorCode = "SERVICE_TIMEOUT"
	ErrRateLimit          ErrorCode = "RATE_LIMIT"
	ErrNetworkError       ErrorCode = "NETWORK_ERROR"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
)

// Error is a classified error with optional user guidance.
type Error struct {
	Code     ErrorCode
	Message  string
	Guidance string
	Err      error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Guidance != "" {
		msg += ". " + e.Guidance
	}
	return msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates an Error with the given code and message
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an Error around a cause.
func Wrap(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// WithGuidance adds guidance for the user
func (e *Error) WithGuidance(guidance string) *Error {
	e.Guidance = guidance
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsFatal reports whether err aborts a whole import run. Only retrieval and
// parse failures do; everything else degrades per way or per point.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case ErrRetrieval, ErrParse:
		return true
	}
	return false
}

// ServiceError creates an error for an unsuccessful HTTP status from an external service
func ServiceError(service string, statusCode int, message string) *Error {
	var code ErrorCode
	var guidance string

	switch statusCode {
	case http.StatusTooManyRequests:
		code = ErrRateLimit
		guidance = "The service is rate-limited. Try again in a few moments."
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		code = ErrServiceTimeout
		guidance = "The request timed out. Try a smaller area."
	case http.StatusBadRequest:
		code = ErrInvalidInput
		guidance = "The request was rejected. A bounding box may be too large for the map API."
	default:
		code = ErrServiceUnavailable
		guidance = "The service is temporarily unavailable. Try again later."
	}

	return NewError(code, fmt.Sprintf("%s service error: %s", service, message)).
		WithGuidance(guidance)
}
