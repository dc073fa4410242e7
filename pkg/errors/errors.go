package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the stable machine-readable part of an error returned to relay
// and HTTP clients.
type Code string

const (
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeNotFound     Code = "NOT_FOUND"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeRateLimit    Code = "RATE_LIMIT_EXCEEDED"
	CodeTooLarge     Code = "MESSAGE_TOO_LARGE"
	CodeInternal     Code = "INTERNAL_ERROR"
	CodeUnavailable  Code = "SERVICE_UNAVAILABLE"
)

var httpStatus = map[Code]int{
	CodeInvalidInput: http.StatusBadRequest,
	CodeNotFound:     http.StatusNotFound,
	CodeUnauthorized: http.StatusUnauthorized,
	CodeForbidden:    http.StatusForbidden,
	CodeRateLimit:    http.StatusTooManyRequests,
	CodeTooLarge:     http.StatusRequestEntityTooLarge,
	CodeInternal:     http.StatusInternalServerError,
	CodeUnavailable:  http.StatusServiceUnavailable,
}

// AppError is an error that knows how it is rendered to a client: as a gin
// JSON response or as a relay error frame.
type AppError struct {
	Code    Code
	Message string
	Cause   error
	Details map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) HTTPStatus() int {
	if status, ok := httpStatus[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// With adds a detail rendered next to the message.
func (e *AppError) With(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(err error, code Code, message string) *AppError {
	return &AppError{Code: code, Message: message, Cause: err}
}

func InvalidInput(message string) *AppError { return New(CodeInvalidInput, message) }
func Unauthorized(message string) *AppError { return New(CodeUnauthorized, message) }
func Forbidden(message string) *AppError    { return New(CodeForbidden, message) }
func Unavailable(message string) *AppError  { return New(CodeUnavailable, message) }

func NotFound(resource string) *AppError {
	return New(CodeNotFound, resource+" not found")
}

func RateLimited() *AppError {
	return New(CodeRateLimit, "rate limit exceeded")
}

func TooLarge(limit int64) *AppError {
	return New(CodeTooLarge, fmt.Sprintf("message exceeds %d bytes", limit))
}

// As returns the first AppError in the chain of err, or nil.
func As(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// From resolves err into what a client may see. Errors without an AppError
// in their chain become an opaque internal error; nil stays nil.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := As(err); appErr != nil {
		return appErr
	}
	return Wrap(err, CodeInternal, "internal error")
}
