// Package apierr defines the error taxonomy returned across the HTTP surface.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeOrderNotFound       = "ORDER_NOT_FOUND"
	CodeGateway             = "GATEWAY_ERROR"
	CodeCheckoutFailed      = "CHECKOUT_FAILED"
	CodeRateLimited         = "RATE_LIMITED"
	CodePersistenceDegraded = "PERSISTENCE_DEGRADED"
	CodeEmailFailed         = "EMAIL_FAILED"
	CodeMissingEmail        = "MISSING_EMAIL"
	CodeConflict            = "CONFLICT"
	CodeInternal            = "INTERNAL_ERROR"
)

// Sentinel errors for errors.Is checks.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrGateway        = errors.New("payment gateway error")
	ErrRateLimited    = errors.New("rate limited")
	ErrConflict       = errors.New("conflict")
)

// APIError is a structured error carrying a machine-readable code and the HTTP
// status it maps to.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"error"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// From returns err as an *APIError, wrapping unknown errors as INTERNAL_ERROR.
func From(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}

// Validation creates a 400 error for malformed or missing input.
func Validation(message string) *APIError {
	return &APIError{
		Code:       CodeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        ErrInvalidRequest,
	}
}

// NotFound creates a 404 error for a missing resource.
func NotFound(resource string) *APIError {
	return &APIError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// OrderNotFound creates a 404 error for an unknown order reference or id.
func OrderNotFound(key string) *APIError {
	return &APIError{
		Code:       CodeOrderNotFound,
		Message:    fmt.Sprintf("order %s not found", key),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// Gateway creates a 500 error for a failed payment provider call.
func Gateway(op string, err error) *APIError {
	return &APIError{
		Code:       CodeGateway,
		Message:    fmt.Sprintf("payment gateway %s failed", op),
		StatusCode: http.StatusInternalServerError,
		Err:        fmt.Errorf("%w: %v", ErrGateway, err),
	}
}

// CheckoutFailed is returned once session creation has failed after retry.
func CheckoutFailed(err error) *APIError {
	return &APIError{
		Code:       CodeCheckoutFailed,
		Message:    "checkout failed, please try again",
		StatusCode: http.StatusInternalServerError,
		Err:        fmt.Errorf("%w: %v", ErrGateway, err),
	}
}

// RateLimited creates a 429 error.
func RateLimited() *APIError {
	return &APIError{
		Code:       CodeRateLimited,
		Message:    "too many requests, please retry later",
		StatusCode: http.StatusTooManyRequests,
		Err:        ErrRateLimited,
	}
}

// Conflict creates a 409 error.
func Conflict(message string) *APIError {
	return &APIError{
		Code:       CodeConflict,
		Message:    message,
		StatusCode: http.StatusConflict,
		Err:        ErrConflict,
	}
}

// Internal creates a 500 error for unexpected failures.
func Internal(err error) *APIError {
	return &APIError{
		Code:       CodeInternal,
		Message:    "an internal error occurred",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}
