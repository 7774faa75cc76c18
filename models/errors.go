package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	ErrCodeTransient       = "TRANSIENT_ERROR"
	ErrCodeGateway         = "GATEWAY_ERROR"
	ErrCodeBlocked         = "BLOCKED"
	ErrCodePermanent       = "PERMANENT_ERROR"
	ErrCodeEmptyContent    = "EMPTY_CONTENT"
	ErrCodeSolverFailure   = "SOLVER_FAILURE"
	ErrCodeRotationTimeout = "ROTATION_TIMEOUT"
	ErrCodeEmptyListing    = "EMPTY_LISTING"
	ErrCodeBrowserCrash    = "BROWSER_CRASH"
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// ErrEmptyListing is returned when a listing walk finished with zero chapters.
// It signals total failure for the target, as opposed to a single failed page.
var ErrEmptyListing = errors.New("listing produced no chapters")

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FetchError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type FetchError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new FetchError.
func NewFetchError(code, message string, err error) *FetchError {
	return &FetchError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *FetchError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// DetailFor maps any error to an ErrorDetail, defaulting to INTERNAL_ERROR.
func DetailFor(err error) *ErrorDetail {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.ToDetail()
	}
	if errors.Is(err, ErrEmptyListing) {
		return &ErrorDetail{Code: ErrCodeEmptyListing, Message: err.Error()}
	}
	return &ErrorDetail{Code: ErrCodeInternal, Message: err.Error()}
}
