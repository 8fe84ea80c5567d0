package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError represents an error response from the remote store API
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	ErrorCode  string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s - %s", e.StatusCode, e.ErrorCode, e.Message)
}

// NetworkError wraps a transport-level failure; always retryable.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError indicates an expired or invalid credential; surfaced for
// re-authentication, never retried.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

// NotFoundError indicates the requested file or vault does not exist on the
// remote store. Never retried; delete treats it as idempotent success.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}

// ValidationError indicates the caller supplied invalid input; fatal to the
// single call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsRetryable reports whether the error is worth retrying against the store.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsNotFound(err) || IsAuth(err) || IsValidation(err) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	// Transport-level and unknown errors default to retryable
	return true
}

// errorFromStatus maps an HTTP status and decoded API body to a typed error.
func errorFromStatus(status int, path string, apiErr *APIError) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		msg := "invalid or expired token"
		if apiErr != nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return &AuthError{Message: msg}
	case http.StatusNotFound:
		return &NotFoundError{Path: path}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		msg := "bad request"
		if apiErr != nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return &ValidationError{Message: msg}
	default:
		if apiErr != nil {
			return apiErr
		}
		return &APIError{StatusCode: status, Message: http.StatusText(status)}
	}
}
