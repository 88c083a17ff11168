package client

import (
	"errors"
	"fmt"
)

// ErrInvalidCallback is returned for callback URLs that did not come from the hand-off redirect.
var ErrInvalidCallback = errors.New("invalid callback url")

// HTTPError represents a non-2xx HTTP response from the API.
type HTTPError struct {
	StatusCode int
	Message    string
	// Reason is set when the API explains a denial, e.g. "expired".
	Reason string
}

func (e *HTTPError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("HTTP %d: %s (%s)", e.StatusCode, e.Message, e.Reason)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsStatus returns true if err (or any wrapped error) is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}

// DenialReason returns why the API refused a code ("not_found", "expired" or
// "already_consumed"), or "" when err is not a code denial.
func DenialReason(err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Message == "invalid_code" {
		return httpErr.Reason
	}
	return ""
}
