// Package insta provides an HTTP client for the Instagram private API
// surface this tool needs: login, session validation, account info, and
// clip upload. Only the request/response plumbing lives here — session
// reuse policy is the authflow package's job.
package insta

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for API response classification.
// Use errors.Is(err, insta.ErrLoginRequired) to check.
var (
	ErrLoginRequired = errors.New("insta: login required")
	ErrLoginRejected = errors.New("insta: login rejected")
	ErrThrottled     = errors.New("insta: throttled")
	ErrServerError   = errors.New("insta: server error")
)

// APIError wraps a sentinel error with the HTTP status code and the API
// message body for debugging.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("insta: HTTP %d: %s", e.StatusCode, e.Message)
	}

	return fmt.Sprintf("insta: HTTP %d", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// API message strings that signal a dead session or rejected credentials.
// The API reports these inside a 400 body rather than via status code alone.
const (
	msgLoginRequired = "login_required"
	msgBadPassword   = "bad_password"
	msgInvalidUser   = "invalid_user"
)

// classifyResponse maps an HTTP status code plus the API message to a
// sentinel error. Returns nil for success responses.
func classifyResponse(code int, message string) error {
	if code == http.StatusUnauthorized || strings.Contains(message, msgLoginRequired) {
		return ErrLoginRequired
	}

	switch {
	case strings.Contains(message, msgBadPassword), strings.Contains(message, msgInvalidUser):
		return ErrLoginRejected
	case code == http.StatusTooManyRequests:
		return ErrThrottled
	case code >= http.StatusInternalServerError:
		return ErrServerError
	}

	return nil
}

// isRetryable reports whether the given HTTP status code should be retried.
// Auth failures are never retried — retrying a rejected login only burns
// the account's standing with the platform.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
