package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthorized means no Dropbox tokens have ever been obtained;
	// a human must complete the authorization handshake.
	ErrNotAuthorized = errors.New("dropbox: not authorized")

	// ErrNoRefreshToken means the stored access token expired and cannot be
	// renewed silently; re-authorization is required.
	ErrNoRefreshToken = errors.New("dropbox: access token expired and no refresh token stored")

	// ErrRefreshInFlight is returned to callers arriving while another
	// caller's token refresh is still running. Callers retry on their next
	// scheduled invocation instead of racing.
	ErrRefreshInFlight = errors.New("dropbox: token refresh in progress, not ready")
)

// DumpError reports a failed database dump subprocess.
type DumpError struct {
	Output string
	Err    error
}

func (e *DumpError) Error() string {
	return fmt.Sprintf("database dump failed: %v: %s", e.Err, e.Output)
}

func (e *DumpError) Unwrap() error { return e.Err }

// RestoreError reports a failed database restore subprocess. The source
// artifact is never deleted on failure.
type RestoreError struct {
	Output string
	Err    error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("database restore failed: %v: %s", e.Err, e.Output)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// TokenExchangeError reports a failed OAuth token endpoint call.
type TokenExchangeError struct {
	StatusCode int
	Body       string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("dropbox token exchange failed (HTTP %d): %s", e.StatusCode, e.Body)
}

// AuthError is an authentication failure from the Dropbox API, typically an
// expired access token. Cloud operations refresh once and retry on it.
type AuthError struct {
	Summary string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("dropbox auth failure: %s", e.Summary)
}

// IsAuthError reports whether err is (or wraps) a Dropbox auth failure.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// APIError is a structured Dropbox API error (HTTP 409 with an error summary).
type APIError struct {
	Summary string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dropbox api error: %s", e.Summary)
}

// isPathNotFound reports whether err is a "path/not_found" API error, which
// listing treats as an empty folder rather than a failure.
func isPathNotFound(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	return len(ae.Summary) >= 14 && ae.Summary[:14] == "path/not_found"
}

// isPathConflict reports whether err is a "path/conflict" API error, raised
// when creating a folder that already exists.
func isPathConflict(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	return len(ae.Summary) >= 13 && ae.Summary[:13] == "path/conflict"
}
