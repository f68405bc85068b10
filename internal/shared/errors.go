package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrNetwork indicates a transient transport failure against a remote authority.
	ErrNetwork = errors.New("network failure")
	// ErrAuth indicates the remote authority rejected the session (401/403).
	ErrAuth = errors.New("authentication rejected")
	// ErrData indicates a malformed payload from a remote authority.
	ErrData = errors.New("malformed payload")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// IsRetryable reports whether a remote failure may be retried later. Malformed
// payloads are treated like network failures for retry purposes; auth
// rejections are terminal and force a logout instead.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrData)
}
