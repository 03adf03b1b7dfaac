package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidJWT    = errors.New("invalid JWT token")
	ErrNoCredentials = errors.New("no credentials found; run 'login' first")
	ErrRefreshFailed = errors.New("token refresh failed")
)

// AuthError reports a credential failure for one upstream. It is fatal for
// that credential until externally remedied (re-authentication); the caller
// surfaces it as a refusal attributable to the provider, never a crash.
type AuthError struct {
	Upstream string
	Op       string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s: %s: %v", e.Upstream, e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NewAuthError wraps err as an AuthError for the given upstream operation.
func NewAuthError(upstream, op string, err error) *AuthError {
	return &AuthError{Upstream: upstream, Op: op, Err: err}
}
