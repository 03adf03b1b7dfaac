package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

// OAuthClient is the small contract every browser-authenticated upstream
// implements independently. Flows share no mutable state; only stateless
// helpers like RandomState are common.
type OAuthClient interface {
	// NeedsRefresh reports whether the held token is expired or inside
	// the upstream's refresh lead window.
	NeedsRefresh() bool
	// Refresh exchanges the refresh credential for a new access token,
	// persisting the updated record. Fails with an AuthError.
	Refresh(ctx context.Context) error
	// AccessToken returns the current access token, if one is held.
	AccessToken() (string, bool)
	// State returns the current token state, including RefreshFailed
	// after an unsuccessful Refresh.
	State() TokenState
}

// RandomState returns a hex-encoded random OAuth state parameter.
func RandomState() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
