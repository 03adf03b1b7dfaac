// Package codex implements the OpenAI browser OAuth flow (PKCE, local
// callback on port 1455) and token refresh for the codex upstream.
package codex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/auth"
)

const (
	Upstream = "codex"

	DefaultClientID = "app_EMoamEEZ73f0CkXaXp7hrann"
	DefaultIssuer   = "https://auth.openai.com"

	// Port 1455 and /auth/callback match the redirect URI registered for
	// the Codex CLI; the authorization server validates it exactly.
	CallbackPort = 1455

	RefreshLead = 5 * time.Minute
)

// NewOAuth2Config builds the oauth2.Config for the codex flow.
func NewOAuth2Config(clientID, issuer string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   issuer + "/oauth/authorize",
			TokenURL:  issuer + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes:      []string{"openid", "profile", "email", "offline_access"},
		RedirectURL: fmt.Sprintf("http://localhost:%d/auth/callback", CallbackPort),
	}
}

// Client holds one codex OAuth identity. Refresh is serialized; concurrent
// callers observe the token written by the in-flight refresh.
type Client struct {
	mu        sync.Mutex
	cfg       *oauth2.Config
	tokenPath string
	record    *auth.TokenRecord
	lastErr   error
	now       func() time.Time
	http      *http.Client
}

// NewClient loads the token record at tokenPath. A missing file is not an
// error here; AccessToken reports no token and login must run first.
func NewClient(tokenPath string) *Client {
	c := &Client{
		cfg:       NewOAuth2Config(DefaultClientID, DefaultIssuer),
		tokenPath: tokenPath,
		now:       time.Now,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
	if rec, err := auth.ReadTokenFile(tokenPath); err == nil {
		c.record = rec
	}
	return c
}

func (c *Client) NeedsRefresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record == nil {
		return true
	}
	rec := c.effectiveRecord()
	return rec.NeedsRefresh(c.now(), RefreshLead)
}

func (c *Client) AccessToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record == nil || c.record.AccessToken == "" {
		return "", false
	}
	return c.record.AccessToken, true
}

func (c *Client) State() auth.TokenState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastErr != nil {
		return auth.StateRefreshFailed
	}
	if c.record == nil {
		return auth.StateExpired
	}
	return c.effectiveRecord().StateAt(c.now(), RefreshLead)
}

// effectiveRecord fills in a missing expiry from the access token's exp
// claim so the state machine has something to measure against.
func (c *Client) effectiveRecord() *auth.TokenRecord {
	rec := c.record
	if rec.ExpiresAt == nil {
		if exp, ok := auth.JWTExpiry(rec.AccessToken); ok {
			withExp := *rec
			withExp.ExpiresAt = &exp
			return &withExp
		}
	}
	return rec
}

// Refresh exchanges the refresh token for new tokens. The endpoint expects
// an application/json body rather than form encoding, so this stays manual
// HTTP instead of oauth2.TokenSource.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.record == nil || c.record.RefreshToken == "" {
		c.lastErr = auth.ErrNoCredentials
		return auth.NewAuthError(Upstream, "refresh", auth.ErrNoCredentials)
	}

	payload := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": c.record.RefreshToken,
		"client_id":     c.cfg.ClientID,
		"scope":         "openid profile email offline_access",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return auth.NewAuthError(Upstream, "refresh", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint.TokenURL, bytes.NewReader(body))
	if err != nil {
		return auth.NewAuthError(Upstream, "refresh", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.lastErr = err
		return auth.NewAuthError(Upstream, "refresh", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		c.lastErr = fmt.Errorf("refresh token request returned status %d", resp.StatusCode)
		return auth.NewAuthError(Upstream, "refresh", c.lastErr)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.lastErr = err
		return auth.NewAuthError(Upstream, "refresh", err)
	}

	var data struct {
		AccessToken  string `json:"access_token"`
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(respBody, &data); err != nil {
		c.lastErr = err
		return auth.NewAuthError(Upstream, "refresh", err)
	}
	if data.AccessToken == "" {
		c.lastErr = auth.ErrRefreshFailed
		return auth.NewAuthError(Upstream, "refresh", auth.ErrRefreshFailed)
	}

	updated := *c.record
	updated.AccessToken = data.AccessToken
	if data.RefreshToken != "" {
		updated.RefreshToken = data.RefreshToken
	}
	if data.ExpiresIn > 0 {
		exp := c.now().Add(time.Duration(data.ExpiresIn) * time.Second)
		updated.ExpiresAt = &exp
	}
	if data.IDToken != "" {
		if updated.Extra == nil {
			updated.Extra = map[string]json.RawMessage{}
		}
		if b, err := json.Marshal(data.IDToken); err == nil {
			updated.Extra["id_token"] = b
		}
		if aid := DeriveAccountID(data.IDToken); aid != "" {
			if b, err := json.Marshal(aid); err == nil {
				updated.Extra["account_id"] = b
			}
		}
	}

	if err := auth.WriteTokenFile(c.tokenPath, &updated); err != nil {
		c.lastErr = err
		return auth.NewAuthError(Upstream, "persist", err)
	}
	c.record = &updated
	c.lastErr = nil
	return nil
}

// AccountID returns the ChatGPT account ID carried in the token record.
func (c *Client) AccountID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record == nil {
		return ""
	}
	if raw, ok := c.record.Extra["account_id"]; ok {
		var id string
		if err := json.Unmarshal(raw, &id); err == nil {
			return id
		}
	}
	if raw, ok := c.record.Extra["id_token"]; ok {
		var idToken string
		if err := json.Unmarshal(raw, &idToken); err == nil {
			return DeriveAccountID(idToken)
		}
	}
	return ""
}

// DeriveAccountID extracts the ChatGPT account ID from an id_token's claims.
func DeriveAccountID(idToken string) string {
	if idToken == "" {
		return ""
	}
	claims, err := auth.ParseJWTClaims(idToken)
	if err != nil {
		return ""
	}
	authClaims, ok := claims["https://api.openai.com/auth"].(map[string]any)
	if !ok {
		return ""
	}
	aid, _ := authClaims["chatgpt_account_id"].(string)
	return aid
}
