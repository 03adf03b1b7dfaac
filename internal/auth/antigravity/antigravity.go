// Package antigravity implements the Google OAuth flow for the Antigravity
// upstream. The flow uses a confidential client (id and secret from the
// environment), no PKCE, and a local callback on port 51121.
package antigravity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/auth"
)

const (
	Upstream = "antigravity"

	AuthEndpoint     = "https://accounts.google.com/o/oauth2/v2/auth"
	TokenEndpoint    = "https://oauth2.googleapis.com/token"
	UserinfoEndpoint = "https://www.googleapis.com/oauth2/v1/userinfo?alt=json"

	CallbackPort = 51121
	RedirectURI  = "http://127.0.0.1:51121/oauth-callback"

	RefreshLead = 5 * time.Minute
)

var scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/cclog",
	"https://www.googleapis.com/auth/experimentsandconfigs",
}

// NewOAuth2Config builds the oauth2.Config for the antigravity flow. The
// client credentials come from ANTIGRAVITY_CLIENT_ID/_SECRET.
func NewOAuth2Config() (*oauth2.Config, error) {
	clientID := os.Getenv("ANTIGRAVITY_CLIENT_ID")
	clientSecret := os.Getenv("ANTIGRAVITY_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		return nil, auth.NewAuthError(Upstream, "config",
			fmt.Errorf("ANTIGRAVITY_CLIENT_ID and ANTIGRAVITY_CLIENT_SECRET must be set"))
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  AuthEndpoint,
			TokenURL: TokenEndpoint,
		},
		Scopes:      scopes,
		RedirectURL: RedirectURI,
	}, nil
}

// Client holds one antigravity OAuth identity with serialized refresh.
type Client struct {
	mu        sync.Mutex
	cfg       *oauth2.Config
	tokenPath string
	record    *auth.TokenRecord
	lastErr   error
	now       func() time.Time
}

// NewClient loads the token record at tokenPath.
func NewClient(tokenPath string) (*Client, error) {
	cfg, err := NewOAuth2Config()
	if err != nil {
		return nil, err
	}
	c := &Client{cfg: cfg, tokenPath: tokenPath, now: time.Now}
	if rec, err := auth.ReadTokenFile(tokenPath); err == nil {
		c.record = rec
	}
	return c, nil
}

func (c *Client) NeedsRefresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record == nil {
		return true
	}
	return c.record.NeedsRefresh(c.now(), RefreshLead)
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
	return c.record.StateAt(c.now(), RefreshLead)
}

// Refresh exchanges the refresh token via the standard form-encoded grant.
// The response may omit a new refresh token; the previous one is kept.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.record == nil || c.record.RefreshToken == "" {
		c.lastErr = auth.ErrNoCredentials
		return auth.NewAuthError(Upstream, "refresh", auth.ErrNoCredentials)
	}

	src := c.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: c.record.RefreshToken})
	token, err := src.Token()
	if err != nil {
		c.lastErr = err
		return auth.NewAuthError(Upstream, "refresh", err)
	}

	updated := *c.record
	updated.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		updated.RefreshToken = token.RefreshToken
	}
	if !token.Expiry.IsZero() {
		exp := token.Expiry
		updated.ExpiresAt = &exp
	}

	if err := auth.WriteTokenFile(c.tokenPath, &updated); err != nil {
		c.lastErr = err
		return auth.NewAuthError(Upstream, "persist", err)
	}
	c.record = &updated
	c.lastErr = nil
	return nil
}

// ProjectID returns the cloud project bound to this identity, when the
// bootstrap has run.
func (c *Client) ProjectID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record == nil {
		return ""
	}
	if raw, ok := c.record.Extra["project_id"]; ok {
		var id string
		if err := json.Unmarshal(raw, &id); err == nil {
			return id
		}
	}
	return ""
}

// SetProjectID persists the cloud project bound to this identity.
func (c *Client) SetProjectID(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record == nil {
		return auth.NewAuthError(Upstream, "persist", auth.ErrNoCredentials)
	}
	updated := *c.record
	if updated.Extra == nil {
		updated.Extra = map[string]json.RawMessage{}
	}
	b, err := json.Marshal(id)
	if err != nil {
		return err
	}
	updated.Extra["project_id"] = b
	if err := auth.WriteTokenFile(c.tokenPath, &updated); err != nil {
		return auth.NewAuthError(Upstream, "persist", err)
	}
	c.record = &updated
	return nil
}

// Login runs the browser flow: serves the callback, exchanges the code,
// resolves the account email, and persists the record.
func Login(ctx context.Context, tokenPath string, openURL func(string) error) (*auth.TokenRecord, error) {
	cfg, err := NewOAuth2Config()
	if err != nil {
		return nil, err
	}

	state := auth.RandomState()
	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth-callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			errCh <- fmt.Errorf("oauth state mismatch")
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			errCh <- fmt.Errorf("callback without authorization code")
			return
		}
		fmt.Fprintln(w, "Login complete. You can close this window.")
		codeCh <- code
	})

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", CallbackPort))
	if err != nil {
		return nil, err
	}
	server := &http.Server{Handler: mux}
	go func() { _ = server.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if openURL != nil {
		if err := openURL(authURL); err != nil {
			return nil, err
		}
	}

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return nil, auth.NewAuthError(Upstream, "login", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, auth.NewAuthError(Upstream, "exchange", err)
	}
	if token.RefreshToken == "" {
		return nil, auth.NewAuthError(Upstream, "exchange", fmt.Errorf("no refresh_token in token response"))
	}

	record := &auth.TokenRecord{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Upstream:     Upstream,
	}
	if !token.Expiry.IsZero() {
		exp := token.Expiry
		record.ExpiresAt = &exp
	}
	if email, err := fetchEmail(ctx, token.AccessToken); err == nil {
		record.Email = email
	}

	if err := auth.WriteTokenFile(tokenPath, record); err != nil {
		return nil, auth.NewAuthError(Upstream, "persist", err)
	}
	return record, nil
}

func fetchEmail(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, UserinfoEndpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var info struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return "", err
	}
	return info.Email, nil
}
