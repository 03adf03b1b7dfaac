package codex

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/auth"
)

func newTestClient(t *testing.T, tokenURL string, rec *auth.TokenRecord) *Client {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codex.json")
	if rec != nil {
		if err := auth.WriteTokenFile(path, rec); err != nil {
			t.Fatalf("seed token file: %v", err)
		}
	}
	c := NewClient(path)
	c.cfg.Endpoint.TokenURL = tokenURL
	return c
}

func TestRefreshSendsJSONBody(t *testing.T) {
	var gotContentType string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-at",
			"refresh_token": "new-rt",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &auth.TokenRecord{
		AccessToken:  "old-at",
		RefreshToken: "old-rt",
		Upstream:     Upstream,
	})
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if gotContentType != "application/json" {
		t.Errorf("content type: got %q", gotContentType)
	}
	if gotBody["grant_type"] != "refresh_token" || gotBody["refresh_token"] != "old-rt" {
		t.Errorf("body: %v", gotBody)
	}
	tok, ok := c.AccessToken()
	if !ok || tok != "new-at" {
		t.Errorf("access token: %q %v", tok, ok)
	}
}

func TestRefreshKeepsOldRefreshTokenWhenOmitted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "new-at", "expires_in": 60})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &auth.TokenRecord{
		AccessToken:  "old-at",
		RefreshToken: "old-rt",
		Upstream:     Upstream,
	})
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	rec, err := auth.ReadTokenFile(c.tokenPath)
	if err != nil {
		t.Fatalf("read persisted: %v", err)
	}
	if rec.RefreshToken != "old-rt" {
		t.Errorf("refresh token: got %q want old-rt", rec.RefreshToken)
	}
}

func TestRefreshFailureSetsState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &auth.TokenRecord{
		AccessToken:  "old-at",
		RefreshToken: "old-rt",
		Upstream:     Upstream,
	})
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if got := c.State(); got != auth.StateRefreshFailed {
		t.Errorf("state: got %q", got)
	}
}

func TestRefreshWithoutCredentials(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0", nil)
	err := c.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var ae *auth.AuthError
	if !asAuthError(err, &ae) {
		t.Fatalf("expected AuthError, got %T", err)
	}
}

func asAuthError(err error, target **auth.AuthError) bool {
	ae, ok := err.(*auth.AuthError)
	if ok {
		*target = ae
	}
	return ok
}

func TestNeedsRefreshUsesJWTExpiryFallback(t *testing.T) {
	// Access token with exp in the past and no expires_at field.
	expired := "eyJhbGciOiJub25lIn0.eyJleHAiOjE2MDAwMDAwMDB9.sig"
	c := newTestClient(t, "http://127.0.0.1:0", &auth.TokenRecord{
		AccessToken:  expired,
		RefreshToken: "rt",
		Upstream:     Upstream,
	})
	c.now = func() time.Time { return time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC) }
	if !c.NeedsRefresh() {
		t.Error("expected refresh needed for expired JWT")
	}
}

func TestDeriveAccountID(t *testing.T) {
	// payload {"https://api.openai.com/auth":{"chatgpt_account_id":"acct_1"}}
	idToken := "eyJhbGciOiJub25lIn0." +
		"eyJodHRwczovL2FwaS5vcGVuYWkuY29tL2F1dGgiOnsiY2hhdGdwdF9hY2NvdW50X2lkIjoiYWNjdF8xIn19." +
		"sig"
	if got := DeriveAccountID(idToken); got != "acct_1" {
		t.Errorf("got %q want acct_1", got)
	}
	if got := DeriveAccountID("garbage"); got != "" {
		t.Errorf("got %q want empty", got)
	}
}
