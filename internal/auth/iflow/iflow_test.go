package iflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/auth"
)

func TestExtractBXAuth(t *testing.T) {
	tests := []struct {
		cookie string
		want   string
	}{
		{"BXAuth=abc123; other=x", "abc123"},
		{"first=1; BXAuth=tok-value; last=2", "tok-value"},
		{"no-auth-here=1", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExtractBXAuth(tt.cookie); got != tt.want {
			t.Errorf("ExtractBXAuth(%q): got %q want %q", tt.cookie, got, tt.want)
		}
	}
}

func TestParseExpireTime(t *testing.T) {
	got, err := ParseExpireTime("2026-09-30 18:45")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Date(2026, 9, 30, 18, 45, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v want %v", got, want)
	}

	if _, err := ParseExpireTime("30/09/2026"); err == nil {
		t.Fatal("expected error for wrong layout")
	}
}

func seedClient(t *testing.T, cookie string) *Client {
	t.Helper()
	path := filepath.Join(t.TempDir(), "iflow.json")
	rec := &auth.TokenRecord{Upstream: Upstream}
	if cookie != "" {
		rec.Extra = map[string]json.RawMessage{}
		b, _ := json.Marshal(cookie)
		rec.Extra["cookie"] = b
	}
	if err := auth.WriteTokenFile(path, rec); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return NewClient(path)
}

func TestRefreshRenewsKey(t *testing.T) {
	var sawCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawCookie = r.Header.Get("Cookie")
		info := map[string]any{
			"name":       "default",
			"apiKey":     "sk-old",
			"expireTime": "2026-09-30 18:45",
			"hasExpired": false,
		}
		if r.Method == http.MethodPost {
			info["apiKey"] = "sk-renewed"
		}
		json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": info})
	}))
	defer srv.Close()

	c := seedClient(t, "BXAuth=cookie-token;")
	c.endpoint = srv.URL

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if sawCookie == "" {
		t.Error("cookie header not sent")
	}
	key, ok := c.AccessToken()
	if !ok || key != "sk-renewed" {
		t.Errorf("key: %q %v", key, ok)
	}

	rec, err := auth.ReadTokenFile(c.tokenPath)
	if err != nil {
		t.Fatalf("read persisted: %v", err)
	}
	if rec.ExpiresAt == nil {
		t.Fatal("expiry not persisted")
	}
	want := time.Date(2026, 9, 30, 18, 45, 0, 0, time.UTC)
	if !rec.ExpiresAt.Equal(want) {
		t.Errorf("expiry: got %v want %v", rec.ExpiresAt, want)
	}
}

func TestRefreshExpiredKeyFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{"name": "default", "hasExpired": true},
		})
	}))
	defer srv.Close()

	c := seedClient(t, "BXAuth=cookie-token;")
	c.endpoint = srv.URL

	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected error for expired key")
	}
	if got := c.State(); got != auth.StateRefreshFailed {
		t.Errorf("state: got %q", got)
	}
}

func TestRefreshWithoutCookie(t *testing.T) {
	c := seedClient(t, "")
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected error without cookie")
	}
}

func TestSaveCookieKeepsOnlyBXAuth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iflow.json")
	c := NewClient(path)
	if err := c.SaveCookie("junk=1; BXAuth=the-token; more=2"); err != nil {
		t.Fatalf("SaveCookie: %v", err)
	}

	rec, err := auth.ReadTokenFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var cookie string
	if err := json.Unmarshal(rec.Extra["cookie"], &cookie); err != nil {
		t.Fatalf("cookie: %v", err)
	}
	if cookie != "BXAuth=the-token;" {
		t.Errorf("cookie: got %q", cookie)
	}

	if err := c.SaveCookie("no-auth=1"); err == nil {
		t.Fatal("expected error for cookie without BXAuth")
	}
}
