// Package iflow exchanges an iFlow browser cookie for an API key and keeps
// the key fresh. The platform has no OAuth; the BXAuth cookie is the only
// long-lived credential, and keys are renewed through the same endpoints
// the web console uses.
package iflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/auth"
)

const (
	Upstream = "iflow"

	APIKeyEndpoint = "https://platform.iflow.cn/api/openapi/apikey"

	// ExpireTimeLayout is the platform's key expiry format.
	ExpireTimeLayout = "2006-01-02 15:04"

	// Keys live for weeks; refresh two days out.
	RefreshLead = 48 * time.Hour
)

var bxAuthPattern = regexp.MustCompile(`BXAuth=([^;]+)`)

// ExtractBXAuth pulls the BXAuth value out of a raw cookie header.
func ExtractBXAuth(cookie string) string {
	m := bxAuthPattern.FindStringSubmatch(cookie)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// ParseExpireTime parses the platform's "2006-01-02 15:04" expiry string.
func ParseExpireTime(s string) (time.Time, error) {
	t, err := time.Parse(ExpireTimeLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse expire time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// Client holds one iFlow identity. The record's access token is the API
// key; the BXAuth cookie rides in Extra.
type Client struct {
	mu        sync.Mutex
	tokenPath string
	endpoint  string
	record    *auth.TokenRecord
	lastErr   error
	now       func() time.Time
	http      *http.Client
}

// NewClient loads the token record at tokenPath.
func NewClient(tokenPath string) *Client {
	c := &Client{
		tokenPath: tokenPath,
		endpoint:  APIKeyEndpoint,
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

func (c *Client) cookie() string {
	if c.record == nil {
		return ""
	}
	if raw, ok := c.record.Extra["cookie"]; ok {
		var cookie string
		if err := json.Unmarshal(raw, &cookie); err == nil {
			return cookie
		}
	}
	return ""
}

// Refresh renews the API key through the cookie-authenticated console
// endpoints: fetch current key info, then request a rotation by key name.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cookie := c.cookie()
	if strings.TrimSpace(cookie) == "" {
		c.lastErr = auth.ErrNoCredentials
		return auth.NewAuthError(Upstream, "refresh", fmt.Errorf("iflow cookie is empty"))
	}

	info, err := c.fetchKeyInfo(ctx, cookie)
	if err != nil {
		c.lastErr = err
		return auth.NewAuthError(Upstream, "refresh", err)
	}
	if info.HasExpired {
		c.lastErr = auth.ErrRefreshFailed
		return auth.NewAuthError(Upstream, "refresh", fmt.Errorf("api key has expired, re-authenticate with a fresh cookie"))
	}

	renewed, err := c.renewKey(ctx, cookie, info.Name)
	if err != nil {
		c.lastErr = err
		return auth.NewAuthError(Upstream, "refresh", err)
	}

	expiry, err := ParseExpireTime(renewed.ExpireTime)
	if err != nil {
		c.lastErr = err
		return auth.NewAuthError(Upstream, "refresh", err)
	}

	updated := *c.record
	updated.AccessToken = renewed.APIKey
	updated.ExpiresAt = &expiry
	updated.Email = renewed.Name
	if updated.Extra == nil {
		updated.Extra = map[string]json.RawMessage{}
	}
	if bx := ExtractBXAuth(cookie); bx != "" {
		if b, err := json.Marshal("BXAuth=" + bx + ";"); err == nil {
			updated.Extra["cookie"] = b
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

type keyInfo struct {
	Name       string `json:"name"`
	APIKey     string `json:"apiKey"`
	ExpireTime string `json:"expireTime"`
	HasExpired bool   `json:"hasExpired"`
}

type apiKeyResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) fetchKeyInfo(ctx context.Context, cookie string) (*keyInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, err
	}
	browserHeaders(req, cookie, false)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apikey request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("apikey request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var wrapped apiKeyResponse
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decode apikey response: %w", err)
	}
	var info keyInfo
	if err := json.Unmarshal(wrapped.Data, &info); err != nil {
		return nil, fmt.Errorf("decode apikey data: %w", err)
	}
	return &info, nil
}

func (c *Client) renewKey(ctx context.Context, cookie, name string) (*keyInfo, error) {
	payload, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	browserHeaders(req, cookie, true)
	req.Header.Set("Origin", "https://platform.iflow.cn")
	req.Header.Set("Referer", "https://platform.iflow.cn/")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apikey renew failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("apikey renew returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var wrapped apiKeyResponse
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decode renew response: %w", err)
	}
	var info keyInfo
	if err := json.Unmarshal(wrapped.Data, &info); err != nil {
		return nil, fmt.Errorf("decode renew data: %w", err)
	}
	if info.APIKey == "" {
		return nil, auth.ErrRefreshFailed
	}
	return &info, nil
}

// SaveCookie persists a fresh browser cookie, keeping only the BXAuth
// field the platform actually validates.
func (c *Client) SaveCookie(cookie string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bx := ExtractBXAuth(cookie)
	if bx == "" {
		return auth.NewAuthError(Upstream, "login", fmt.Errorf("cookie does not contain BXAuth"))
	}

	record := &auth.TokenRecord{Upstream: Upstream}
	if c.record != nil {
		clone := *c.record
		record = &clone
	}
	if record.Extra == nil {
		record.Extra = map[string]json.RawMessage{}
	}
	b, err := json.Marshal("BXAuth=" + bx + ";")
	if err != nil {
		return err
	}
	record.Extra["cookie"] = b

	if err := auth.WriteTokenFile(c.tokenPath, record); err != nil {
		return auth.NewAuthError(Upstream, "persist", err)
	}
	c.record = record
	return nil
}

// browserHeaders applies the header set the web console sends; the
// endpoint rejects plain programmatic requests.
func browserHeaders(req *http.Request, cookie string, withContentType bool) {
	req.Header.Set("Cookie", cookie)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	if withContentType {
		req.Header.Set("Content-Type", "application/json")
	}
}
