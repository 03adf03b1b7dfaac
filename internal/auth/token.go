package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TokenState classifies a TokenRecord relative to its expiry.
type TokenState string

const (
	StateValid         TokenState = "valid"
	StateExpiringSoon  TokenState = "expiring_soon"
	StateExpired       TokenState = "expired"
	StateRefreshFailed TokenState = "refresh_failed"
)

// DefaultRefreshLead is the default time before expiry at which a token is
// considered ExpiringSoon. Upstreams with short- or long-lived tokens tune
// this per credential.
const DefaultRefreshLead = 5 * time.Minute

// TokenRecord is one persisted OAuth identity. Fields this gateway does not
// recognize are kept in Extra and survive read-modify-write cycles.
type TokenRecord struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Email        string
	Upstream     string
	Extra        map[string]json.RawMessage
}

var knownTokenFields = map[string]bool{
	"access_token":  true,
	"refresh_token": true,
	"expires_at":    true,
	"email":         true,
	"upstream":      true,
}

// UnmarshalJSON keeps unrecognized fields in Extra instead of dropping them.
func (r *TokenRecord) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*r = TokenRecord{}
	for key, raw := range fields {
		switch key {
		case "access_token":
			if err := json.Unmarshal(raw, &r.AccessToken); err != nil {
				return fmt.Errorf("token record %s: %w", key, err)
			}
		case "refresh_token":
			if err := json.Unmarshal(raw, &r.RefreshToken); err != nil {
				return fmt.Errorf("token record %s: %w", key, err)
			}
		case "expires_at":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("token record %s: %w", key, err)
			}
			if s != "" {
				t, err := time.Parse(time.RFC3339, s)
				if err != nil {
					return fmt.Errorf("token record %s: %w", key, err)
				}
				r.ExpiresAt = &t
			}
		case "email":
			if err := json.Unmarshal(raw, &r.Email); err != nil {
				return fmt.Errorf("token record %s: %w", key, err)
			}
		case "upstream":
			if err := json.Unmarshal(raw, &r.Upstream); err != nil {
				return fmt.Errorf("token record %s: %w", key, err)
			}
		default:
			if r.Extra == nil {
				r.Extra = make(map[string]json.RawMessage)
			}
			r.Extra[key] = raw
		}
	}
	return nil
}

// MarshalJSON writes known fields plus everything carried in Extra.
func (r TokenRecord) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(r.Extra)+5)
	for key, raw := range r.Extra {
		if knownTokenFields[key] {
			continue
		}
		fields[key] = raw
	}
	set := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fields[key] = b
		return nil
	}
	if err := set("access_token", r.AccessToken); err != nil {
		return nil, err
	}
	if r.RefreshToken != "" {
		if err := set("refresh_token", r.RefreshToken); err != nil {
			return nil, err
		}
	}
	if r.ExpiresAt != nil {
		if err := set("expires_at", r.ExpiresAt.UTC().Format(time.RFC3339)); err != nil {
			return nil, err
		}
	}
	if r.Email != "" {
		if err := set("email", r.Email); err != nil {
			return nil, err
		}
	}
	if r.Upstream != "" {
		if err := set("upstream", r.Upstream); err != nil {
			return nil, err
		}
	}
	return json.Marshal(fields)
}

// StateAt computes the token state at the given instant. A record with no
// expiry never expires. The state moves only forward in time for a fixed
// lead: Valid, then ExpiringSoon inside the lead window, then Expired.
func (r *TokenRecord) StateAt(now time.Time, lead time.Duration) TokenState {
	if r.ExpiresAt == nil {
		return StateValid
	}
	expiry := *r.ExpiresAt
	switch {
	case !now.Before(expiry):
		return StateExpired
	case !now.Before(expiry.Add(-lead)):
		return StateExpiringSoon
	default:
		return StateValid
	}
}

// NeedsRefresh reports whether the record is within its refresh window.
func (r *TokenRecord) NeedsRefresh(now time.Time, lead time.Duration) bool {
	switch r.StateAt(now, lead) {
	case StateExpired, StateExpiringSoon:
		return true
	}
	return false
}

// ReadTokenFile loads a token record from path.
func ReadTokenFile(path string) (*TokenRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, err
	}
	var rec TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("malformed token file %s: %w", path, err)
	}
	return &rec, nil
}

// WriteTokenFile persists a token record with 0600 permissions, creating
// the parent directory when needed.
func WriteTokenFile(path string, rec *TokenRecord) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("unable to create token directory %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// NowISO8601 returns the current UTC time in ISO 8601 format.
func NowISO8601() string {
	return time.Now().UTC().Format(time.RFC3339)
}
