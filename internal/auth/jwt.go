package auth

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// ParseJWTClaims decodes the payload segment of a JWT without verifying the
// signature. Callers use it only to read advisory claims (expiry, account
// identifiers), never for trust decisions.
func ParseJWTClaims(token string) (map[string]any, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidJWT
	}
	payload := parts[1]
	if m := len(payload) % 4; m != 0 {
		payload += strings.Repeat("=", 4-m)
	}
	data, err := base64.URLEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	var claims map[string]any
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// JWTExpiry extracts the exp claim as a time, when present.
func JWTExpiry(token string) (time.Time, bool) {
	claims, err := ParseJWTClaims(token)
	if err != nil {
		return time.Time{}, false
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(exp), 0), true
}

// JWTEmail extracts the email claim, when present.
func JWTEmail(token string) string {
	claims, err := ParseJWTClaims(token)
	if err != nil {
		return ""
	}
	email, _ := claims["email"].(string)
	return email
}
