package provider

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ProviderError is the only error kind the gateway negotiates on. The
// gateway reads Retryable, ShouldFallback, and RetryAfter; Message is for
// humans only.
type ProviderError struct {
	Provider       string
	Status         int
	Message        string
	Retryable      bool
	ShouldFallback bool
	RetryAfter     time.Duration
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

// Classify maps an upstream HTTP status to a structured error.
//
// Rate limits and server errors are retryable and fallback-eligible.
// Credential rejections are fatal for this provider but another candidate
// may still serve the request. Any other client error means the request
// itself is bad and no provider will do better.
func Classify(name string, status int, body []byte, header http.Header) *ProviderError {
	pe := &ProviderError{
		Provider: name,
		Status:   status,
		Message:  truncate(string(body), 512),
	}
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		pe.Retryable = true
		pe.ShouldFallback = true
		pe.RetryAfter = parseRetryAfter(header)
	case status >= 500:
		pe.Retryable = true
		pe.ShouldFallback = true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		pe.ShouldFallback = true
	}
	return pe
}

// NetworkError wraps a transport failure; the upstream never answered, so
// retrying and falling over are both safe.
func NetworkError(name string, err error) *ProviderError {
	return &ProviderError{
		Provider:       name,
		Message:        err.Error(),
		Retryable:      true,
		ShouldFallback: true,
	}
}

func parseRetryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
