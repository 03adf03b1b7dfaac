package provider

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

func newHTTPClient() *http.Client {
	// No client-level timeout: per-attempt deadlines come from the
	// caller's context, and streaming bodies outlive any fixed budget.
	return &http.Client{Transport: &http.Transport{
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}}
}

// postJSON sends payload and returns the response body, classifying any
// failure into a ProviderError.
func postJSON(ctx context.Context, hc *http.Client, name, url string, payload []byte, header http.Header) ([]byte, error) {
	resp, err := send(ctx, hc, name, url, payload, header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NetworkError(name, err)
	}
	return body, nil
}

// postStream sends payload and hands back the open response body for SSE
// consumption. The caller owns the body.
func postStream(ctx context.Context, hc *http.Client, name, url string, payload []byte, header http.Header) (io.ReadCloser, error) {
	resp, err := send(ctx, hc, name, url, payload, header)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func send(ctx context.Context, hc *http.Client, name, url string, payload []byte, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, NetworkError(name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, NetworkError(name, err)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return nil, Classify(name, resp.StatusCode, body, resp.Header)
	}
	return resp, nil
}
