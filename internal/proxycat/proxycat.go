// Package proxycat is the static catalog of upstream surfaces a fronting
// proxy may expose: API endpoints, auth flows, websockets, and CLI entry
// points. Pure lookup and templating; no transport.
package proxycat

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an exposure.
type Kind string

const (
	KindAPI       Kind = "api"
	KindAuth      Kind = "auth"
	KindWebsocket Kind = "websocket"
	KindCLI       Kind = "cli"
)

// ErrNotFound is returned when no exposure matches a lookup.
var ErrNotFound = errors.New("proxycat: no such exposure")

// Exposure is one addressable upstream surface. Template fields use
// {name} placeholders filled by the Preparer.
type Exposure struct {
	Upstream string
	Kind     Kind
	Method   string
	URL      string
	Headers  map[string]string
	Command  []string
	Notes    string
}

// catalog is the fixed exposure table. Entries are keyed by upstream and
// kind; lookups never mutate it.
var catalog = []Exposure{
	{
		Upstream: "anthropic",
		Kind:     KindAPI,
		Method:   "POST",
		URL:      "https://api.anthropic.com/v1/messages",
		Headers:  map[string]string{"x-api-key": "{api_key}", "anthropic-version": "2023-06-01"},
	},
	{
		Upstream: "openai",
		Kind:     KindAPI,
		Method:   "POST",
		URL:      "https://api.openai.com/v1/chat/completions",
		Headers:  map[string]string{"Authorization": "Bearer {api_key}"},
	},
	{
		Upstream: "codex",
		Kind:     KindAuth,
		Method:   "GET",
		URL:      "https://auth.openai.com/oauth/authorize?client_id={client_id}&redirect_uri=http://localhost:1455/auth/callback&response_type=code",
		Notes:    "PKCE browser flow, local callback on port 1455",
	},
	{
		Upstream: "googleai",
		Kind:     KindAPI,
		Method:   "POST",
		URL:      "https://generativelanguage.googleapis.com/v1beta/models/{model}:generateContent",
		Headers:  map[string]string{"x-goog-api-key": "{api_key}"},
	},
	{
		Upstream: "vertex",
		Kind:     KindAPI,
		Method:   "POST",
		URL:      "https://{location}-aiplatform.googleapis.com/v1/projects/{project}/locations/{location}/publishers/google/models/{model}:generateContent",
		Headers:  map[string]string{"Authorization": "Bearer {access_token}"},
	},
	{
		Upstream: "antigravity",
		Kind:     KindAPI,
		Method:   "POST",
		URL:      "https://cloudcode-pa.googleapis.com/v1internal:generateContent",
		Headers:  map[string]string{"Authorization": "Bearer {access_token}"},
	},
	{
		Upstream: "antigravity",
		Kind:     KindAuth,
		Method:   "GET",
		URL:      "https://accounts.google.com/o/oauth2/v2/auth?client_id={client_id}&redirect_uri=http://127.0.0.1:51121/oauth-callback&response_type=code",
		Notes:    "confidential client, local callback on port 51121",
	},
	{
		Upstream: "iflow",
		Kind:     KindAPI,
		Method:   "POST",
		URL:      "https://apis.iflow.cn/v1/chat/completions",
		Headers:  map[string]string{"Authorization": "Bearer {api_key}"},
	},
	{
		Upstream: "iflow",
		Kind:     KindAuth,
		Method:   "GET",
		URL:      "https://platform.iflow.cn/api/openapi/apikey",
		Headers:  map[string]string{"Cookie": "{cookie}"},
		Notes:    "cookie-authenticated key rotation",
	},
	{
		Upstream: "ollama",
		Kind:     KindAPI,
		Method:   "POST",
		URL:      "http://localhost:11434/v1/chat/completions",
		Notes:    "local daemon, no auth",
	},
	{
		Upstream: "vertex-compat",
		Kind:     KindAPI,
		Method:   "POST",
		URL:      "{base_url}/v1/publishers/google/models/{model}:generateContent",
		Headers:  map[string]string{"x-goog-api-key": "{api_key}"},
		Notes:    "key-authenticated relay on the Vertex publisher layout",
	},
	{
		Upstream: "gemini-cli",
		Kind:     KindCLI,
		Command:  []string{"gemini", "--model", "{model}"},
	},
	{
		Upstream: "claude-code",
		Kind:     KindCLI,
		Command:  []string{"claude", "--model", "{model}"},
	},
	{
		Upstream: "codex-cli",
		Kind:     KindCLI,
		Command:  []string{"codex", "--model", "{model}"},
	},
}

// Lookup returns the exposures for an upstream, optionally filtered by
// kind (empty kind matches all).
func Lookup(upstream string, kind Kind) ([]Exposure, error) {
	var out []Exposure
	for _, e := range catalog {
		if e.Upstream != upstream {
			continue
		}
		if kind != "" && e.Kind != kind {
			continue
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, upstream, kind)
	}
	return out, nil
}

// Upstreams returns the distinct upstream names in the catalog, sorted.
func Upstreams() []string {
	seen := map[string]bool{}
	var names []string
	for _, e := range catalog {
		if !seen[e.Upstream] {
			seen[e.Upstream] = true
			names = append(names, e.Upstream)
		}
	}
	sort.Strings(names)
	return names
}

// All returns a copy of the full catalog.
func All() []Exposure {
	out := make([]Exposure, len(catalog))
	copy(out, catalog)
	return out
}

// Call is a rendered exposure ready to hand to a transport.
type Call struct {
	Kind    Kind
	Method  string
	URL     string
	Headers map[string]string
	Command []string
}

// Preparer substitutes {name} placeholders with concrete values.
type Preparer struct {
	Values map[string]string
}

// Prepare renders one exposure. Unresolved placeholders are an error so
// a half-filled call never reaches a transport.
func (p *Preparer) Prepare(e Exposure) (*Call, error) {
	call := &Call{Kind: e.Kind, Method: e.Method}

	var err error
	if call.URL, err = p.render(e.URL); err != nil {
		return nil, err
	}
	if len(e.Headers) > 0 {
		call.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			if call.Headers[k], err = p.render(v); err != nil {
				return nil, err
			}
		}
	}
	for _, arg := range e.Command {
		rendered, err := p.render(arg)
		if err != nil {
			return nil, err
		}
		call.Command = append(call.Command, rendered)
	}
	return call, nil
}

func (p *Preparer) render(tpl string) (string, error) {
	out := tpl
	for k, v := range p.Values {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	if i := strings.IndexByte(out, '{'); i >= 0 {
		if j := strings.IndexByte(out[i:], '}'); j > 0 {
			return "", fmt.Errorf("proxycat: unresolved placeholder %s", out[i:i+j+1])
		}
	}
	return out, nil
}
