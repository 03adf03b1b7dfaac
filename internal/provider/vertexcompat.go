package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/codec"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/config"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/stream"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

// VertexCompat calls third-party relays that expose the Vertex publisher
// URL layout behind a plain API key (zenmux and friends). Unlike the real
// Vertex provider there is no service account and no project: the relay
// base URL plus an x-goog-api-key header is the whole handshake.
type VertexCompat struct {
	name    string
	apiKey  string
	baseURL string
	model   string
	reg     *codec.Registry
	http    *http.Client
}

// NewVertexCompat builds the provider from its config entry. BaseURL is
// required: there is no canonical relay host.
func NewVertexCompat(entry config.Entry, reg *codec.Registry) (*VertexCompat, error) {
	if entry.BaseURL == "" {
		return nil, fmt.Errorf("provider: vertex-compat requires base_url")
	}
	return &VertexCompat{
		name:    config.ProviderVertexCompat,
		apiKey:  entry.APIKey,
		baseURL: entry.BaseURL,
		model:   entry.Model,
		reg:     reg,
		http:    newHTTPClient(),
	}, nil
}

func (p *VertexCompat) Name() string           { return p.name }
func (p *VertexCompat) Dialect() types.Dialect { return types.DialectGemini }
func (p *VertexCompat) NeedsRefresh() bool     { return false }

func (p *VertexCompat) RefreshAuth(ctx context.Context) error { return nil }

func (p *VertexCompat) Compile(req *types.CanonicalRequest) ([]byte, error) {
	return wrapCanonical(p.reg, types.DialectGemini, req, p.model)
}

// endpointURL renders the publisher-model URL on the relay host. A
// trailing slash on the configured base is tolerated.
func (p *VertexCompat) endpointURL(model, verb string) string {
	base := strings.TrimSuffix(p.baseURL, "/")
	return fmt.Sprintf("%s/v1/publishers/google/models/%s:%s", base, model, verb)
}

func (p *VertexCompat) headers() http.Header {
	h := http.Header{}
	h.Set("x-goog-api-key", p.apiKey)
	return h
}

func (p *VertexCompat) Complete(ctx context.Context, payload []byte) (*Response, error) {
	model, body, err := splitModel(p.name, payload)
	if err != nil {
		return nil, err
	}
	respBody, err := postJSON(ctx, p.http, p.name, p.endpointURL(model, "generateContent"), body, p.headers())
	if err != nil {
		return nil, err
	}
	return parseGeminiResponse(p.name, respBody)
}

func (p *VertexCompat) Stream(ctx context.Context, payload []byte) (*stream.Stream, error) {
	model, body, err := splitModel(p.name, payload)
	if err != nil {
		return nil, err
	}
	url := p.endpointURL(model, "streamGenerateContent") + "?alt=sse"
	respBody, err := postStream(ctx, p.http, p.name, url, body, p.headers())
	if err != nil {
		return nil, err
	}
	return stream.New(respBody, stream.DecodeGemini), nil
}

// CountTokens asks the relay for the prompt's token total.
func (p *VertexCompat) CountTokens(ctx context.Context, payload []byte) (int, error) {
	model, body, err := splitModel(p.name, payload)
	if err != nil {
		return 0, err
	}
	respBody, err := postJSON(ctx, p.http, p.name, p.endpointURL(model, "countTokens"), body, p.headers())
	if err != nil {
		return 0, err
	}
	var out struct {
		TotalTokens int `json:"totalTokens"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return 0, NetworkError(p.name, err)
	}
	return out.TotalTokens, nil
}
