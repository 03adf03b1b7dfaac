package provider

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/tidwall/sjson"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/codec"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/config"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/stream"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

const (
	ollamaBaseURL      = "http://localhost:11434/v1"
	ollamaDefaultModel = "llama3"
)

// Ollama calls a local Ollama daemon through its OpenAI-compatible
// endpoint. No credential: the daemon trusts the loopback caller.
type Ollama struct {
	name    string
	baseURL string
	model   string
	reg     *codec.Registry
	http    *http.Client
}

// NewOllama builds the provider from its config entry.
func NewOllama(entry config.Entry, reg *codec.Registry) (*Ollama, error) {
	base := entry.BaseURL
	if base == "" {
		base = ollamaBaseURL
	}
	model := entry.Model
	if model == "" {
		model = ollamaDefaultModel
	}
	return &Ollama{
		name:    config.ProviderOllama,
		baseURL: base,
		model:   model,
		reg:     reg,
		http:    newHTTPClient(),
	}, nil
}

func (p *Ollama) Name() string           { return p.name }
func (p *Ollama) Dialect() types.Dialect { return types.DialectOpenAI }
func (p *Ollama) NeedsRefresh() bool     { return false }

func (p *Ollama) RefreshAuth(ctx context.Context) error { return nil }

func (p *Ollama) Compile(req *types.CanonicalRequest) ([]byte, error) {
	return wrapCanonical(p.reg, types.DialectOpenAI, req, p.model)
}

func (p *Ollama) Complete(ctx context.Context, payload []byte) (*Response, error) {
	body, err := postJSON(ctx, p.http, p.name, p.baseURL+"/chat/completions", payload, nil)
	if err != nil {
		return nil, err
	}
	return parseChatResponse(p.name, body)
}

func (p *Ollama) Stream(ctx context.Context, payload []byte) (*stream.Stream, error) {
	payload, err := sjson.SetBytes(payload, "stream", true)
	if err != nil {
		return nil, NetworkError(p.name, err)
	}
	body, err := postStream(ctx, p.http, p.name, p.baseURL+"/chat/completions", payload, nil)
	if err != nil {
		return nil, err
	}
	return stream.New(body, stream.DecodeChat), nil
}

// Models lists the locally pulled models.
func (p *Ollama) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, NetworkError(p.name, err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, NetworkError(p.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, Classify(p.name, resp.StatusCode, nil, resp.Header)
	}
	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, NetworkError(p.name, err)
	}
	var names []string
	for _, m := range out.Data {
		names = append(names, m.ID)
	}
	return names, nil
}
