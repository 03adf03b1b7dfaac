package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/codec"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/config"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/stream"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

const (
	anthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
)

// Anthropic calls the Messages API with a static API key.
type Anthropic struct {
	name    string
	apiKey  string
	baseURL string
	model   string
	reg     *codec.Registry
	http    *http.Client
}

// NewAnthropic builds the provider from its config entry.
func NewAnthropic(entry config.Entry, reg *codec.Registry) (*Anthropic, error) {
	base := entry.BaseURL
	if base == "" {
		base = anthropicBaseURL
	}
	return &Anthropic{
		name:    config.ProviderAnthropic,
		apiKey:  entry.APIKey,
		baseURL: base,
		model:   entry.Model,
		reg:     reg,
		http:    newHTTPClient(),
	}, nil
}

func (p *Anthropic) Name() string           { return p.name }
func (p *Anthropic) Dialect() types.Dialect { return types.DialectClaude }
func (p *Anthropic) NeedsRefresh() bool     { return false }

func (p *Anthropic) RefreshAuth(ctx context.Context) error { return nil }

func (p *Anthropic) Compile(req *types.CanonicalRequest) ([]byte, error) {
	return wrapCanonical(p.reg, types.DialectClaude, req, p.model)
}

func (p *Anthropic) headers() http.Header {
	h := http.Header{}
	h.Set("x-api-key", p.apiKey)
	h.Set("anthropic-version", anthropicVersion)
	return h
}

func (p *Anthropic) Complete(ctx context.Context, payload []byte) (*Response, error) {
	body, err := postJSON(ctx, p.http, p.name, p.baseURL+"/v1/messages", payload, p.headers())
	if err != nil {
		return nil, err
	}

	var resp types.ClaudeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NetworkError(p.name, err)
	}
	out := &Response{Raw: body}
	for i, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, types.ToolCallDelta{
				Index: i,
				ID:    block.ID,
				Name:  block.Name,
				Args:  string(block.Input),
			})
		}
	}
	if resp.StopReason != nil {
		out.StopReason = *resp.StopReason
	}
	out.Usage = &types.Usage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
	return out, nil
}

func (p *Anthropic) Stream(ctx context.Context, payload []byte) (*stream.Stream, error) {
	payload, err := sjson.SetBytes(payload, "stream", true)
	if err != nil {
		return nil, NetworkError(p.name, err)
	}
	body, err := postStream(ctx, p.http, p.name, p.baseURL+"/v1/messages", payload, p.headers())
	if err != nil {
		return nil, err
	}
	return stream.New(body, stream.DecodeClaude), nil
}

// Models lists the upstream model catalog.
func (p *Anthropic) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, NetworkError(p.name, err)
	}
	for k, vs := range p.headers() {
		req.Header[k] = vs
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, NetworkError(p.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, Classify(p.name, resp.StatusCode, nil, resp.Header)
	}
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NetworkError(p.name, err)
	}
	var names []string
	gjson.GetBytes(buf, "data.#.id").ForEach(func(_, v gjson.Result) bool {
		names = append(names, v.String())
		return true
	})
	return names, nil
}
