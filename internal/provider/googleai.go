package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/codec"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/config"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/stream"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

const googleaiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GoogleAI calls the Generative Language API with an API key header.
type GoogleAI struct {
	name    string
	apiKey  string
	baseURL string
	model   string
	reg     *codec.Registry
	http    *http.Client
}

// NewGoogleAI builds the provider from its config entry.
func NewGoogleAI(entry config.Entry, reg *codec.Registry) (*GoogleAI, error) {
	base := entry.BaseURL
	if base == "" {
		base = googleaiBaseURL
	}
	return &GoogleAI{
		name:    config.ProviderGoogleAI,
		apiKey:  entry.APIKey,
		baseURL: base,
		model:   entry.Model,
		reg:     reg,
		http:    newHTTPClient(),
	}, nil
}

func (p *GoogleAI) Name() string           { return p.name }
func (p *GoogleAI) Dialect() types.Dialect { return types.DialectGemini }
func (p *GoogleAI) NeedsRefresh() bool     { return false }

func (p *GoogleAI) RefreshAuth(ctx context.Context) error { return nil }

func (p *GoogleAI) Compile(req *types.CanonicalRequest) ([]byte, error) {
	return wrapCanonical(p.reg, types.DialectGemini, req, p.model)
}

func (p *GoogleAI) headers() http.Header {
	h := http.Header{}
	h.Set("x-goog-api-key", p.apiKey)
	return h
}

// splitModel pulls the model name out of the compiled payload; the Gemini
// API addresses models in the URL, not the body.
func splitModel(name string, payload []byte) (model string, body []byte, err error) {
	model = gjson.GetBytes(payload, "model").String()
	if model == "" {
		return "", nil, &ProviderError{Provider: name, Message: "compiled payload has no model"}
	}
	body, err = sjson.DeleteBytes(payload, "model")
	if err != nil {
		return "", nil, NetworkError(name, err)
	}
	return model, body, nil
}

func (p *GoogleAI) Complete(ctx context.Context, payload []byte) (*Response, error) {
	model, body, err := splitModel(p.name, payload)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, model)
	respBody, err := postJSON(ctx, p.http, p.name, url, body, p.headers())
	if err != nil {
		return nil, err
	}
	return parseGeminiResponse(p.name, respBody)
}

func (p *GoogleAI) Stream(ctx context.Context, payload []byte) (*stream.Stream, error) {
	model, body, err := splitModel(p.name, payload)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", p.baseURL, model)
	respBody, err := postStream(ctx, p.http, p.name, url, body, p.headers())
	if err != nil {
		return nil, err
	}
	return stream.New(respBody, stream.DecodeGemini), nil
}

// Models lists the upstream model catalog.
func (p *GoogleAI) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, NetworkError(p.name, err)
	}
	req.Header.Set("x-goog-api-key", p.apiKey)
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, NetworkError(p.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, Classify(p.name, resp.StatusCode, nil, resp.Header)
	}
	var out struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, NetworkError(p.name, err)
	}
	var names []string
	for _, m := range out.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// parseGeminiResponse collects a generateContent body into canonical form.
func parseGeminiResponse(name string, body []byte) (*Response, error) {
	var resp types.GeminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NetworkError(name, err)
	}
	out := &Response{Raw: body}
	toolIndex := 0
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				out.ToolCalls = append(out.ToolCalls, types.ToolCallDelta{
					Index: toolIndex,
					ID:    part.FunctionCall.Name,
					Name:  part.FunctionCall.Name,
					Args:  string(part.FunctionCall.Args),
				})
				toolIndex++
			case part.Text != "":
				out.Text += part.Text
			}
		}
		if cand.FinishReason != "" {
			out.StopReason = cand.FinishReason
		}
	}
	if resp.UsageMetadata != nil {
		out.Usage = &types.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	return out, nil
}
