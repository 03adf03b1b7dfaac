package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/auth/iflow"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/codec"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/config"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/stream"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

const (
	iflowBaseURL      = "https://apis.iflow.cn/v1"
	iflowDefaultModel = "qwen3-max"
)

// IFlow calls the iFlow OpenAI-compatible API. The key comes either from
// config or from the cookie-refreshed key file.
type IFlow struct {
	name    string
	apiKey  string
	auth    *iflow.Client
	baseURL string
	model   string
	reg     *codec.Registry
	http    *http.Client
}

// NewIFlow builds the provider from its config entry.
func NewIFlow(entry config.Entry, reg *codec.Registry) (*IFlow, error) {
	base := entry.BaseURL
	if base == "" {
		base = iflowBaseURL
	}
	model := entry.Model
	if model == "" {
		model = iflowDefaultModel
	}
	p := &IFlow{
		name:    config.ProviderIFlow,
		apiKey:  entry.APIKey,
		baseURL: base,
		model:   model,
		reg:     reg,
		http:    newHTTPClient(),
	}
	if entry.OAuthToken != "" {
		p.auth = iflow.NewClient(entry.OAuthToken)
	}
	return p, nil
}

func (p *IFlow) Name() string           { return p.name }
func (p *IFlow) Dialect() types.Dialect { return types.DialectOpenAI }

func (p *IFlow) NeedsRefresh() bool {
	return p.auth != nil && p.auth.NeedsRefresh()
}

func (p *IFlow) RefreshAuth(ctx context.Context) error {
	if p.auth == nil {
		return nil
	}
	return p.auth.Refresh(ctx)
}

func (p *IFlow) key() string {
	if p.auth != nil {
		if k, ok := p.auth.AccessToken(); ok {
			return k
		}
	}
	return p.apiKey
}

// Compile renders the openai payload and injects the thinking parameters
// each iFlow model family expects.
func (p *IFlow) Compile(req *types.CanonicalRequest) ([]byte, error) {
	payload, err := wrapCanonical(p.reg, types.DialectOpenAI, req, p.model)
	if err != nil {
		return nil, err
	}
	return ApplyThinkingParams(payload)
}

// ApplyThinkingParams adds the per-family reasoning switches. GLM and the
// DeepSeek/Qwen preview lines take chat_template_kwargs; MiniMax uses a
// top-level reasoning_split flag.
func ApplyThinkingParams(payload []byte) ([]byte, error) {
	model := strings.ToLower(gjson.GetBytes(payload, "model").String())
	var err error
	switch {
	case strings.HasPrefix(model, "glm"):
		payload, err = sjson.SetBytes(payload, "chat_template_kwargs.enable_thinking", true)
		if err != nil {
			return nil, err
		}
		payload, err = sjson.SetBytes(payload, "chat_template_kwargs.clear_thinking", false)
		if err != nil {
			return nil, err
		}
	case model == "qwen3-max-preview",
		strings.HasPrefix(model, "deepseek-v3.2"),
		strings.HasPrefix(model, "deepseek-v3.1"),
		strings.HasPrefix(model, "deepseek-r1"):
		payload, err = sjson.SetBytes(payload, "chat_template_kwargs.enable_thinking", true)
		if err != nil {
			return nil, err
		}
	case strings.HasPrefix(model, "minimax"):
		payload, err = sjson.SetBytes(payload, "reasoning_split", true)
		if err != nil {
			return nil, err
		}
	}
	return payload, nil
}

func (p *IFlow) headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+p.key())
	return h
}

func (p *IFlow) Complete(ctx context.Context, payload []byte) (*Response, error) {
	body, err := postJSON(ctx, p.http, p.name, p.baseURL+"/chat/completions", payload, p.headers())
	if err != nil {
		return nil, err
	}
	return parseChatResponse(p.name, body)
}

func (p *IFlow) Stream(ctx context.Context, payload []byte) (*stream.Stream, error) {
	payload, err := sjson.SetBytes(payload, "stream", true)
	if err != nil {
		return nil, NetworkError(p.name, err)
	}
	body, err := postStream(ctx, p.http, p.name, p.baseURL+"/chat/completions", payload, p.headers())
	if err != nil {
		return nil, err
	}
	return stream.New(body, stream.DecodeChat), nil
}

// parseChatResponse collects a chat-completions body into canonical form.
func parseChatResponse(name string, body []byte) (*Response, error) {
	var resp types.ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NetworkError(name, err)
	}
	out := &Response{Raw: body}
	for _, choice := range resp.Choices {
		out.Text += choice.Message.Content
		for i, tc := range choice.Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, types.ToolCallDelta{
				Index: i,
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Args:  tc.Function.Arguments,
			})
		}
		if choice.FinishReason != nil {
			out.StopReason = *choice.FinishReason
		}
	}
	if resp.Usage != nil {
		out.Usage = resp.Usage
	}
	return out, nil
}
