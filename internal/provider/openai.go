package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/sjson"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/auth/codex"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/codec"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/config"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/stream"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

const openaiBaseURL = "https://api.openai.com/v1"

// OpenAI calls the chat-completions API through the official SDK. The
// credential is either a static API key or a ChatGPT OAuth token kept
// fresh by the codex client.
type OpenAI struct {
	name    string
	client  openai.Client
	oauth   *codex.Client
	rawKey  string
	baseURL string
	model   string
	reg     *codec.Registry
	http    *http.Client
}

// NewOpenAI builds the provider from its config entry.
func NewOpenAI(entry config.Entry, reg *codec.Registry) (*OpenAI, error) {
	base := entry.BaseURL
	if base == "" {
		base = openaiBaseURL
	}
	p := &OpenAI{
		name:    config.ProviderOpenAI,
		rawKey:  entry.APIKey,
		baseURL: base,
		model:   entry.Model,
		reg:     reg,
		http:    newHTTPClient(),
	}
	opts := []option.RequestOption{option.WithBaseURL(base)}
	if entry.OAuthToken != "" {
		p.oauth = codex.NewClient(entry.OAuthToken)
		// Per-call options carry the bearer; the key slot stays empty.
		opts = append(opts, option.WithAPIKey(""))
	} else {
		opts = append(opts, option.WithAPIKey(entry.APIKey))
	}
	p.client = openai.NewClient(opts...)
	return p, nil
}

func (p *OpenAI) Name() string           { return p.name }
func (p *OpenAI) Dialect() types.Dialect { return types.DialectOpenAI }

func (p *OpenAI) NeedsRefresh() bool {
	return p.oauth != nil && p.oauth.NeedsRefresh()
}

func (p *OpenAI) RefreshAuth(ctx context.Context) error {
	if p.oauth == nil {
		return nil
	}
	return p.oauth.Refresh(ctx)
}

func (p *OpenAI) Compile(req *types.CanonicalRequest) ([]byte, error) {
	return wrapCanonical(p.reg, types.DialectOpenAI, req, p.model)
}

func (p *OpenAI) callOptions() []option.RequestOption {
	if p.oauth == nil {
		return nil
	}
	tok, ok := p.oauth.AccessToken()
	if !ok {
		return nil
	}
	opts := []option.RequestOption{option.WithHeader("Authorization", "Bearer "+tok)}
	if acct := p.oauth.AccountID(); acct != "" {
		opts = append(opts, option.WithHeader("chatgpt-account-id", acct))
	}
	return opts
}

func (p *OpenAI) Complete(ctx context.Context, payload []byte) (*Response, error) {
	var resp openai.ChatCompletion
	err := p.client.Post(ctx, "chat/completions", json.RawMessage(payload), &resp, p.callOptions()...)
	if err != nil {
		return nil, classifySDKError(p.name, err)
	}

	out := &Response{}
	if raw, merr := json.Marshal(resp); merr == nil {
		out.Raw = raw
	}
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
		out.StopReason = string(choice.FinishReason)
	}
	out.Usage = &types.Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	return out, nil
}

func (p *OpenAI) Stream(ctx context.Context, payload []byte) (*stream.Stream, error) {
	payload, err := sjson.SetBytes(payload, "stream", true)
	if err != nil {
		return nil, NetworkError(p.name, err)
	}
	body, err := postStream(ctx, p.http, p.name, p.baseURL+"/chat/completions", payload, p.streamHeaders())
	if err != nil {
		return nil, err
	}
	return stream.New(body, stream.DecodeChat), nil
}

func (p *OpenAI) streamHeaders() http.Header {
	h := http.Header{}
	if p.oauth != nil {
		if tok, ok := p.oauth.AccessToken(); ok {
			h.Set("Authorization", "Bearer "+tok)
			if acct := p.oauth.AccountID(); acct != "" {
				h.Set("chatgpt-account-id", acct)
			}
		}
		return h
	}
	h.Set("Authorization", "Bearer "+p.rawKey)
	return h
}

// Models lists the upstream model catalog through the SDK.
func (p *OpenAI) Models(ctx context.Context) ([]string, error) {
	pager, err := p.client.Models.List(ctx, p.callOptions()...)
	if err != nil {
		return nil, classifySDKError(p.name, err)
	}
	var names []string
	for _, m := range pager.Data {
		names = append(names, m.ID)
	}
	return names, nil
}

// classifySDKError maps an openai-go error onto the gateway taxonomy.
func classifySDKError(name string, err error) *ProviderError {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return Classify(name, apierr.StatusCode, []byte(apierr.Error()), nil)
	}
	return NetworkError(name, err)
}
