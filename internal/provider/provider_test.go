package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/auth"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/auth/antigravity"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/codec"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/config"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		header     http.Header
		retryable  bool
		fallback   bool
		retryAfter time.Duration
	}{
		{"rate limited", 429, http.Header{"Retry-After": []string{"3"}}, true, true, 3 * time.Second},
		{"rate limited no header", 429, nil, true, true, 0},
		{"request timeout", 408, nil, true, true, 0},
		{"server error", 500, nil, true, true, 0},
		{"bad gateway", 502, nil, true, true, 0},
		{"unavailable", 503, nil, true, true, 0},
		{"unauthorized", 401, nil, false, true, 0},
		{"forbidden", 403, nil, false, true, 0},
		{"bad request", 400, nil, false, false, 0},
		{"not found", 404, nil, false, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := Classify("test", tt.status, []byte("oops"), tt.header)
			if pe.Retryable != tt.retryable {
				t.Errorf("retryable: got %v want %v", pe.Retryable, tt.retryable)
			}
			if pe.ShouldFallback != tt.fallback {
				t.Errorf("fallback: got %v want %v", pe.ShouldFallback, tt.fallback)
			}
			if pe.RetryAfter != tt.retryAfter {
				t.Errorf("retry after: got %v want %v", pe.RetryAfter, tt.retryAfter)
			}
			if pe.Status != tt.status {
				t.Errorf("status: got %d", pe.Status)
			}
		})
	}
}

func TestClassifyTruncatesBody(t *testing.T) {
	body := strings.Repeat("x", 2000)
	pe := Classify("test", 500, []byte(body), nil)
	if len(pe.Message) != 512+len("...") {
		t.Errorf("message length: %d", len(pe.Message))
	}
	if !strings.HasSuffix(pe.Message, "...") {
		t.Error("missing truncation marker")
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", time.Now().Add(10*time.Second).UTC().Format(http.TimeFormat))
	d := parseRetryAfter(h)
	if d <= 0 || d > 11*time.Second {
		t.Errorf("duration: %v", d)
	}

	h.Set("Retry-After", time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat))
	if d := parseRetryAfter(h); d != 0 {
		t.Errorf("past date: got %v want 0", d)
	}
}

func TestNetworkErrorIsRetryable(t *testing.T) {
	pe := NetworkError("test", context.DeadlineExceeded)
	if !pe.Retryable || !pe.ShouldFallback {
		t.Errorf("flags: %+v", pe)
	}
}

func canonicalReq(text string) *types.CanonicalRequest {
	return &types.CanonicalRequest{
		Model: "ignored",
		Messages: []types.Message{
			{Role: types.RoleUser, Blocks: []types.ContentBlock{types.TextBlock(text)}},
		},
	}
}

func TestAnthropicComplete(t *testing.T) {
	var gotPath, gotKey, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		w.Write([]byte(`{
			"content": [
				{"type": "text", "text": "The answer is "},
				{"type": "tool_use", "id": "toolu_1", "name": "calc", "input": {"expr": "2+2"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 9, "output_tokens": 4}
		}`))
	}))
	defer srv.Close()

	p, err := NewAnthropic(config.Entry{Provider: config.ProviderAnthropic, APIKey: "sk-test", BaseURL: srv.URL, Model: "claude-sonnet-4-5"}, codec.NewRegistry())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	payload, err := p.Compile(canonicalReq("what is 2+2"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if m := gjson.GetBytes(payload, "model").String(); m != "claude-sonnet-4-5" {
		t.Errorf("compiled model: %q", m)
	}

	resp, err := p.Complete(context.Background(), payload)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if gotPath != "/v1/messages" || gotKey != "sk-test" || gotVersion != "2023-06-01" {
		t.Errorf("request: path %q key %q version %q", gotPath, gotKey, gotVersion)
	}
	if resp.Text != "The answer is " {
		t.Errorf("text: %q", resp.Text)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "toolu_1" || resp.ToolCalls[0].Name != "calc" {
		t.Errorf("tool calls: %+v", resp.ToolCalls)
	}
	if resp.StopReason != "tool_use" {
		t.Errorf("stop reason: %q", resp.StopReason)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 13 {
		t.Errorf("usage: %+v", resp.Usage)
	}
}

func TestAnthropicCompleteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	p, _ := NewAnthropic(config.Entry{Provider: config.ProviderAnthropic, APIKey: "k", BaseURL: srv.URL}, codec.NewRegistry())
	_, err := p.Complete(context.Background(), []byte(`{}`))
	pe, ok := err.(*ProviderError)
	if !ok {
		t.Fatalf("got %T want ProviderError", err)
	}
	if pe.Status != 429 || !pe.Retryable || pe.RetryAfter != 5*time.Second {
		t.Errorf("error: %+v", pe)
	}
}

func TestAnthropicStream(t *testing.T) {
	var gotStream bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		gotStream, _ = body["stream"].(bool)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(strings.Join([]string{
			`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`,
			``,
			`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"input_tokens":1,"output_tokens":1}}`,
			``,
			`data: [DONE]`,
			``,
		}, "\n")))
	}))
	defer srv.Close()

	p, _ := NewAnthropic(config.Entry{Provider: config.ProviderAnthropic, APIKey: "k", BaseURL: srv.URL}, codec.NewRegistry())
	s, err := p.Stream(context.Background(), []byte(`{"model":"claude-sonnet-4-5"}`))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	text, _, usage, err := s.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !gotStream {
		t.Error("stream flag not set on the wire")
	}
	if text != "hi" || usage == nil || usage.TotalTokens != 2 {
		t.Errorf("text %q usage %+v", text, usage)
	}
}

func TestAnthropicModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"claude-sonnet-4-5"},{"id":"claude-haiku-4-5"}]}`))
	}))
	defer srv.Close()

	p, _ := NewAnthropic(config.Entry{Provider: config.ProviderAnthropic, APIKey: "k", BaseURL: srv.URL}, codec.NewRegistry())
	names, err := p.Models(context.Background())
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if len(names) != 2 || names[0] != "claude-sonnet-4-5" {
		t.Errorf("names: %v", names)
	}
}

func TestApplyThinkingParams(t *testing.T) {
	tests := []struct {
		model string
		check func(t *testing.T, out []byte)
	}{
		{"glm-4.6", func(t *testing.T, out []byte) {
			if !gjson.GetBytes(out, "chat_template_kwargs.enable_thinking").Bool() {
				t.Error("enable_thinking not set")
			}
			if gjson.GetBytes(out, "chat_template_kwargs.clear_thinking").Bool() {
				t.Error("clear_thinking should be false")
			}
		}},
		{"qwen3-max-preview", func(t *testing.T, out []byte) {
			if !gjson.GetBytes(out, "chat_template_kwargs.enable_thinking").Bool() {
				t.Error("enable_thinking not set")
			}
		}},
		{"deepseek-r1", func(t *testing.T, out []byte) {
			if !gjson.GetBytes(out, "chat_template_kwargs.enable_thinking").Bool() {
				t.Error("enable_thinking not set")
			}
		}},
		{"minimax-m2", func(t *testing.T, out []byte) {
			if !gjson.GetBytes(out, "reasoning_split").Bool() {
				t.Error("reasoning_split not set")
			}
		}},
		{"qwen3-max", func(t *testing.T, out []byte) {
			if gjson.GetBytes(out, "chat_template_kwargs").Exists() {
				t.Error("stable qwen3-max must not get thinking params")
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			in, _ := json.Marshal(map[string]any{"model": tt.model, "messages": []any{}})
			out, err := ApplyThinkingParams(in)
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			tt.check(t, out)
		})
	}
}

func TestParseChatResponse(t *testing.T) {
	body := []byte(`{
		"choices": [{
			"message": {
				"role": "assistant",
				"content": "sure",
				"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "f", "arguments": "{}"}}]
			},
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 2, "completion_tokens": 3, "total_tokens": 5}
	}`)
	resp, err := parseChatResponse("iflow", body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Text != "sure" || resp.StopReason != "tool_calls" {
		t.Errorf("text %q stop %q", resp.Text, resp.StopReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "f" {
		t.Errorf("tool calls: %+v", resp.ToolCalls)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 5 {
		t.Errorf("usage: %+v", resp.Usage)
	}
}

func TestSplitModel(t *testing.T) {
	model, body, err := splitModel("googleai", []byte(`{"model":"gemini-2.5-pro","contents":[]}`))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if model != "gemini-2.5-pro" {
		t.Errorf("model: %q", model)
	}
	if gjson.GetBytes(body, "model").Exists() {
		t.Error("model left in body")
	}

	if _, _, err := splitModel("googleai", []byte(`{"contents":[]}`)); err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestGoogleAICompleteAddressesModelInURL(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "pong"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 1, "candidatesTokenCount": 1, "totalTokenCount": 2}
		}`))
	}))
	defer srv.Close()

	p, _ := NewGoogleAI(config.Entry{Provider: config.ProviderGoogleAI, APIKey: "g-key", BaseURL: srv.URL, Model: "gemini-2.5-flash"}, codec.NewRegistry())
	payload, err := p.Compile(canonicalReq("ping"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	resp, err := p.Complete(context.Background(), payload)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if gotPath != "/models/gemini-2.5-flash:generateContent" {
		t.Errorf("path: %q", gotPath)
	}
	if gotKey != "g-key" {
		t.Errorf("key: %q", gotKey)
	}
	if resp.Text != "pong" || resp.StopReason != "STOP" {
		t.Errorf("resp: %+v", resp)
	}
}

func TestVertexEndpointURL(t *testing.T) {
	tests := []struct {
		name     string
		location string
		baseURL  string
		want     string
	}{
		{
			"regional",
			"us-central1", "",
			"https://us-central1-aiplatform.googleapis.com/v1/projects/proj-1/locations/us-central1/publishers/google/models/gemini-2.5-pro:generateContent",
		},
		{
			"global",
			"global", "",
			"https://aiplatform.googleapis.com/v1/projects/proj-1/locations/global/publishers/google/models/gemini-2.5-pro:generateContent",
		},
		{
			"custom base",
			"europe-west4", "https://proxy.example.com",
			"https://proxy.example.com/v1/projects/proj-1/locations/europe-west4/publishers/google/models/gemini-2.5-pro:generateContent",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Vertex{project: "proj-1", location: tt.location, baseURL: tt.baseURL}
			if got := p.endpointURL("gemini-2.5-pro", "generateContent"); got != tt.want {
				t.Errorf("url:\n got %s\nwant %s", got, tt.want)
			}
		})
	}
}

func TestOllamaCompleteSendsNoCredential(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "local pong"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 2, "completion_tokens": 2, "total_tokens": 4}
		}`))
	}))
	defer srv.Close()

	p, err := NewOllama(config.Entry{Provider: config.ProviderOllama, BaseURL: srv.URL}, codec.NewRegistry())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	payload, err := p.Compile(canonicalReq("ping"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if m := gjson.GetBytes(payload, "model").String(); m != "llama3" {
		t.Errorf("default model: %q", m)
	}

	resp, err := p.Complete(context.Background(), payload)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("path: %q", gotPath)
	}
	if gotAuth != "" {
		t.Errorf("credential leaked to local daemon: %q", gotAuth)
	}
	if resp.Text != "local pong" || resp.StopReason != "stop" {
		t.Errorf("resp: %+v", resp)
	}
}

func TestOllamaModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path: %q", r.URL.Path)
		}
		w.Write([]byte(`{"data": [{"id": "llama3"}, {"id": "qwen2.5-coder"}]}`))
	}))
	defer srv.Close()

	p, _ := NewOllama(config.Entry{Provider: config.ProviderOllama, BaseURL: srv.URL}, codec.NewRegistry())
	names, err := p.Models(context.Background())
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if len(names) != 2 || names[0] != "llama3" || names[1] != "qwen2.5-coder" {
		t.Errorf("names: %v", names)
	}
}

func TestVertexCompatEndpointURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		want    string
	}{
		{
			"plain base",
			"https://zenmux.ai/api",
			"https://zenmux.ai/api/v1/publishers/google/models/gemini-2.5-pro:generateContent",
		},
		{
			"trailing slash",
			"https://zenmux.ai/api/",
			"https://zenmux.ai/api/v1/publishers/google/models/gemini-2.5-pro:generateContent",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &VertexCompat{baseURL: tt.baseURL}
			if got := p.endpointURL("gemini-2.5-pro", "generateContent"); got != tt.want {
				t.Errorf("url:\n got %s\nwant %s", got, tt.want)
			}
		})
	}
}

func TestVertexCompatRequiresBaseURL(t *testing.T) {
	_, err := NewVertexCompat(config.Entry{Provider: config.ProviderVertexCompat, APIKey: "k"}, codec.NewRegistry())
	if err == nil {
		t.Fatal("expected error without base_url")
	}
}

func TestVertexCompatComplete(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "relayed"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 3, "candidatesTokenCount": 1, "totalTokenCount": 4}
		}`))
	}))
	defer srv.Close()

	p, err := NewVertexCompat(config.Entry{Provider: config.ProviderVertexCompat, APIKey: "relay-key", BaseURL: srv.URL, Model: "gemini-2.5-pro"}, codec.NewRegistry())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	payload, err := p.Compile(canonicalReq("ping"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	resp, err := p.Complete(context.Background(), payload)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if gotPath != "/v1/publishers/google/models/gemini-2.5-pro:generateContent" {
		t.Errorf("path: %q", gotPath)
	}
	if gotKey != "relay-key" {
		t.Errorf("key: %q", gotKey)
	}
	if resp.Text != "relayed" {
		t.Errorf("resp: %+v", resp)
	}
}

func TestVertexCompatCountTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/publishers/google/models/gemini-2.5-pro:countTokens" {
			t.Errorf("path: %q", r.URL.Path)
		}
		w.Write([]byte(`{"totalTokens": 42}`))
	}))
	defer srv.Close()

	p, _ := NewVertexCompat(config.Entry{Provider: config.ProviderVertexCompat, APIKey: "k", BaseURL: srv.URL, Model: "gemini-2.5-pro"}, codec.NewRegistry())
	payload, err := p.Compile(canonicalReq("count me"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	n, err := p.CountTokens(context.Background(), payload)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 42 {
		t.Errorf("tokens: %d", n)
	}
}

func TestSessionID(t *testing.T) {
	a := SessionID(canonicalReq("hello"))
	b := SessionID(canonicalReq("hello"))
	c := SessionID(canonicalReq("goodbye"))
	if a == "" || a != b {
		t.Errorf("not deterministic: %q %q", a, b)
	}
	if a == c {
		t.Error("distinct conversations share a session")
	}
	if len(a) != 64 {
		t.Errorf("length: %d", len(a))
	}

	empty := &types.CanonicalRequest{Messages: []types.Message{
		{Role: types.RoleAssistant, Blocks: []types.ContentBlock{types.TextBlock("no user turn")}},
	}}
	if got := SessionID(empty); got != "" {
		t.Errorf("no user text: %q", got)
	}
}

func seedAntigravityToken(t *testing.T, projectID string) string {
	t.Helper()
	t.Setenv("ANTIGRAVITY_CLIENT_ID", "client-id")
	t.Setenv("ANTIGRAVITY_CLIENT_SECRET", "client-secret")

	path := filepath.Join(t.TempDir(), "antigravity.json")
	expiry := time.Now().Add(time.Hour)
	rec := &auth.TokenRecord{
		AccessToken:  "ya29.test",
		RefreshToken: "1//refresh",
		ExpiresAt:    &expiry,
		Upstream:     antigravity.Upstream,
	}
	if projectID != "" {
		b, _ := json.Marshal(projectID)
		rec.Extra = map[string]json.RawMessage{"project_id": b}
	}
	if err := auth.WriteTokenFile(path, rec); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return path
}

func newAntigravityForTest(t *testing.T, projectID string, baseURLs ...string) *Antigravity {
	t.Helper()
	oc, err := antigravity.NewClient(seedAntigravityToken(t, projectID))
	if err != nil {
		t.Fatalf("oauth client: %v", err)
	}
	return &Antigravity{
		name:     config.ProviderAntigravity,
		oauth:    oc,
		model:    "gemini-3-pro-preview",
		reg:      codec.NewRegistry(),
		http:     newHTTPClient(),
		baseURLs: baseURLs,
		sleep:    func(time.Duration) {},
	}
}

func TestAntigravityCompileEnvelope(t *testing.T) {
	p := newAntigravityForTest(t, "", "http://unused")
	payload, err := p.Compile(canonicalReq("hello world"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if m := gjson.GetBytes(payload, "model").String(); m != "gemini-3-pro-preview" {
		t.Errorf("envelope model: %q", m)
	}
	if gjson.GetBytes(payload, "request.model").Exists() {
		t.Error("model left inside the inner request")
	}
	if !gjson.GetBytes(payload, "request.contents").Exists() {
		t.Error("inner request missing contents")
	}
	sid := gjson.GetBytes(payload, "request.session_id").String()
	if sid != SessionID(canonicalReq("hello world")) {
		t.Errorf("session id: %q", sid)
	}
}

func TestAntigravityNoCapacityCyclesBases(t *testing.T) {
	var primaryHits, fallbackHits int
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryHits++
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"No capacity available for requested model"}}`))
	}))
	defer primary.Close()
	daily := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackHits++
		if got := r.Header.Get("Authorization"); got != "Bearer ya29.test" {
			t.Errorf("auth header: %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != "google-api-nodejs-client/9.15.1" {
			t.Errorf("user agent: %q", got)
		}
		w.Write([]byte(`{"response":{"candidates":[{"content":{"role":"model","parts":[{"text":"served"}]},"finishReason":"STOP"}]}}`))
	}))
	defer daily.Close()

	p := newAntigravityForTest(t, "proj-9", primary.URL, daily.URL)
	resp, err := p.Complete(context.Background(), []byte(`{"model":"gemini-3-pro-preview","request":{"contents":[]},"project":""}`))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != "served" {
		t.Errorf("text: %q", resp.Text)
	}
	if primaryHits != 1 || fallbackHits != 1 {
		t.Errorf("hits: primary %d fallback %d", primaryHits, fallbackHits)
	}
}

func TestAntigravityPlain503DoesNotCycle(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"backend overloaded"}}`))
	}))
	defer srv.Close()

	p := newAntigravityForTest(t, "proj-9", srv.URL)
	_, err := p.Complete(context.Background(), []byte(`{"model":"m","request":{"contents":[]}}`))
	pe, ok := err.(*ProviderError)
	if !ok || pe.Status != 503 {
		t.Fatalf("got %v want 503 ProviderError", err)
	}
	if hits != 1 {
		t.Errorf("hits: %d, a plain 503 must escalate to the gateway", hits)
	}
}

func TestAntigravityOnboarding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ":loadCodeAssist"):
			w.Write([]byte(`{"allowedTiers":[{"id":"legacy-tier"},{"id":"free-tier","isDefault":true}]}`))
		case strings.HasSuffix(r.URL.Path, ":onboardUser"):
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if body["tierId"] != "free-tier" {
				t.Errorf("tier: %v", body["tierId"])
			}
			w.Write([]byte(`{"response":{"cloudaicompanionProject":{"id":"onboarded-proj"}}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	p := newAntigravityForTest(t, "", srv.URL)
	id, err := p.ensureProject(context.Background())
	if err != nil {
		t.Fatalf("ensure project: %v", err)
	}
	if id != "onboarded-proj" {
		t.Errorf("project: %q", id)
	}
	if got := p.oauth.ProjectID(); got != "onboarded-proj" {
		t.Errorf("project not persisted: %q", got)
	}
}

func TestAntigravityOnboardingShortCircuit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("bootstrap called despite cached project")
	}))
	defer srv.Close()

	p := newAntigravityForTest(t, "cached-proj", srv.URL)
	id, err := p.ensureProject(context.Background())
	if err != nil || id != "cached-proj" {
		t.Fatalf("got %q %v", id, err)
	}
}

func TestNewDispatchesByProvider(t *testing.T) {
	reg := codec.NewRegistry()
	p, err := New(config.Entry{Provider: config.ProviderAnthropic, APIKey: "k"}, reg)
	if err != nil {
		t.Fatalf("new anthropic: %v", err)
	}
	if p.Name() != config.ProviderAnthropic || p.Dialect() != types.DialectClaude {
		t.Errorf("provider: %s %s", p.Name(), p.Dialect())
	}

	p, err = New(config.Entry{Provider: config.ProviderOllama}, reg)
	if err != nil {
		t.Fatalf("new ollama: %v", err)
	}
	if p.Name() != config.ProviderOllama || p.Dialect() != types.DialectOpenAI {
		t.Errorf("provider: %s %s", p.Name(), p.Dialect())
	}

	p, err = New(config.Entry{Provider: config.ProviderVertexCompat, APIKey: "k", BaseURL: "https://zenmux.ai/api"}, reg)
	if err != nil {
		t.Fatalf("new vertex-compat: %v", err)
	}
	if p.Name() != config.ProviderVertexCompat || p.Dialect() != types.DialectGemini {
		t.Errorf("provider: %s %s", p.Name(), p.Dialect())
	}

	if _, err := New(config.Entry{Provider: "nope"}, reg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
