package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/auth/antigravity"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/codec"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/config"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/stream"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

// The Cloud Code endpoint chain, tried in order when one reports no
// capacity.
var antigravityBaseURLs = []string{
	"https://cloudcode-pa.googleapis.com",
	"https://daily-cloudcode-pa.googleapis.com",
	"https://daily-cloudcode-pa.sandbox.googleapis.com",
}

const (
	antigravityAPIVersion = "v1internal"
	antigravityUserAgent  = "google-api-nodejs-client/9.15.1"
	antigravityAPIClient  = "google-cloud-sdk vscode_cloudshelleditor/0.1"

	// No-capacity responses are retried in place before the error
	// escalates to the gateway.
	noCapacityMaxRetries = 3
)

// Antigravity calls the Cloud Code private API with a Google OAuth
// identity. Requests ride in a {model, project, request} envelope and the
// account must be onboarded to a cloud project before the first call.
type Antigravity struct {
	name    string
	oauth   *antigravity.Client
	model   string
	reg     *codec.Registry
	http    *http.Client
	baseIdx int
	mu      sync.Mutex

	baseURLs []string
	sleep    func(time.Duration)
}

// NewAntigravity builds the provider from its config entry.
func NewAntigravity(entry config.Entry, reg *codec.Registry) (*Antigravity, error) {
	oc, err := antigravity.NewClient(entry.OAuthToken)
	if err != nil {
		return nil, err
	}
	urls := antigravityBaseURLs
	if entry.BaseURL != "" {
		urls = []string{entry.BaseURL}
	}
	return &Antigravity{
		name:     config.ProviderAntigravity,
		oauth:    oc,
		model:    entry.Model,
		reg:      reg,
		http:     newHTTPClient(),
		baseURLs: urls,
		sleep:    time.Sleep,
	}, nil
}

func (p *Antigravity) Name() string           { return p.name }
func (p *Antigravity) Dialect() types.Dialect { return types.DialectGemini }

func (p *Antigravity) NeedsRefresh() bool { return p.oauth.NeedsRefresh() }

func (p *Antigravity) RefreshAuth(ctx context.Context) error {
	return p.oauth.Refresh(ctx)
}

// Compile wraps the gemini payload in the Cloud Code envelope. The
// project field is filled at call time once onboarding has resolved it.
func (p *Antigravity) Compile(req *types.CanonicalRequest) ([]byte, error) {
	inner, err := wrapCanonical(p.reg, types.DialectGemini, req, p.model)
	if err != nil {
		return nil, err
	}
	model := gjson.GetBytes(inner, "model").String()
	inner, err = sjson.DeleteBytes(inner, "model")
	if err != nil {
		return nil, err
	}

	envelope := []byte(`{}`)
	envelope, _ = sjson.SetBytes(envelope, "model", model)
	envelope, _ = sjson.SetRawBytes(envelope, "request", inner)
	if sid := SessionID(req); sid != "" {
		envelope, _ = sjson.SetBytes(envelope, "request.session_id", sid)
	}
	return envelope, nil
}

// SessionID derives a stable session identifier from the conversation's
// first user message, so retries and continuations land on the same
// upstream session.
func SessionID(req *types.CanonicalRequest) string {
	text := req.FirstUserText()
	if text == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (p *Antigravity) headers() (http.Header, error) {
	tok, ok := p.oauth.AccessToken()
	if !ok {
		return nil, &ProviderError{Provider: p.name, Message: "no access token, login required", ShouldFallback: true}
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok)
	h.Set("User-Agent", antigravityUserAgent)
	h.Set("X-Goog-Api-Client", antigravityAPIClient)
	return h, nil
}

func (p *Antigravity) currentBase() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baseURLs[p.baseIdx%len(p.baseURLs)]
}

func (p *Antigravity) advanceBase() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseIdx = (p.baseIdx + 1) % len(p.baseURLs)
}

func (p *Antigravity) endpoint(base, method string) string {
	return fmt.Sprintf("%s/%s:%s", base, antigravityAPIVersion, method)
}

// isNoCapacity matches the capacity-exhausted fingerprint: a 503 whose
// body mentions the condition by name.
func isNoCapacity(status int, body []byte) bool {
	return status == http.StatusServiceUnavailable &&
		strings.Contains(strings.ToLower(string(body)), "no capacity available")
}

func noCapacityDelay(attempt int) time.Duration {
	d := time.Duration(attempt+1) * 250 * time.Millisecond
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

// call posts to method, cycling through base URLs while the upstream
// reports no capacity.
func (p *Antigravity) call(ctx context.Context, method string, payload []byte, streaming bool) (io.ReadCloser, error) {
	header, err := p.headers()
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= noCapacityMaxRetries; attempt++ {
		base := p.currentBase()
		url := p.endpoint(base, method)
		if streaming {
			url += "?alt=sse"
		}

		body, err := postStream(ctx, p.http, p.name, url, payload, header)
		if err == nil {
			return body, nil
		}
		pe, ok := err.(*ProviderError)
		if !ok || !isNoCapacity(pe.Status, []byte(pe.Message)) {
			return nil, err
		}

		lastErr = err
		p.advanceBase()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.sleep(noCapacityDelay(attempt))
	}
	return nil, lastErr
}

// ensureProject runs the onboarding bootstrap once and caches the project
// in the token record.
func (p *Antigravity) ensureProject(ctx context.Context) (string, error) {
	if id := p.oauth.ProjectID(); id != "" {
		return id, nil
	}

	header, err := p.headers()
	if err != nil {
		return "", err
	}
	loadBody, err := json.Marshal(map[string]any{
		"metadata": map[string]string{"pluginType": "GEMINI"},
	})
	if err != nil {
		return "", err
	}
	raw, err := p.postOnce(ctx, "loadCodeAssist", loadBody, header)
	if err != nil {
		return "", err
	}
	projectID := gjson.GetBytes(raw, "cloudaicompanionProject").String()

	if projectID == "" {
		tier := gjson.GetBytes(raw, `allowedTiers.#(isDefault==true).id`).String()
		if tier == "" {
			tier = "free-tier"
		}
		onboardBody, err := json.Marshal(map[string]any{
			"tierId":   tier,
			"metadata": map[string]string{"pluginType": "GEMINI"},
		})
		if err != nil {
			return "", err
		}
		raw, err = p.postOnce(ctx, "onboardUser", onboardBody, header)
		if err != nil {
			return "", err
		}
		projectID = gjson.GetBytes(raw, "response.cloudaicompanionProject.id").String()
	}
	if projectID == "" {
		return "", &ProviderError{Provider: p.name, Message: "onboarding returned no project", ShouldFallback: true}
	}
	if err := p.oauth.SetProjectID(projectID); err != nil {
		return "", err
	}
	return projectID, nil
}

func (p *Antigravity) postOnce(ctx context.Context, method string, payload []byte, header http.Header) ([]byte, error) {
	return postJSON(ctx, p.http, p.name, p.endpoint(p.currentBase(), method), payload, header)
}

func (p *Antigravity) withProject(ctx context.Context, payload []byte) ([]byte, error) {
	projectID, err := p.ensureProject(ctx)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(payload, "project", projectID)
}

func (p *Antigravity) Complete(ctx context.Context, payload []byte) (*Response, error) {
	payload, err := p.withProject(ctx, payload)
	if err != nil {
		return nil, err
	}
	body, err := p.call(ctx, "generateContent", payload, false)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, NetworkError(p.name, err)
	}
	// The envelope response nests the gemini body under "response".
	if inner := gjson.GetBytes(raw, "response"); inner.Exists() {
		raw = []byte(inner.Raw)
	}
	return parseGeminiResponse(p.name, raw)
}

func (p *Antigravity) Stream(ctx context.Context, payload []byte) (*stream.Stream, error) {
	payload, err := p.withProject(ctx, payload)
	if err != nil {
		return nil, err
	}
	body, err := p.call(ctx, "streamGenerateContent", payload, true)
	if err != nil {
		return nil, err
	}
	return stream.New(body, decodeAntigravity), nil
}

// decodeAntigravity unwraps the envelope before the plain gemini decode.
func decodeAntigravity(evt *stream.Event) ([]types.Chunk, error) {
	if inner := gjson.GetBytes(evt.Raw, "response"); inner.Exists() {
		unwrapped := &stream.Event{Type: evt.Type, Raw: json.RawMessage(inner.Raw)}
		return stream.DecodeGemini(unwrapped)
	}
	return stream.DecodeGemini(evt)
}
