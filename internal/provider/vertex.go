package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/codec"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/config"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/stream"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

const (
	vertexScope           = "https://www.googleapis.com/auth/cloud-platform"
	vertexDefaultLocation = "us-central1"
)

// Vertex calls the Vertex AI prediction API with a service-account JWT
// bearer.
type Vertex struct {
	name     string
	project  string
	location string
	baseURL  string
	model    string
	reg      *codec.Registry
	http     *http.Client

	mu     sync.Mutex
	source oauth2.TokenSource
	token  *oauth2.Token
}

// NewVertex builds the provider from its config entry. The service
// account file supplies both the signing key and the project ID.
func NewVertex(entry config.Entry, reg *codec.Registry) (*Vertex, error) {
	data, err := os.ReadFile(entry.ServiceAccount)
	if err != nil {
		return nil, fmt.Errorf("vertex: read service account: %w", err)
	}
	jwtCfg, err := google.JWTConfigFromJSON(data, vertexScope)
	if err != nil {
		return nil, fmt.Errorf("vertex: parse service account: %w", err)
	}
	var sa struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(data, &sa); err != nil || sa.ProjectID == "" {
		return nil, fmt.Errorf("vertex: service account has no project_id")
	}

	location := entry.Location
	if location == "" {
		location = vertexDefaultLocation
	}
	p := &Vertex{
		name:     config.ProviderVertex,
		project:  sa.ProjectID,
		location: location,
		baseURL:  entry.BaseURL,
		model:    entry.Model,
		reg:      reg,
		http:     newHTTPClient(),
	}
	p.source = jwtCfg.TokenSource(context.Background())
	return p, nil
}

func (p *Vertex) Name() string           { return p.name }
func (p *Vertex) Dialect() types.Dialect { return types.DialectGemini }

func (p *Vertex) NeedsRefresh() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token == nil || !p.token.Valid()
}

// RefreshAuth mints a fresh access token from the service-account JWT.
func (p *Vertex) RefreshAuth(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	tok, err := p.source.Token()
	if err != nil {
		return fmt.Errorf("vertex: token source: %w", err)
	}
	p.token = tok
	return nil
}

func (p *Vertex) accessToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == nil {
		return ""
	}
	return p.token.AccessToken
}

func (p *Vertex) Compile(req *types.CanonicalRequest) ([]byte, error) {
	return wrapCanonical(p.reg, types.DialectGemini, req, p.model)
}

// endpointURL builds the regional prediction URL. The "global" location
// uses the locationless host.
func (p *Vertex) endpointURL(model, verb string) string {
	base := p.baseURL
	if base == "" {
		if p.location == "global" {
			base = "https://aiplatform.googleapis.com"
		} else {
			base = fmt.Sprintf("https://%s-aiplatform.googleapis.com", p.location)
		}
	}
	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:%s",
		base, p.project, p.location, model, verb)
}

func (p *Vertex) headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+p.accessToken())
	return h
}

func (p *Vertex) ensureToken(ctx context.Context) error {
	if !p.NeedsRefresh() {
		return nil
	}
	refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return p.RefreshAuth(refreshCtx)
}

func (p *Vertex) Complete(ctx context.Context, payload []byte) (*Response, error) {
	if err := p.ensureToken(ctx); err != nil {
		return nil, NetworkError(p.name, err)
	}
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

func (p *Vertex) Stream(ctx context.Context, payload []byte) (*stream.Stream, error) {
	if err := p.ensureToken(ctx); err != nil {
		return nil, NetworkError(p.name, err)
	}
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
