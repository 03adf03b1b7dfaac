// Package provider abstracts the upstream model APIs behind one calling
// surface. Each provider compiles canonical requests into its own wire
// dialect, executes them, and reports failures through structured errors
// the gateway can act on without reading upstream text.
package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/codec"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/config"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/stream"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

// Response is a completed, non-streaming upstream answer in canonical
// shape.
type Response struct {
	Text       string
	ToolCalls  []types.ToolCallDelta
	StopReason string
	Usage      *types.Usage
	Raw        json.RawMessage
}

// Provider is one configured upstream.
type Provider interface {
	// Name returns the provider identifier used in config and logs.
	Name() string
	// Dialect returns the wire dialect Compile produces.
	Dialect() types.Dialect
	// Compile renders a canonical request as this provider's wire bytes,
	// applying the configured default model and provider-specific payload
	// mutations. Compile failures are fatal for this provider.
	Compile(req *types.CanonicalRequest) ([]byte, error)
	// Complete executes a compiled payload and collects the full answer.
	Complete(ctx context.Context, payload []byte) (*Response, error)
	// Stream executes a compiled payload and returns the live chunk
	// sequence. The caller owns the stream and must close it.
	Stream(ctx context.Context, payload []byte) (*stream.Stream, error)
	// NeedsRefresh reports whether the credential wants a refresh before
	// the next call.
	NeedsRefresh() bool
	// RefreshAuth refreshes the credential in place.
	RefreshAuth(ctx context.Context) error
}

// ModelLister is implemented by providers whose upstream has a model
// listing endpoint.
type ModelLister interface {
	Models(ctx context.Context) ([]string, error)
}

// New builds a provider from its config entry.
func New(entry config.Entry, reg *codec.Registry) (Provider, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	switch entry.Provider {
	case config.ProviderAnthropic:
		return NewAnthropic(entry, reg)
	case config.ProviderOpenAI:
		return NewOpenAI(entry, reg)
	case config.ProviderGoogleAI:
		return NewGoogleAI(entry, reg)
	case config.ProviderVertex:
		return NewVertex(entry, reg)
	case config.ProviderAntigravity:
		return NewAntigravity(entry, reg)
	case config.ProviderIFlow:
		return NewIFlow(entry, reg)
	case config.ProviderOllama:
		return NewOllama(entry, reg)
	case config.ProviderVertexCompat:
		return NewVertexCompat(entry, reg)
	}
	return nil, fmt.Errorf("provider: unknown provider %q", entry.Provider)
}

// wrapCanonical renders the request through the dialect codec. A
// configured model always wins: on failover every provider speaks its own
// model name, whatever the client asked for.
func wrapCanonical(reg *codec.Registry, d types.Dialect, req *types.CanonicalRequest, model string) ([]byte, error) {
	c, err := reg.Get(d)
	if err != nil {
		return nil, err
	}
	out := req
	if model != "" && req.Model != model {
		clone := *req
		clone.Model = model
		out = &clone
	}
	return c.Wrap(out)
}
