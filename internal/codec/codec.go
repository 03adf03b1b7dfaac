// Package codec converts between dialect wire formats and the canonical
// request model. One Unwrapper/Wrapper pair exists per dialect; every
// cross-dialect translation goes raw -> canonical -> raw, so adding a
// dialect costs two translators instead of N.
package codec

import (
	"fmt"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

// TranslateError reports a shape mismatch between a payload and its
// declared dialect. It is fatal for the call: the same bytes would fail
// the same way on retry.
type TranslateError struct {
	Dialect types.Dialect
	Reason  string
}

func (e *TranslateError) Error() string {
	return fmt.Sprintf("translate %s: %s", e.Dialect, e.Reason)
}

func translateErrorf(d types.Dialect, format string, args ...any) *TranslateError {
	return &TranslateError{Dialect: d, Reason: fmt.Sprintf(format, args...)}
}

// Unwrapper converts a raw dialect payload into the canonical form.
type Unwrapper interface {
	// Unwrap parses raw bytes, strips the dialect's identity preamble and
	// built-in tools, and returns a new CanonicalRequest.
	Unwrap(raw []byte) (*types.CanonicalRequest, error)
	// FilterBuiltinTools removes the dialect's built-in tools. Idempotent.
	FilterBuiltinTools(tools []types.Tool) []types.Tool
	// ExtractUserSystem strips the dialect's identity preamble from a
	// system prompt, returning only user-authored content.
	ExtractUserSystem(system string) string
}

// Wrapper converts a canonical request into a raw dialect payload.
type Wrapper interface {
	// Wrap renders the canonical request as dialect bytes, injecting the
	// dialect's identity framing and built-in tool definitions.
	Wrap(req *types.CanonicalRequest) ([]byte, error)
	// InjectIdentity prepends the dialect's identity preamble when the
	// dialect expects one.
	InjectIdentity(system string) string
	// AddBuiltinTools reintroduces the dialect's built-in tool
	// definitions so the payload matches what a native client sends.
	AddBuiltinTools(tools []types.Tool) []types.Tool
}

// Codec is the Unwrapper/Wrapper pair for one dialect.
type Codec interface {
	Unwrapper
	Wrapper
	Dialect() types.Dialect
}

// Registry holds one codec per dialect.
type Registry struct {
	codecs map[types.Dialect]Codec
}

// NewRegistry returns a registry with all supported dialect codecs.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[types.Dialect]Codec)}
	for _, c := range []Codec{
		&ClaudeCodec{},
		&OpenAICodec{},
		&ResponsesCodec{},
		&GeminiCodec{},
	} {
		r.codecs[c.Dialect()] = c
	}
	return r
}

// Get returns the codec for a dialect.
func (r *Registry) Get(d types.Dialect) (Codec, error) {
	c, ok := r.codecs[d]
	if !ok {
		return nil, &TranslateError{Dialect: d, Reason: "unsupported dialect"}
	}
	return c, nil
}
