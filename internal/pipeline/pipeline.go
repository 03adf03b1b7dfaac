// Package pipeline composes the wrapper detector with the dialect codecs.
// Same-dialect requests take a byte-identical passthrough fast path; every
// cross-dialect pair routes through the canonical form.
package pipeline

import (
	"log/slog"

	"github.com/tidwall/sjson"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/codec"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/detect"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

// Options tunes a single translation.
type Options struct {
	// DisablePassthrough forces the canonical round trip even for
	// same-dialect pairs.
	DisablePassthrough bool
	// TargetModel overrides the model identifier in the output payload.
	TargetModel string
}

// Translator runs detect -> unwrap -> wrap.
type Translator struct {
	registry *codec.Registry
}

// New returns a Translator over all supported dialects.
func New() *Translator {
	return &Translator{registry: codec.NewRegistry()}
}

// Translate converts raw bytes from the source dialect to the target
// dialect. Same-dialect translations return the input unchanged when the
// detected wrapper is absent or canonical for that dialect; everything
// else goes through the canonical form.
func (t *Translator) Translate(raw []byte, src, dst types.Dialect, opts Options) ([]byte, error) {
	srcCodec, err := t.registry.Get(src)
	if err != nil {
		return nil, err
	}
	dstCodec, err := t.registry.Get(dst)
	if err != nil {
		return nil, err
	}

	wrapper := detect.DetectWrapper(raw)

	if src == dst && !opts.DisablePassthrough && passthroughEligible(src, wrapper) {
		slog.Debug("translate.passthrough",
			"dialect", src,
			"wrapper", wrapper,
			"model_override", opts.TargetModel != "",
		)
		if opts.TargetModel == "" {
			return raw, nil
		}
		patched, err := sjson.SetBytes(raw, "model", opts.TargetModel)
		if err != nil {
			return nil, &codec.TranslateError{Dialect: src, Reason: "model override failed: " + err.Error()}
		}
		return patched, nil
	}

	req, err := t.unwrapDetected(srcCodec, raw, wrapper)
	if err != nil {
		return nil, err
	}
	if opts.TargetModel != "" {
		patched := *req
		patched.Model = opts.TargetModel
		req = &patched
	}

	out, err := dstCodec.Wrap(req)
	if err != nil {
		return nil, err
	}
	slog.Info("translate",
		"source", src,
		"target", dst,
		"wrapper", wrapper,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
		"stream", req.Stream,
	)
	return out, nil
}

// Unwrap detects the wrapper and converts raw bytes to the canonical form.
func (t *Translator) Unwrap(raw []byte, src types.Dialect) (*types.CanonicalRequest, error) {
	srcCodec, err := t.registry.Get(src)
	if err != nil {
		return nil, err
	}
	return t.unwrapDetected(srcCodec, raw, detect.DetectWrapper(raw))
}

// Wrap renders a canonical request into the target dialect.
func (t *Translator) Wrap(req *types.CanonicalRequest, dst types.Dialect) ([]byte, error) {
	dstCodec, err := t.registry.Get(dst)
	if err != nil {
		return nil, err
	}
	return dstCodec.Wrap(req)
}

func (t *Translator) unwrapDetected(c codec.Codec, raw []byte, wrapper types.WrapperKind) (*types.CanonicalRequest, error) {
	req, err := c.Unwrap(raw)
	if err != nil {
		return nil, err
	}
	req.Meta.Wrapper = wrapper
	req.Meta.Unwrapped = wrapper != types.WrapperNone
	return req, nil
}

// passthroughEligible holds when the wrapper is absent or is the canonical
// wrapper for exactly this dialect. A foreign wrapper must be rebuilt even
// for a same-dialect pair.
func passthroughEligible(d types.Dialect, wrapper types.WrapperKind) bool {
	return wrapper == types.WrapperNone || wrapper == codec.CanonicalWrapper(d)
}
