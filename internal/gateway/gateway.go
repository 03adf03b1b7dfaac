// Package gateway runs the request lifecycle: admission, compilation,
// execution with same-provider retries, and failover down the candidate
// chain.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/codec"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/config"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/fallback"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/pipeline"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/provider"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/ratelimit"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/stream"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/tokencount"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

// ExhaustedError is the terminal failure after every candidate has been
// tried. It names the last provider and carries its final error.
type ExhaustedError struct {
	Tried        []string
	LastProvider string
	Err          error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gateway: all providers exhausted (tried %s), last %s: %v",
		strings.Join(e.Tried, ", "), e.LastProvider, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Gateway owns the provider set, the fallback chain, and the admission
// bucket.
type Gateway struct {
	translator *pipeline.Translator
	providers  map[string]provider.Provider
	entries    map[string]config.Entry
	router     *fallback.Router
	bucket     *ratelimit.TokenBucket
	log        *slog.Logger
	sleep      func(time.Duration)
}

// New wires a gateway from config. Disabled entries are skipped.
func New(cfg *config.Config, log *slog.Logger) (*Gateway, error) {
	if log == nil {
		log = slog.Default()
	}
	reg := codec.NewRegistry()

	providers := map[string]provider.Provider{}
	entries := map[string]config.Entry{}
	var candidates []fallback.Candidate
	for _, entry := range cfg.EnabledProviders() {
		p, err := provider.New(entry, reg)
		if err != nil {
			return nil, err
		}
		providers[entry.Provider] = p
		entries[entry.Provider] = entry
		candidates = append(candidates, fallback.Candidate{Name: entry.Provider, Priority: entry.Priority})
	}
	router, err := fallback.NewRouter(candidates)
	if err != nil {
		return nil, err
	}
	bucket, err := ratelimit.NewTokenBucket(cfg.BucketCapacity, cfg.BucketMaxWait)
	if err != nil {
		return nil, err
	}
	return &Gateway{
		translator: pipeline.New(),
		providers:  providers,
		entries:    entries,
		router:     router,
		bucket:     bucket,
		log:        log,
		sleep:      time.Sleep,
	}, nil
}

// PreparedRequest is an admitted request holding its bucket slot until
// Release. ID correlates every log line the request produces.
type PreparedRequest struct {
	ID        string
	Canonical *types.CanonicalRequest
	Cost      int64
	release   func()
}

// Release returns the admission slot. Idempotent.
func (p *PreparedRequest) Release() {
	if p.release != nil {
		p.release()
	}
}

// PrepareRequest unwraps the inbound payload and admits it through the
// bucket. The caller must Release the result.
func (g *Gateway) PrepareRequest(ctx context.Context, raw []byte, src types.Dialect) (*PreparedRequest, error) {
	canonical, err := g.translator.Unwrap(raw, src)
	if err != nil {
		return nil, err
	}
	cost := int64(tokencount.CountRequest(canonical))
	release, err := g.bucket.Acquire(ctx, cost)
	if err != nil {
		return nil, err
	}
	return &PreparedRequest{ID: uuid.NewString(), Canonical: canonical, Cost: cost, release: release}, nil
}

// Execute runs the request to completion, retrying and failing over per
// each provider's error signals.
func (g *Gateway) Execute(ctx context.Context, prep *PreparedRequest) (*provider.Response, error) {
	var resp *provider.Response
	err := g.run(ctx, prep, func(attemptCtx context.Context, p provider.Provider, payload []byte) error {
		r, err := p.Complete(attemptCtx, payload)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ExecuteStream opens a live stream from the first provider that accepts
// the request. Attempt timeouts cover connection establishment only; once
// open, the stream runs on the caller's context.
func (g *Gateway) ExecuteStream(ctx context.Context, prep *PreparedRequest) (*stream.Stream, error) {
	var s *stream.Stream
	err := g.run(ctx, prep, func(attemptCtx context.Context, p provider.Provider, payload []byte) error {
		opened, err := p.Stream(attemptCtx, payload)
		if err != nil {
			return err
		}
		s = opened
		return nil
	}, true)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// run walks the candidate chain from wherever the router is pinned.
// Degradation is sticky: a failed-over provider stays skipped for later
// calls until an operator resets the chain. For each provider: compile
// once, then attempt with same-provider retries until the retry ceiling,
// a non-retryable error, or success. Compile failures skip straight to
// the next candidate.
func (g *Gateway) run(ctx context.Context, prep *PreparedRequest, attempt attemptFunc, streaming bool) error {
	var tried []string
	var lastName string
	var lastErr error
	for {
		cand, err := g.router.Current()
		if err != nil {
			break
		}
		tried = append(tried, cand.Name)
		lastName = cand.Name
		prov := g.providers[cand.Name]
		entry := g.entries[cand.Name]

		payload, err := prov.Compile(prep.Canonical)
		if err != nil {
			g.log.Warn("compile failed, failing over",
				"request", prep.ID, "provider", cand.Name, "error", err)
			lastErr = err
			if _, aerr := g.router.Advance(); aerr != nil {
				break
			}
			continue
		}

		lastErr = g.tryProvider(ctx, prov, entry, payload, attempt, streaming)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !shouldFallback(lastErr) {
			g.log.Error("terminal provider error",
				"request", prep.ID, "provider", cand.Name, "error", lastErr)
			break
		}
		g.log.Warn("failing over", "request", prep.ID, "provider", cand.Name, "error", lastErr)
		if _, aerr := g.router.Advance(); aerr != nil {
			break
		}
	}

	if lastErr == nil {
		// The chain was already exhausted before this call started.
		lastErr = fallback.ErrExhausted
	}
	return &ExhaustedError{Tried: tried, LastProvider: lastName, Err: lastErr}
}

// attemptFunc runs one provider attempt against a compiled payload.
type attemptFunc func(ctx context.Context, p provider.Provider, payload []byte) error

// tryProvider exhausts same-provider retries before reporting back.
func (g *Gateway) tryProvider(ctx context.Context, prov provider.Provider, entry config.Entry, payload []byte, attempt attemptFunc, streaming bool) error {
	if prov.NeedsRefresh() {
		if err := prov.RefreshAuth(ctx); err != nil {
			return err
		}
	}

	bo := backoff.NewExponentialBackOff()
	var lastErr error
	for try := 0; try <= entry.RetryLimit(); try++ {
		if try > 0 {
			delay := bo.NextBackOff()
			if ra := retryAfter(lastErr); ra > 0 {
				delay = ra
			}
			g.log.Debug("retrying provider", "provider", prov.Name(), "try", try, "delay", delay)
			g.sleep(delay)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		var err error
		if streaming {
			err = g.openStream(ctx, entry.Timeout(), prov, payload, attempt)
		} else {
			attemptCtx, cancel := context.WithTimeout(ctx, entry.Timeout())
			err = attempt(attemptCtx, prov, payload)
			cancel()
		}
		if err == nil {
			return nil
		}
		// An attempt deadline is a retryable, fallback-eligible failure;
		// the caller's own cancellation is not.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = provider.NetworkError(prov.Name(), err)
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
	}
	return lastErr
}

// openStream bounds stream establishment with the per-attempt timeout
// without putting a deadline on the open stream itself. The child context
// is cancelled only when the timeout fires before the provider answers;
// a successfully opened stream keeps running until the caller's context
// ends.
func (g *Gateway) openStream(ctx context.Context, timeout time.Duration, prov provider.Provider, payload []byte, attempt attemptFunc) error {
	openCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- attempt(openCtx, prov, payload) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		cancel()
		<-done
		return provider.NetworkError(prov.Name(), fmt.Errorf("stream open timed out after %s", timeout))
	}
}

func retryable(err error) bool {
	var pe *provider.ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

func shouldFallback(err error) bool {
	var te *codec.TranslateError
	if errors.As(err, &te) {
		return true
	}
	var pe *provider.ProviderError
	if errors.As(err, &pe) {
		return pe.ShouldFallback
	}
	// Auth and other unclassified errors: the next candidate may still
	// serve the request.
	return true
}

func retryAfter(err error) time.Duration {
	var pe *provider.ProviderError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// Router exposes the fallback chain for status surfaces and for the
// operator-facing reset.
func (g *Gateway) Router() *fallback.Router { return g.router }

// Provider returns a configured provider by name.
func (g *Gateway) Provider(name string) (provider.Provider, bool) {
	p, ok := g.providers[name]
	return p, ok
}

// Translator exposes the translation pipeline.
func (g *Gateway) Translator() *pipeline.Translator { return g.translator }
