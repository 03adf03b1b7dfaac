// Package fallback orders candidate upstreams and tracks which one the
// gateway is currently pinned to. The router never wraps around; once the
// last candidate is exhausted the request chain is terminal.
package fallback

import (
	"errors"
	"sort"
	"sync"
)

// ErrExhausted is returned when no candidates remain.
var ErrExhausted = errors.New("fallback: all candidates exhausted")

// Candidate is one routable upstream with its configured priority. Lower
// priority values are tried first; ties keep configuration order.
type Candidate struct {
	Name     string
	Priority int
}

// Router walks a fixed candidate chain front to back.
type Router struct {
	mu         sync.Mutex
	candidates []Candidate
	pos        int
}

// NewRouter builds a router over the given candidates, stably sorted by
// priority.
func NewRouter(candidates []Candidate) (*Router, error) {
	if len(candidates) == 0 {
		return nil, errors.New("fallback: no candidates configured")
	}
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return &Router{candidates: sorted}, nil
}

// Current returns the candidate the router is pinned to.
func (r *Router) Current() (Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pos >= len(r.candidates) {
		return Candidate{}, ErrExhausted
	}
	return r.candidates[r.pos], nil
}

// Advance moves past the current candidate and returns the next one.
func (r *Router) Advance() (Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pos < len(r.candidates) {
		r.pos++
	}
	if r.pos >= len(r.candidates) {
		return Candidate{}, ErrExhausted
	}
	return r.candidates[r.pos], nil
}

// Reset pins the router back to the highest-priority candidate. This is
// an operator action (a degraded upstream came back); requests never
// reset the chain themselves.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos = 0
}

// Exhausted reports whether every candidate has been tried.
func (r *Router) Exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos >= len(r.candidates)
}

// Names returns the candidate names in routing order.
func (r *Router) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.candidates))
	for i, c := range r.candidates {
		names[i] = c.Name
	}
	return names
}

// Len returns the number of candidates in the chain.
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.candidates)
}
