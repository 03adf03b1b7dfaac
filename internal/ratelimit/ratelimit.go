// Package ratelimit provides the process-wide admission limiter shared by
// all outbound calls.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrMaxWaitExceeded is returned when a caller waited the configured
// maximum without being admitted.
var ErrMaxWaitExceeded = errors.New("rate limit: max wait exceeded")

// TokenBucket admits up to Capacity weighted slots concurrently. Waiters
// suspend until capacity frees; there is no fairness guarantee beyond
// eventual admission, and cancellation during the wait never loses
// capacity.
type TokenBucket struct {
	sem      *semaphore.Weighted
	capacity int64
	maxWait  time.Duration
}

// NewTokenBucket builds a bucket with the given capacity. maxWait of zero
// means wait indefinitely (until ctx cancellation).
func NewTokenBucket(capacity int64, maxWait time.Duration) (*TokenBucket, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("rate limit: capacity must be positive, got %d", capacity)
	}
	return &TokenBucket{
		sem:      semaphore.NewWeighted(capacity),
		capacity: capacity,
		maxWait:  maxWait,
	}, nil
}

// Capacity returns the configured admission ceiling.
func (b *TokenBucket) Capacity() int64 { return b.capacity }

// Acquire admits a call of the given cost, suspending until capacity is
// available. Cost is clamped to [1, capacity]. The returned release func
// is idempotent; callers must invoke it when the call finishes, including
// on error and cancellation paths.
func (b *TokenBucket) Acquire(ctx context.Context, cost int64) (release func(), err error) {
	if cost < 1 {
		cost = 1
	}
	if cost > b.capacity {
		cost = b.capacity
	}

	acquireCtx := ctx
	if b.maxWait > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, b.maxWait)
		defer cancel()
	}

	if err := b.sem.Acquire(acquireCtx, cost); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrMaxWaitExceeded
	}

	var once sync.Once
	return func() {
		once.Do(func() { b.sem.Release(cost) })
	}, nil
}

// TryAcquire admits without waiting, reporting whether it succeeded.
func (b *TokenBucket) TryAcquire(cost int64) (release func(), ok bool) {
	if cost < 1 {
		cost = 1
	}
	if cost > b.capacity {
		cost = b.capacity
	}
	if !b.sem.TryAcquire(cost) {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { b.sem.Release(cost) })
	}, true
}
