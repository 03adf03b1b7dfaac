package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	b, err := NewTokenBucket(4, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	release, err := b.Acquire(context.Background(), 3)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, ok := b.TryAcquire(2); ok {
		t.Fatal("overcommitted capacity")
	}
	release()
	r2, ok := b.TryAcquire(2)
	if !ok {
		t.Fatal("capacity not returned after release")
	}
	r2()
}

func TestReleaseIdempotent(t *testing.T) {
	b, _ := NewTokenBucket(2, 0)
	release, err := b.Acquire(context.Background(), 2)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()
	release()
	release()
	// Double release must not inflate capacity past the ceiling.
	r1, ok := b.TryAcquire(2)
	if !ok {
		t.Fatal("capacity lost")
	}
	if _, ok := b.TryAcquire(1); ok {
		t.Fatal("double release inflated capacity")
	}
	r1()
}

func TestCostClamping(t *testing.T) {
	b, _ := NewTokenBucket(5, 0)

	// Oversized cost clamps to capacity instead of deadlocking.
	release, err := b.Acquire(context.Background(), 1000)
	if err != nil {
		t.Fatalf("acquire oversized: %v", err)
	}
	release()

	// Zero and negative clamp to 1.
	r1, err := b.Acquire(context.Background(), 0)
	if err != nil {
		t.Fatalf("acquire zero: %v", err)
	}
	r2, err := b.Acquire(context.Background(), -7)
	if err != nil {
		t.Fatalf("acquire negative: %v", err)
	}
	if _, ok := b.TryAcquire(4); ok {
		t.Fatal("expected 3 of 5 free")
	}
	r1()
	r2()
}

func TestMaxWaitExceeded(t *testing.T) {
	b, _ := NewTokenBucket(1, 20*time.Millisecond)
	release, err := b.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	start := time.Now()
	if _, err := b.Acquire(context.Background(), 1); err != ErrMaxWaitExceeded {
		t.Fatalf("got %v want ErrMaxWaitExceeded", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("returned too early: %v", elapsed)
	}
}

func TestAcquireObservesCancellation(t *testing.T) {
	b, _ := NewTokenBucket(1, 0)
	release, _ := b.Acquire(context.Background(), 1)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := b.Acquire(ctx, 1); err != context.Canceled {
		t.Fatalf("got %v want context.Canceled", err)
	}

	// Cancelled waiter must not have consumed capacity.
	release()
	r, ok := b.TryAcquire(1)
	if !ok {
		t.Fatal("capacity leaked by cancelled waiter")
	}
	r()
}

func TestWaitersAdmittedWhenCapacityFrees(t *testing.T) {
	b, _ := NewTokenBucket(1, 0)
	release, _ := b.Acquire(context.Background(), 1)

	done := make(chan error, 1)
	go func() {
		r, err := b.Acquire(context.Background(), 1)
		if err == nil {
			r()
		}
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	release()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("waiter: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never admitted")
	}
}

func TestConcurrentAcquiresHoldCapacityCeiling(t *testing.T) {
	const capacity = 5
	b, err := NewTokenBucket(capacity, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	var inFlight atomic.Int64
	var peak atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				cost := int64(1 + (g+i)%3)
				release, err := b.Acquire(context.Background(), cost)
				if err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				now := inFlight.Add(cost)
				for {
					p := peak.Load()
					if now <= p || peak.CompareAndSwap(p, now) {
						break
					}
				}
				inFlight.Add(-cost)
				release()
			}
		}(g)
	}
	wg.Wait()

	if p := peak.Load(); p > capacity {
		t.Errorf("in-flight cost peaked at %d, capacity %d", p, capacity)
	}
	// Every slot must be back after the storm.
	r, ok := b.TryAcquire(capacity)
	if !ok {
		t.Fatal("capacity leaked")
	}
	r()
}

func TestInvalidCapacity(t *testing.T) {
	if _, err := NewTokenBucket(0, 0); err == nil {
		t.Fatal("expected error for zero capacity")
	}
	if _, err := NewTokenBucket(-1, 0); err == nil {
		t.Fatal("expected error for negative capacity")
	}
}
