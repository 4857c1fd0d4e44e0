package handler

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_sweepDropsIdleClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(ctx, 10, 10)
	rl.now = func() time.Time { return now }

	rl.allow("ip:10.0.0.1")
	now = now.Add(limiterIdleTTL / 2)
	rl.allow("sub:alice")

	now = now.Add(limiterIdleTTL/2 + time.Second)
	rl.sweep()

	if rl.Len() != 1 {
		t.Fatalf("tracked clients: got %d, want 1", rl.Len())
	}
	if _, ok := rl.limiters["sub:alice"]; !ok {
		t.Error("recently seen client was swept")
	}
}

func TestRateLimiter_sweepLoopStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rl := &RateLimiter{now: time.Now, limiters: map[string]*clientLimiter{}}

	done := make(chan struct{})
	go func() {
		rl.sweepLoop(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep loop did not exit after cancel")
	}
}
