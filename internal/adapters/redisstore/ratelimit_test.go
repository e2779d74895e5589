package redisstore

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_RollingWindow(t *testing.T) {
	ctx := context.Background()
	_, rdb := newClient(t)
	now := time.UnixMilli(1_000_000)
	rl := NewRateLimiter(rdb, 3, 10*time.Second)
	rl.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if ok, err := rl.Allow(ctx, "alice"); !ok || err != nil {
			t.Fatalf("attempt %d: ok=%v err=%v", i+1, ok, err)
		}
	}
	if ok, _ := rl.Allow(ctx, "alice"); ok {
		t.Fatal("attempt 4 should be limited")
	}
	if ok, _ := rl.Allow(ctx, "bob"); !ok {
		t.Error("limits are per user")
	}

	now = now.Add(10 * time.Second)
	if ok, _ := rl.Allow(ctx, "alice"); !ok {
		t.Error("attempts older than the window should no longer count")
	}
}

func TestRateLimiter_NoBurstAcrossWindowBoundary(t *testing.T) {
	ctx := context.Background()
	_, rdb := newClient(t)
	start := time.UnixMilli(1_000_000)
	now := start
	rl := NewRateLimiter(rdb, 5, 10*time.Second)
	rl.SetClock(func() time.Time { return now })

	allowed := 0
	try := func(n int) {
		for i := 0; i < n; i++ {
			if ok, err := rl.Allow(ctx, "alice"); err != nil {
				t.Fatalf("Allow: %v", err)
			} else if ok {
				allowed++
			}
		}
	}
	try(1)
	now = start.Add(9900 * time.Millisecond)
	try(4)
	now = start.Add(10100 * time.Millisecond)
	allowed = 0
	try(5)
	// Only the attempt at start has aged out; four are still in the window.
	if allowed != 1 {
		t.Errorf("allowed %d of 5 just past the boundary, want 1", allowed)
	}

	now = start.Add(19900 * time.Millisecond)
	allowed = 0
	try(5)
	if allowed != 4 {
		t.Errorf("allowed %d of 5 after the burst aged out, want 4", allowed)
	}
}

func TestRateLimiter_SharedAcrossInstances(t *testing.T) {
	ctx := context.Background()
	_, rdb := newClient(t)
	a := NewRateLimiter(rdb, 2, time.Minute)
	b := NewRateLimiter(rdb, 2, time.Minute)

	_, _ = a.Allow(ctx, "alice")
	_, _ = b.Allow(ctx, "alice")
	if ok, _ := a.Allow(ctx, "alice"); ok {
		t.Error("instances should share one log")
	}
}
