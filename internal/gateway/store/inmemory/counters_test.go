package inmemory

import (
	"context"
	"sync"
	"testing"
	"time"
)

type stepClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

func TestCounters_ConsumeWithinWindow(t *testing.T) {
	t.Parallel()

	clock := &stepClock{at: time.Unix(1000, 0)}
	counters := NewCounters(clock.Now)
	ctx := context.Background()

	for i := int64(0); i < 3; i++ {
		decision, err := counters.Consume(ctx, "p1:/v1/search", 3, time.Minute, 1)
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if !decision.Allowed {
			t.Fatalf("consume %d should be allowed", i)
		}
		if decision.Remaining != 3-(i+1) {
			t.Fatalf("consume %d: remaining %d", i, decision.Remaining)
		}
	}

	decision, err := counters.Consume(ctx, "p1:/v1/search", 3, time.Minute, 1)
	if err != nil {
		t.Fatalf("consume over limit: %v", err)
	}
	if decision.Allowed || decision.Remaining != 0 {
		t.Fatalf("expected denial at limit, got %+v", decision)
	}
	if decision.RetryAfter <= 0 || decision.RetryAfter > time.Minute {
		t.Fatalf("expected retry hint within the window, got %v", decision.RetryAfter)
	}
}

func TestCounters_WindowRotationResetsUsage(t *testing.T) {
	t.Parallel()

	clock := &stepClock{at: time.Unix(0, 0)}
	counters := NewCounters(clock.Now)
	ctx := context.Background()

	if decision, _ := counters.Consume(ctx, "k", 1, time.Minute, 1); !decision.Allowed {
		t.Fatalf("first request should be allowed")
	}
	if decision, _ := counters.Consume(ctx, "k", 1, time.Minute, 1); decision.Allowed {
		t.Fatalf("second request in the same window should be denied")
	}

	clock.Advance(time.Minute)
	decision, err := counters.Consume(ctx, "k", 1, time.Minute, 1)
	if err != nil {
		t.Fatalf("consume after rotation: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected fresh window after rotation")
	}
}

func TestCounters_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	counters := NewCounters(nil)
	ctx := context.Background()

	if decision, _ := counters.Consume(ctx, "a", 1, time.Minute, 1); !decision.Allowed {
		t.Fatalf("key a should be allowed")
	}
	if decision, _ := counters.Consume(ctx, "b", 1, time.Minute, 1); !decision.Allowed {
		t.Fatalf("key b must not share key a's usage")
	}
}

func TestCounters_UnhealthyReturnsError(t *testing.T) {
	t.Parallel()

	counters := NewCounters(nil)
	counters.SetHealthy(false)
	if counters.Healthy(context.Background()) {
		t.Fatalf("expected unhealthy store")
	}
	if _, err := counters.Consume(context.Background(), "k", 1, time.Minute, 1); err == nil {
		t.Fatalf("expected error from unhealthy store")
	}
}

func TestCounters_RejectsInvalidArguments(t *testing.T) {
	t.Parallel()

	counters := NewCounters(nil)
	ctx := context.Background()
	if _, err := counters.Consume(ctx, "k", 0, time.Minute, 1); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	if _, err := counters.Consume(ctx, "k", 1, time.Minute, 0); err == nil {
		t.Fatalf("expected error for zero cost")
	}
}

func TestCounters_PruneDropsStaleWindows(t *testing.T) {
	t.Parallel()

	clock := &stepClock{at: time.Unix(0, 0)}
	counters := NewCounters(clock.Now)
	ctx := context.Background()

	if _, err := counters.Consume(ctx, "stale", 5, time.Minute, 1); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got := counters.Prune(); got != 0 {
		t.Fatalf("expected nothing pruned yet, got %d", got)
	}

	clock.Advance(25 * time.Hour)
	if got := counters.Prune(); got != 1 {
		t.Fatalf("expected one stale window pruned, got %d", got)
	}
}
