// Package inmemory provides in-process store implementations.
package inmemory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"admissiongate/internal/gateway/core"
)

// Counters implements core.CounterStore with process-local fixed windows.
// Suitable for tests, single-instance deployments, and as the ledger's
// emergency fail-open store.
type Counters struct {
	mu      sync.Mutex
	windows map[string]*windowCounter
	healthy atomic.Bool
	now     func() time.Time
}

type windowCounter struct {
	windowStart time.Time
	used        int64
}

// NewCounters constructs an in-memory counter store.
func NewCounters(now func() time.Time) *Counters {
	if now == nil {
		now = time.Now
	}
	c := &Counters{windows: make(map[string]*windowCounter), now: now}
	c.healthy.Store(true)
	return c
}

// SetHealthy flips the simulated store health.
func (c *Counters) SetHealthy(v bool) {
	if c == nil {
		return
	}
	c.healthy.Store(v)
}

// Healthy reports store health.
func (c *Counters) Healthy(ctx context.Context) bool {
	if c == nil {
		return false
	}
	return c.healthy.Load()
}

// Consume atomically applies cost to the key's current window bucket. The
// bucket is derived from wall-clock time truncated to the window length, so
// a request is attributed to exactly one bucket.
func (c *Counters) Consume(ctx context.Context, key string, limit int64, window time.Duration, cost int64) (*core.QuotaDecision, error) {
	if c == nil {
		return nil, errors.New("counter store is nil")
	}
	if !c.healthy.Load() {
		return nil, errors.New("counter store unhealthy")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cost <= 0 || limit <= 0 {
		return nil, errors.New("invalid cost or limit")
	}
	if window <= 0 {
		window = time.Second
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	windowStart := now.Truncate(window)
	counter := c.windows[key]
	if counter == nil {
		counter = &windowCounter{windowStart: windowStart}
		c.windows[key] = counter
	}
	if !counter.windowStart.Equal(windowStart) {
		counter.windowStart = windowStart
		counter.used = 0
	}
	allowed := counter.used+cost <= limit
	if allowed {
		counter.used += cost
	}
	remaining := limit - counter.used
	if remaining < 0 {
		remaining = 0
	}
	resetAfter := windowStart.Add(window).Sub(now)
	if resetAfter < 0 {
		resetAfter = 0
	}
	retryAfter := time.Duration(0)
	if !allowed {
		retryAfter = resetAfter
	}
	return &core.QuotaDecision{
		Allowed:    allowed,
		Remaining:  remaining,
		Limit:      limit,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}, nil
}

// Prune drops windows that closed before the current bucket.
func (c *Counters) Prune() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, counter := range c.windows {
		// Window length is not stored per key; a day-old bucket start is
		// stale for any supported window.
		if now.Sub(counter.windowStart) > 24*time.Hour {
			delete(c.windows, key)
			removed++
		}
	}
	return removed
}
