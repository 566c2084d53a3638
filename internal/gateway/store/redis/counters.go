// Package redisstore provides Redis-backed store implementations.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"admissiongate/internal/gateway/core"
)

// consumeScript performs the check-and-increment atomically server-side, so
// concurrent gateway instances can never overrun the limit.
var consumeScript = redis.NewScript(`
local used = redis.call("INCRBY", KEYS[1], ARGV[1])
if used == tonumber(ARGV[1]) then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if used > tonumber(ARGV[3]) then
  redis.call("DECRBY", KEYS[1], ARGV[1])
  return {0, used - tonumber(ARGV[1])}
end
return {1, used}
`)

// Counters implements core.CounterStore on a Redis client.
type Counters struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// CountersOption configures the store.
type CountersOption func(*Counters)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) CountersOption {
	return func(c *Counters) { c.prefix = strings.Trim(prefix, ":") }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) CountersOption {
	return func(c *Counters) { c.now = now }
}

// NewCounters constructs a Redis counter store.
func NewCounters(rdb *redis.Client, opts ...CountersOption) *Counters {
	c := &Counters{rdb: rdb, prefix: "admission:quota", now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Healthy reports whether Redis answers a ping.
func (c *Counters) Healthy(ctx context.Context) bool {
	if c == nil || c.rdb == nil {
		return false
	}
	return c.rdb.Ping(ctx).Err() == nil
}

// Consume applies cost to the key's current window bucket. The bucket
// identifier is wall-clock time divided by the window length, so the key
// itself rotates at every window boundary.
func (c *Counters) Consume(ctx context.Context, key string, limit int64, window time.Duration, cost int64) (*core.QuotaDecision, error) {
	if c == nil || c.rdb == nil {
		return nil, errors.New("redis client is nil")
	}
	if cost <= 0 || limit <= 0 {
		return nil, errors.New("invalid cost or limit")
	}
	if window <= 0 {
		window = time.Second
	}
	now := c.now()
	bucket := now.UnixNano() / int64(window)
	bucketEnd := time.Unix(0, (bucket+1)*int64(window))
	redisKey := fmt.Sprintf("%s:%s:%d", c.prefix, key, bucket)
	ttlMillis := window.Milliseconds() * 2

	raw, err := consumeScript.Run(ctx, c.rdb, []string{redisKey},
		strconv.FormatInt(cost, 10),
		strconv.FormatInt(ttlMillis, 10),
		strconv.FormatInt(limit, 10),
	).Result()
	if err != nil {
		return nil, err
	}
	values, ok := raw.([]any)
	if !ok || len(values) != 2 {
		return nil, fmt.Errorf("unexpected script reply %T", raw)
	}
	allowed := toInt64(values[0]) == 1
	used := toInt64(values[1])

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	resetAfter := bucketEnd.Sub(now)
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

func toInt64(v any) int64 {
	switch value := v.(type) {
	case int64:
		return value
	case string:
		parsed, _ := strconv.ParseInt(value, 10, 64)
		return parsed
	default:
		return 0
	}
}
