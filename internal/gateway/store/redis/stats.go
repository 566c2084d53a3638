// Package redisstore provides Redis-backed store implementations.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DecisionStats records aggregate admission outcomes in Redis. Totals are
// cumulative; per-minute buckets expire after the TTL.
type DecisionStats struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewDecisionStats constructs a stats recorder.
func NewDecisionStats(rdb *redis.Client, prefix string, ttl time.Duration) *DecisionStats {
	if prefix == "" {
		prefix = "admission:stats"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DecisionStats{rdb: rdb, prefix: prefix, ttl: ttl, now: time.Now}
}

// Record counts one decision outcome.
func (s *DecisionStats) Record(ctx context.Context, allowed bool, class string) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	field := "denied"
	if allowed {
		field = "allowed"
	}
	minute := s.now().UTC().Format("200601021504")
	bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, minute)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)
	pipe.HIncrBy(ctx, bucketKey, field+":"+class, 1)
	pipe.Expire(ctx, bucketKey, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}
