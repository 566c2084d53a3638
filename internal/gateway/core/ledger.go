// Package core provides the quota ledger.
package core

import (
	"context"
	"math"
	"time"

	"admissiongate/internal/gateway/observability"
)

// CounterStore is the atomic window counter abstraction the ledger runs on.
// Consume must be a single atomic check-and-increment for the key's current
// bucket: under concurrent calls the total consumed never exceeds limit.
type CounterStore interface {
	Consume(ctx context.Context, key string, limit int64, window time.Duration, cost int64) (*QuotaDecision, error)
	Healthy(ctx context.Context) bool
}

// LedgerOptions configures ledger behavior.
type LedgerOptions struct {
	StoreTimeout time.Duration
	RetryBackoff time.Duration
	EmergencyCap int64
	Region       string
}

// QuotaLedger tracks consumption of each principal against its rules. On a
// store outage it fails closed, except for critical-path event-bound traffic
// which fails open against a small local emergency cap.
type QuotaLedger struct {
	store     CounterStore
	emergency CounterStore
	opts      LedgerOptions
	events    EventWriter
	logger    observability.Logger
	metrics   observability.Metrics
	now       func() time.Time
}

// NewQuotaLedger constructs a ledger. emergency is the process-local store
// used only while failing open; it may be nil to disable fail-open entirely.
func NewQuotaLedger(store CounterStore, emergency CounterStore, opts LedgerOptions, events EventWriter, logger observability.Logger, metrics observability.Metrics, now func() time.Time) *QuotaLedger {
	if now == nil {
		now = time.Now
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 100 * time.Millisecond
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 10 * time.Millisecond
	}
	if opts.EmergencyCap <= 0 {
		opts.EmergencyCap = 10
	}
	return &QuotaLedger{
		store:     store,
		emergency: emergency,
		opts:      opts,
		events:    events,
		logger:    logger,
		metrics:   metrics,
		now:       now,
	}
}

// CheckAndConsume atomically consumes cost units from the principal's quota
// window for the rule, scaled by the classification's active multiplier.
func (l *QuotaLedger) CheckAndConsume(ctx context.Context, principalID string, rule *RateLimitRule, cost int64, cls Classification) (*QuotaDecision, error) {
	if l == nil || l.store == nil {
		return nil, ErrStoreUnavailable
	}
	if principalID == "" || rule == nil || cost <= 0 {
		return nil, ErrInvalidInput
	}
	limit := EffectiveLimit(rule, cls)
	key := counterKey(principalID, rule.ResourcePattern)

	decision, err := l.consumeWithRetry(ctx, key, limit, rule.Window, cost)
	if err == nil {
		return decision, nil
	}

	if l.metrics != nil {
		l.metrics.IncStoreError("consume", l.opts.Region)
	}
	if rule.CriticalPath && cls.EventDay && l.emergency != nil {
		return l.failOpen(ctx, principalID, key, rule, cost, err)
	}
	l.logFailClosed(ctx, principalID, err)
	return nil, Wrap(CodeStoreUnavailable, "counter store unavailable", err)
}

// consumeWithRetry applies one short retry for transient store errors.
func (l *QuotaLedger) consumeWithRetry(ctx context.Context, key string, limit int64, window time.Duration, cost int64) (*QuotaDecision, error) {
	decision, err := l.consumeOnce(ctx, key, limit, window, cost)
	if err == nil {
		return decision, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(l.opts.RetryBackoff):
	}
	return l.consumeOnce(ctx, key, limit, window, cost)
}

func (l *QuotaLedger) consumeOnce(ctx context.Context, key string, limit int64, window time.Duration, cost int64) (*QuotaDecision, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.opts.StoreTimeout)
	defer cancel()
	return l.store.Consume(callCtx, key, limit, window, cost)
}

// failOpen admits critical event-day traffic against the local emergency cap
// while the shared store is unreachable. Every fail-open is an anomaly.
func (l *QuotaLedger) failOpen(ctx context.Context, principalID, key string, rule *RateLimitRule, cost int64, cause error) (*QuotaDecision, error) {
	decision, err := l.emergency.Consume(ctx, key, l.opts.EmergencyCap, rule.Window, cost)
	if err != nil || decision == nil {
		return nil, Wrap(CodeStoreUnavailable, "counter store unavailable", cause)
	}
	decision.FailedOpen = true
	if l.metrics != nil {
		l.metrics.IncFailOpen(l.opts.Region)
	}
	if l.logger != nil {
		l.logger.Error("quota ledger failing open", map[string]any{
			"principal": principalID,
			"resource":  rule.ResourcePattern,
			"cause":     cause.Error(),
			"region":    l.opts.Region,
		})
	}
	if l.events != nil {
		event := NewTelemetryEvent(EventFailOpen, l.now())
		event.PrincipalID = principalID
		event.Detail = rule.ResourcePattern
		l.events.Write(ctx, event)
	}
	return decision, nil
}

func (l *QuotaLedger) logFailClosed(ctx context.Context, principalID string, cause error) {
	if l.logger != nil {
		l.logger.Error("quota ledger failing closed", map[string]any{
			"principal": principalID,
			"cause":     cause.Error(),
			"region":    l.opts.Region,
		})
	}
	if l.events != nil {
		event := NewTelemetryEvent(EventFailClosed, l.now())
		event.PrincipalID = principalID
		l.events.Write(ctx, event)
	}
}

// EffectiveLimit scales the rule's base quota by the active multiplier. The
// event-day boost applies the rule's own priority multiplier; override
// multipliers come in through the classification.
func EffectiveLimit(rule *RateLimitRule, cls Classification) int64 {
	multiplier := 1.0
	if cls.EventDay && rule.PriorityMultiplier > multiplier {
		multiplier = rule.PriorityMultiplier
	}
	if cls.QuotaMultiplier > multiplier {
		multiplier = cls.QuotaMultiplier
	}
	limit := int64(math.Ceil(float64(rule.BaseQuota) * multiplier))
	if limit < rule.BaseQuota {
		limit = rule.BaseQuota
	}
	return limit
}

func counterKey(principalID, resourcePattern string) string {
	return principalID + "\x1f" + resourcePattern
}
