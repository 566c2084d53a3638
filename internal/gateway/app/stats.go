package app

import (
	"context"
	"time"

	redisstore "admissiongate/internal/gateway/store/redis"
)

// decisionStatsSink mirrors decision counts into Redis for fleet-wide
// dashboards. Writes are best-effort and never block the decision path.
type decisionStatsSink struct {
	stats   *redisstore.DecisionStats
	timeout time.Duration
}

func newDecisionStatsSink(stats *redisstore.DecisionStats) *decisionStatsSink {
	return &decisionStatsSink{stats: stats, timeout: time.Second}
}

func (s *decisionStatsSink) IncDecision(result string, class string, region string) {
	if s == nil || s.stats == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_ = s.stats.Record(ctx, result == "allowed", class)
	}()
}

func (s *decisionStatsSink) IncFailOpen(region string) {}

func (s *decisionStatsSink) IncCircuitTransition(upstream, from, to string) {}

func (s *decisionStatsSink) IncStoreError(op string, region string) {}

func (s *decisionStatsSink) IncOverride(action string) {}

func (s *decisionStatsSink) ObserveLatency(op string, d time.Duration, r string) {}
