// Package core provides the per-request gateway orchestrator.
package core

import (
	"context"
	"time"

	"admissiongate/internal/gateway/observability"
)

// Orchestrator is the per-request entry point. It is stateless between
// requests; all state lives in the components it calls.
type Orchestrator struct {
	principals *PrincipalDirectory
	rules      *RuleTable
	classifier *PriorityClassifier
	ledger     *QuotaLedger
	router     *Router
	health     *HealthMonitor
	leases     *LeaseTable
	tracer     observability.Tracer
	sampler    observability.Sampler
	metrics    observability.Metrics
	logger     observability.Logger
	region     string
	now        func() time.Time
}

// OrchestratorDeps bundles the orchestrator's collaborators.
type OrchestratorDeps struct {
	Principals *PrincipalDirectory
	Rules      *RuleTable
	Classifier *PriorityClassifier
	Ledger     *QuotaLedger
	Router     *Router
	Health     *HealthMonitor
	Leases     *LeaseTable
	Tracer     observability.Tracer
	Sampler    observability.Sampler
	Metrics    observability.Metrics
	Logger     observability.Logger
	Region     string
	Now        func() time.Time
}

// NewOrchestrator constructs an orchestrator.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	if deps.Tracer == nil {
		deps.Tracer = observability.NoopTracer{}
	}
	if deps.Sampler == nil {
		deps.Sampler = observability.NewHashSampler(100)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Orchestrator{
		principals: deps.Principals,
		rules:      deps.Rules,
		classifier: deps.Classifier,
		ledger:     deps.Ledger,
		router:     deps.Router,
		health:     deps.Health,
		leases:     deps.Leases,
		tracer:     deps.Tracer,
		sampler:    deps.Sampler,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		region:     deps.Region,
		now:        deps.Now,
	}
}

// Admit evaluates one admission request: classify, consume quota, route.
func (o *Orchestrator) Admit(ctx context.Context, req *AdmissionRequest) (*AdmissionDecision, error) {
	if req == nil || req.PrincipalID == "" || req.Resource == "" {
		return nil, ErrInvalidInput
	}
	cost := req.Cost
	if cost == 0 {
		cost = 1
	}
	if cost < 0 {
		return nil, ErrInvalidInput
	}
	if o == nil || o.principals == nil || o.rules == nil || o.classifier == nil || o.ledger == nil || o.router == nil {
		return nil, Wrap(CodeStoreUnavailable, "orchestrator is not initialized", nil)
	}

	start := o.now()
	span := observability.Span(nil)
	if o.sampler.Sampled(req.RequestID) {
		ctx, span = o.tracer.StartSpan(ctx, "admit")
		span.SetAttribute("principal", req.PrincipalID)
		span.SetAttribute("resource", req.Resource)
	}
	defer func() {
		if span != nil {
			span.End()
		}
		if o.metrics != nil {
			o.metrics.ObserveLatency("admit", time.Since(start), o.region)
		}
	}()

	principal, ok := o.principals.Get(req.PrincipalID)
	if !ok {
		return o.reject(req, PriorityLow, ReasonInvalidRequest, 0), nil
	}

	cls := o.classifier.Classify(principal, req.Context)
	if cls.InvalidContext && o.logger != nil {
		o.logger.Info("invalid event context, no priority boost", map[string]any{
			"principal": req.PrincipalID,
			"eventID":   req.Context.EventID,
			"eventDate": req.Context.EventDate,
		})
	}

	rule, ok := o.rules.Resolve(principal, req.Resource)
	if !ok {
		if o.logger != nil {
			o.logger.Error("no rule configured for resource", map[string]any{
				"principal": req.PrincipalID,
				"resource":  req.Resource,
				"tier":      principal.Tier.String(),
			})
		}
		return o.reject(req, cls.Class, ReasonConfigurationMissing, 0), nil
	}

	quota, err := o.ledger.CheckAndConsume(ctx, principal.ID, rule, cost, cls)
	degraded := false
	if err != nil {
		if span != nil {
			span.RecordError(err)
		}
		if cls.Class < PriorityCritical {
			return o.reject(req, cls.Class, ReasonStoreUnavailable, time.Second), nil
		}
		// Critical traffic is never failed closed on component errors.
		degraded = true
		quota = &QuotaDecision{Allowed: true}
	}
	if !quota.Allowed {
		decision := o.reject(req, cls.Class, ReasonQuotaExceeded, quota.RetryAfter)
		decision.Remaining = quota.Remaining
		decision.Limit = quota.Limit
		decision.ResetAfter = quota.ResetAfter
		return decision, nil
	}

	route, reason := o.router.Route(cls.Class, req.Resource)
	if route == nil {
		if reason == ReasonConfigurationMissing && o.logger != nil {
			o.logger.Error("no route configured for resource", map[string]any{
				"resource": req.Resource,
			})
		}
		retryAfter := time.Duration(0)
		if reason == ReasonUpstreamSaturated || reason == ReasonNoHealthyUpstream {
			retryAfter = time.Second
		}
		return o.reject(req, cls.Class, reason, retryAfter), nil
	}

	decision := &AdmissionDecision{
		Allowed:    true,
		Priority:   cls.Class,
		Upstream:   route.Target,
		Degraded:   route.Degraded || degraded,
		FailedOpen: quota.FailedOpen,
		Remaining:  quota.Remaining,
		Limit:      quota.Limit,
		ResetAfter: quota.ResetAfter,
	}
	if o.leases != nil {
		if lease := o.leases.Add(route.Target, cls.Class); lease != nil {
			decision.LeaseID = lease.ID
		}
	}
	o.audit(req, decision)
	return decision, nil
}

// Complete reports the outcome of an admitted request, releasing its slot
// and feeding the health monitor a passive sample.
func (o *Orchestrator) Complete(ctx context.Context, leaseID string, success bool, latency time.Duration) error {
	if o == nil || o.leases == nil {
		return ErrNotFound
	}
	lease, ok := o.leases.Take(leaseID)
	if !ok {
		return ErrNotFound
	}
	o.router.Release(lease.Upstream)
	if o.health != nil {
		o.health.Record(Sample{
			Upstream: lease.Upstream,
			Success:  success,
			Latency:  latency,
			Source:   SampleSourceRequest,
			At:       o.now(),
		})
	}
	return nil
}

// SweepLeases reclaims slots held by abandoned leases.
func (o *Orchestrator) SweepLeases() int {
	if o == nil || o.leases == nil {
		return 0
	}
	expired := o.leases.Sweep()
	for _, lease := range expired {
		o.router.Release(lease.Upstream)
	}
	if len(expired) > 0 && o.logger != nil {
		o.logger.Info("reclaimed abandoned leases", map[string]any{"count": len(expired)})
	}
	return len(expired)
}

func (o *Orchestrator) reject(req *AdmissionRequest, class PriorityClass, reason string, retryAfter time.Duration) *AdmissionDecision {
	decision := &AdmissionDecision{
		Allowed:    false,
		Priority:   class,
		Reason:     reason,
		RetryAfter: retryAfter,
	}
	o.audit(req, decision)
	return decision
}

func (o *Orchestrator) audit(req *AdmissionRequest, decision *AdmissionDecision) {
	if o.metrics != nil {
		result := "allowed"
		if !decision.Allowed {
			result = decision.Reason
		}
		o.metrics.IncDecision(result, decision.Priority.String(), o.region)
	}
	if o.logger == nil {
		return
	}
	o.logger.Info("admission decision", map[string]any{
		"requestID": req.RequestID,
		"principal": req.PrincipalID,
		"resource":  req.Resource,
		"allowed":   decision.Allowed,
		"class":     decision.Priority.String(),
		"upstream":  decision.Upstream,
		"degraded":  decision.Degraded,
		"failOpen":  decision.FailedOpen,
		"reason":    decision.Reason,
	})
}
