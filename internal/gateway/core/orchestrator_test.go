package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

type orchestratorFixture struct {
	orchestrator *Orchestrator
	store        *fakeCounterStore
	router       *Router
	leases       *LeaseTable
	clock        *testClock
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()

	clock := &testClock{at: time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)}
	principals := NewPrincipalDirectory()
	principals.ReplaceAll([]*Principal{
		{ID: "tenant-1", Tier: TierStandard, EventIDs: []string{"launch"}},
		{ID: "tenant-2", Tier: TierFree},
	})

	rules := NewRuleTable()
	rules.ReplaceAll([]*RateLimitRule{
		{Tier: TierStandard, ResourcePattern: "/v1/*", BaseQuota: 5, Window: time.Minute, PriorityMultiplier: 1},
		{Tier: TierFree, ResourcePattern: "/v1/*", BaseQuota: 5, Window: time.Minute, PriorityMultiplier: 1},
	})

	store := newFakeCounterStore()
	ledger := NewQuotaLedger(store, nil, LedgerOptions{
		StoreTimeout: 50 * time.Millisecond,
		RetryBackoff: time.Millisecond,
	}, nil, nil, nil, clock.Now)

	health := testMonitor(&UpstreamService{ID: "search-backend", Slots: 4})
	router := NewRouter([]*RouteConfig{
		{ResourcePattern: "/v1/*", Upstreams: []string{"search-backend"}},
	}, health, RouterDefaults{}, clock.Now)
	leases := NewLeaseTable(30*time.Second, clock.Now)

	orchestrator := NewOrchestrator(OrchestratorDeps{
		Principals: principals,
		Rules:      rules,
		Classifier: NewPriorityClassifier(NewOverrideRegistry(clock.Now), clock.Now),
		Ledger:     ledger,
		Router:     router,
		Health:     health,
		Leases:     leases,
		Region:     "us-east",
		Now:        clock.Now,
	})
	return &orchestratorFixture{
		orchestrator: orchestrator,
		store:        store,
		router:       router,
		leases:       leases,
		clock:        clock,
	}
}

func TestOrchestrator_RejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t)
	ctx := context.Background()

	cases := []*AdmissionRequest{
		nil,
		{Resource: "/v1/search"},
		{PrincipalID: "tenant-1"},
		{PrincipalID: "tenant-1", Resource: "/v1/search", Cost: -1},
	}
	for i, req := range cases {
		if _, err := f.orchestrator.Admit(ctx, req); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}

func TestOrchestrator_UnknownPrincipal(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t)
	decision, err := f.orchestrator.Admit(context.Background(), &AdmissionRequest{
		PrincipalID: "ghost",
		Resource:    "/v1/search",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed || decision.Reason != ReasonInvalidRequest {
		t.Fatalf("expected invalid_request rejection, got %+v", decision)
	}
}

func TestOrchestrator_MissingRule(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t)
	decision, err := f.orchestrator.Admit(context.Background(), &AdmissionRequest{
		PrincipalID: "tenant-1",
		Resource:    "/v2/uncovered",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed || decision.Reason != ReasonConfigurationMissing {
		t.Fatalf("expected configuration_missing rejection, got %+v", decision)
	}
}

func TestOrchestrator_StoreOutageFailsClosedForNormalTraffic(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t)
	f.store.fail.Store(true)

	decision, err := f.orchestrator.Admit(context.Background(), &AdmissionRequest{
		PrincipalID: "tenant-1",
		Resource:    "/v1/search",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed || decision.Reason != ReasonStoreUnavailable {
		t.Fatalf("expected store_unavailable rejection, got %+v", decision)
	}
	if decision.RetryAfter != time.Second {
		t.Fatalf("expected one second retry hint, got %v", decision.RetryAfter)
	}
}

func TestOrchestrator_StoreOutageDegradesCriticalTraffic(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t)
	f.store.fail.Store(true)

	decision, err := f.orchestrator.Admit(context.Background(), &AdmissionRequest{
		PrincipalID: "tenant-1",
		Resource:    "/v1/search",
		Context: RequestContext{
			EventID:         "launch",
			EventDate:       "2026-06-15",
			DeclaredUrgency: "critical",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed || !decision.Degraded {
		t.Fatalf("expected degraded allow for critical traffic, got %+v", decision)
	}
	if decision.Priority != PriorityCritical {
		t.Fatalf("expected critical class, got %v", decision.Priority)
	}
}

func TestOrchestrator_QuotaExceeded(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t)
	ctx := context.Background()
	req := &AdmissionRequest{PrincipalID: "tenant-1", Resource: "/v1/search"}

	for i := 0; i < 5; i++ {
		decision, err := f.orchestrator.Admit(ctx, req)
		if err != nil || !decision.Allowed {
			t.Fatalf("request %d should be admitted: %+v %v", i, decision, err)
		}
		if err := f.orchestrator.Complete(ctx, decision.LeaseID, true, 10*time.Millisecond); err != nil {
			t.Fatalf("complete %d: %v", i, err)
		}
	}

	decision, err := f.orchestrator.Admit(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed || decision.Reason != ReasonQuotaExceeded {
		t.Fatalf("expected quota_exceeded rejection, got %+v", decision)
	}
	if decision.Limit != 5 || decision.Remaining != 0 {
		t.Fatalf("expected limit metadata on rejection, got %+v", decision)
	}
	if decision.RetryAfter <= 0 {
		t.Fatalf("expected positive retry hint, got %v", decision.RetryAfter)
	}
}

func TestOrchestrator_AdmitAndComplete(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t)
	ctx := context.Background()

	decision, err := f.orchestrator.Admit(ctx, &AdmissionRequest{
		PrincipalID: "tenant-1",
		Resource:    "/v1/search",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed || decision.Upstream != "search-backend" {
		t.Fatalf("expected admission to search-backend, got %+v", decision)
	}
	if decision.LeaseID == "" {
		t.Fatalf("expected a lease on admission")
	}
	if got := f.router.SlotsInUse("search-backend"); got != 1 {
		t.Fatalf("expected one slot in use, got %d", got)
	}

	if err := f.orchestrator.Complete(ctx, decision.LeaseID, true, 25*time.Millisecond); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := f.router.SlotsInUse("search-backend"); got != 0 {
		t.Fatalf("expected slot released, got %d", got)
	}
	if err := f.orchestrator.Complete(ctx, decision.LeaseID, true, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on double complete, got %v", err)
	}
}

func TestOrchestrator_SweepReclaimsAbandonedLeases(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t)
	decision, err := f.orchestrator.Admit(context.Background(), &AdmissionRequest{
		PrincipalID: "tenant-1",
		Resource:    "/v1/search",
	})
	if err != nil || !decision.Allowed {
		t.Fatalf("expected admission: %+v %v", decision, err)
	}

	f.clock.Advance(time.Minute)
	if got := f.orchestrator.SweepLeases(); got != 1 {
		t.Fatalf("expected one reclaimed lease, got %d", got)
	}
	if got := f.router.SlotsInUse("search-backend"); got != 0 {
		t.Fatalf("expected slot released by sweep, got %d", got)
	}
	if got := f.leases.Len(); got != 0 {
		t.Fatalf("expected empty lease table, got %d", got)
	}
}
