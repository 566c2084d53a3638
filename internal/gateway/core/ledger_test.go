package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeCounterStore struct {
	mu      sync.Mutex
	used    map[string]int64
	fail    atomic.Bool
	calls   atomic.Int64
	healthy atomic.Bool
}

func newFakeCounterStore() *fakeCounterStore {
	s := &fakeCounterStore{used: make(map[string]int64)}
	s.healthy.Store(true)
	return s
}

func (s *fakeCounterStore) Consume(ctx context.Context, key string, limit int64, window time.Duration, cost int64) (*QuotaDecision, error) {
	s.calls.Add(1)
	if s.fail.Load() {
		return nil, errors.New("store down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	allowed := s.used[key]+cost <= limit
	if allowed {
		s.used[key] += cost
	}
	remaining := limit - s.used[key]
	if remaining < 0 {
		remaining = 0
	}
	return &QuotaDecision{Allowed: allowed, Remaining: remaining, Limit: limit, ResetAfter: window, RetryAfter: window}, nil
}

func (s *fakeCounterStore) Healthy(ctx context.Context) bool { return s.healthy.Load() }

func testRule(quota int64) *RateLimitRule {
	return &RateLimitRule{
		Tier:               TierStandard,
		ResourcePattern:    "/v1/search",
		BaseQuota:          quota,
		Window:             time.Minute,
		PriorityMultiplier: 1,
	}
}

func TestLedger_ConcurrentConsumeNeverOverAdmits(t *testing.T) {
	t.Parallel()

	store := newFakeCounterStore()
	ledger := NewQuotaLedger(store, nil, LedgerOptions{}, nil, nil, nil, nil)
	rule := testRule(100)
	cls := Classification{Class: PriorityNormal, QuotaMultiplier: 1}

	const attempts = 150
	var wg sync.WaitGroup
	var admitted atomic.Int64
	var denied atomic.Int64
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := ledger.CheckAndConsume(context.Background(), "p1", rule, 1, cls)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if decision.Allowed {
				admitted.Add(1)
			} else {
				denied.Add(1)
				if decision.RetryAfter <= 0 {
					t.Errorf("denied decision must carry positive retryAfter")
				}
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 100 {
		t.Fatalf("expected exactly 100 admitted, got %d", admitted.Load())
	}
	if denied.Load() != 50 {
		t.Fatalf("expected exactly 50 denied, got %d", denied.Load())
	}
}

func TestLedger_FailsClosedByDefault(t *testing.T) {
	t.Parallel()

	store := newFakeCounterStore()
	store.fail.Store(true)
	ledger := NewQuotaLedger(store, nil, LedgerOptions{RetryBackoff: time.Millisecond}, nil, nil, nil, nil)

	_, err := ledger.CheckAndConsume(context.Background(), "p1", testRule(10), 1, Classification{Class: PriorityNormal})
	if err == nil {
		t.Fatalf("expected error when store is down")
	}
	if CodeOf(err) != CodeStoreUnavailable {
		t.Fatalf("expected store unavailable code, got %v", CodeOf(err))
	}
	// One retry after the first failure.
	if got := store.calls.Load(); got != 2 {
		t.Fatalf("expected 2 store calls, got %d", got)
	}
}

func TestLedger_FailsOpenForCriticalEventTraffic(t *testing.T) {
	t.Parallel()

	store := newFakeCounterStore()
	store.fail.Store(true)
	emergency := newFakeCounterStore()
	ledger := NewQuotaLedger(store, emergency, LedgerOptions{RetryBackoff: time.Millisecond, EmergencyCap: 2}, nil, nil, nil, nil)

	rule := testRule(1000)
	rule.CriticalPath = true
	cls := Classification{Class: PriorityCritical, EventDay: true, QuotaMultiplier: 1}

	first, err := ledger.CheckAndConsume(context.Background(), "p1", rule, 1, cls)
	if err != nil {
		t.Fatalf("expected fail-open admit, got error: %v", err)
	}
	if !first.Allowed || !first.FailedOpen {
		t.Fatalf("expected allowed fail-open decision, got %+v", first)
	}

	second, err := ledger.CheckAndConsume(context.Background(), "p1", rule, 1, cls)
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if !second.Allowed {
		t.Fatalf("expected emergency cap to allow second request")
	}

	third, err := ledger.CheckAndConsume(context.Background(), "p1", rule, 1, cls)
	if err != nil {
		t.Fatalf("third consume: %v", err)
	}
	if third.Allowed {
		t.Fatalf("expected emergency cap of 2 to deny third request")
	}
}

func TestLedger_NoFailOpenOffEventDay(t *testing.T) {
	t.Parallel()

	store := newFakeCounterStore()
	store.fail.Store(true)
	emergency := newFakeCounterStore()
	ledger := NewQuotaLedger(store, emergency, LedgerOptions{RetryBackoff: time.Millisecond}, nil, nil, nil, nil)

	rule := testRule(1000)
	rule.CriticalPath = true

	_, err := ledger.CheckAndConsume(context.Background(), "p1", rule, 1, Classification{Class: PriorityCritical})
	if err == nil {
		t.Fatalf("critical path off event day must still fail closed")
	}
}

func TestEffectiveLimit(t *testing.T) {
	t.Parallel()

	rule := testRule(100)
	rule.PriorityMultiplier = 2.5

	if got := EffectiveLimit(rule, Classification{QuotaMultiplier: 1}); got != 100 {
		t.Fatalf("expected base quota off event day, got %d", got)
	}
	if got := EffectiveLimit(rule, Classification{EventDay: true, QuotaMultiplier: 1}); got != 250 {
		t.Fatalf("expected event day boost, got %d", got)
	}
	if got := EffectiveLimit(rule, Classification{EventDay: true, QuotaMultiplier: 4}); got != 400 {
		t.Fatalf("expected override multiplier to win, got %d", got)
	}
	if got := EffectiveLimit(rule, Classification{QuotaMultiplier: 0.5}); got != 100 {
		t.Fatalf("multiplier below one must never shrink the quota, got %d", got)
	}
}
