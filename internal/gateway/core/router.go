// Package core provides routing and failover across upstreams.
package core

import (
	"sync/atomic"
	"time"
)

// RouteResult is a successful routing outcome.
type RouteResult struct {
	Target   string
	Degraded bool
}

// Router picks a healthy upstream for a classified request. Each upstream
// carries a slot budget with a reserved fraction only classes >= high may
// consume, so critical traffic is admitted even near saturation.
type Router struct {
	routes  []*RouteConfig
	health  *HealthMonitor
	slots   map[string]*slotGuard
	cursors map[string]*atomic.Uint64
	now     func() time.Time
}

// RouterDefaults supplies slot settings for upstreams that omit them.
type RouterDefaults struct {
	Slots            int64
	ReservedFraction float64
}

// NewRouter constructs a router over the configured routes.
func NewRouter(routes []*RouteConfig, health *HealthMonitor, defaults RouterDefaults, now func() time.Time) *Router {
	if now == nil {
		now = time.Now
	}
	if defaults.Slots <= 0 {
		defaults.Slots = 64
	}
	if defaults.ReservedFraction <= 0 || defaults.ReservedFraction >= 1 {
		defaults.ReservedFraction = 0.1
	}
	r := &Router{
		routes:  routes,
		health:  health,
		slots:   make(map[string]*slotGuard),
		cursors: make(map[string]*atomic.Uint64, len(routes)),
		now:     now,
	}
	for _, route := range routes {
		if route == nil {
			continue
		}
		r.cursors[route.ResourcePattern] = &atomic.Uint64{}
		for _, id := range append(append([]string{}, route.Upstreams...), route.Fallback) {
			if id == "" {
				continue
			}
			if _, ok := r.slots[id]; ok {
				continue
			}
			r.slots[id] = newSlotGuard(upstreamSlots(health, id, defaults))
		}
	}
	return r
}

// Route selects a target for the given priority class. On success the caller
// owns one slot on the target and must release it via Release. A failure
// returns the rejection reason.
func (r *Router) Route(class PriorityClass, resource string) (*RouteResult, string) {
	if r == nil {
		return nil, ReasonNoHealthyUpstream
	}
	route := r.routeFor(resource)
	if route == nil {
		return nil, ReasonConfigurationMissing
	}

	healthy := make([]string, 0, len(route.Upstreams))
	trickle := make([]string, 0, 2)
	for _, id := range route.Upstreams {
		switch r.health.Verdict(id) {
		case VerdictAllow, VerdictProbe:
			healthy = append(healthy, id)
		case VerdictTrickle:
			trickle = append(trickle, id)
		}
	}

	if target, ok := r.acquireBest(route, healthy, class); ok {
		return &RouteResult{Target: target}, ""
	}
	for _, id := range trickle {
		if r.acquire(id, class) {
			return &RouteResult{Target: id, Degraded: true}, ""
		}
	}
	if route.Fallback != "" && r.health.Verdict(route.Fallback) != VerdictReject {
		if r.acquire(route.Fallback, class) {
			return &RouteResult{Target: route.Fallback, Degraded: true}, ""
		}
	}
	if len(healthy) > 0 || len(trickle) > 0 {
		return nil, ReasonUpstreamSaturated
	}
	return nil, ReasonNoHealthyUpstream
}

// Release returns the slot held for a target.
func (r *Router) Release(target string) {
	if r == nil {
		return
	}
	if guard, ok := r.slots[target]; ok {
		guard.release()
	}
}

// SlotsInUse reports the current slot usage of a target.
func (r *Router) SlotsInUse(target string) int64 {
	if r == nil {
		return 0
	}
	guard, ok := r.slots[target]
	if !ok {
		return 0
	}
	return guard.used.Load()
}

// acquireBest orders healthy candidates by observed latency, ties broken
// round-robin, and takes the first with a free slot.
func (r *Router) acquireBest(route *RouteConfig, healthy []string, class PriorityClass) (string, bool) {
	if len(healthy) == 0 {
		return "", false
	}
	best := r.orderByLatency(route, healthy)
	for _, id := range best {
		if r.acquire(id, class) {
			return id, true
		}
	}
	return "", false
}

func (r *Router) orderByLatency(route *RouteConfig, candidates []string) []string {
	if len(candidates) == 1 {
		return candidates
	}
	minLatency := time.Duration(-1)
	for _, id := range candidates {
		latency := r.health.Latency(id)
		if minLatency < 0 || latency < minLatency {
			minLatency = latency
		}
	}
	ties := make([]string, 0, len(candidates))
	rest := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if r.health.Latency(id) == minLatency {
			ties = append(ties, id)
			continue
		}
		rest = append(rest, id)
	}
	if len(ties) > 1 {
		cursor := r.cursors[route.ResourcePattern]
		if cursor != nil {
			offset := int(cursor.Add(1) % uint64(len(ties)))
			ties = append(ties[offset:], ties[:offset]...)
		}
	}
	return append(ties, rest...)
}

func (r *Router) acquire(target string, class PriorityClass) bool {
	guard, ok := r.slots[target]
	if !ok {
		return false
	}
	return guard.acquire(class)
}

func (r *Router) routeFor(resource string) *RouteConfig {
	var best *RouteConfig
	for _, route := range r.routes {
		if route == nil || !MatchesResource(route.ResourcePattern, resource) {
			continue
		}
		if best == nil || len(route.ResourcePattern) > len(best.ResourcePattern) {
			best = route
		}
	}
	return best
}

// slotGuard is a lock-free concurrency budget. The reserved share is only
// reachable by classes >= high.
type slotGuard struct {
	total    int64
	reserved int64
	used     atomic.Int64
}

func newSlotGuard(total int64, reserved int64) *slotGuard {
	if total <= 0 {
		total = 1
	}
	if reserved >= total {
		reserved = total - 1
	}
	if reserved < 0 {
		reserved = 0
	}
	return &slotGuard{total: total, reserved: reserved}
}

func (g *slotGuard) acquire(class PriorityClass) bool {
	limit := g.total
	if class < PriorityHigh {
		limit = g.total - g.reserved
	}
	for {
		used := g.used.Load()
		if used >= limit {
			return false
		}
		if g.used.CompareAndSwap(used, used+1) {
			return true
		}
	}
}

func (g *slotGuard) release() {
	if g.used.Add(-1) < 0 {
		g.used.Store(0)
	}
}

func upstreamSlots(health *HealthMonitor, id string, defaults RouterDefaults) (int64, int64) {
	total := defaults.Slots
	fraction := defaults.ReservedFraction
	if health != nil {
		if upstream, ok := health.Upstream(id); ok {
			if upstream.Slots > 0 {
				total = upstream.Slots
			}
			if upstream.ReservedFraction > 0 && upstream.ReservedFraction < 1 {
				fraction = upstream.ReservedFraction
			}
		}
	}
	reserved := int64(float64(total) * fraction)
	if reserved < 1 {
		reserved = 1
	}
	return total, reserved
}
