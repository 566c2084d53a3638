// Package core provides admission leases.
package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Lease ties an allowed admission to the upstream slot it holds until the
// caller reports the outcome.
type Lease struct {
	ID        string
	Upstream  string
	Class     PriorityClass
	CreatedAt time.Time
}

// LeaseTable tracks outstanding leases. Leases not completed within the TTL
// are reclaimed by Sweep so abandoned requests cannot pin slots forever.
type LeaseTable struct {
	mu     sync.Mutex
	leases map[string]*Lease
	ttl    time.Duration
	now    func() time.Time
}

// NewLeaseTable constructs a lease table.
func NewLeaseTable(ttl time.Duration, now func() time.Time) *LeaseTable {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &LeaseTable{leases: make(map[string]*Lease), ttl: ttl, now: now}
}

// Add registers a new lease for an upstream slot.
func (t *LeaseTable) Add(upstream string, class PriorityClass) *Lease {
	if t == nil {
		return nil
	}
	lease := &Lease{
		ID:        uuid.NewString(),
		Upstream:  upstream,
		Class:     class,
		CreatedAt: t.now(),
	}
	t.mu.Lock()
	t.leases[lease.ID] = lease
	t.mu.Unlock()
	return lease
}

// Take removes and returns a lease by ID.
func (t *LeaseTable) Take(id string) (*Lease, bool) {
	if t == nil || id == "" {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	lease, ok := t.leases[id]
	if !ok {
		return nil, false
	}
	delete(t.leases, id)
	return lease, true
}

// Sweep removes and returns all leases older than the TTL.
func (t *LeaseTable) Sweep() []*Lease {
	if t == nil {
		return nil
	}
	cutoff := t.now().Add(-t.ttl)
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []*Lease
	for id, lease := range t.leases {
		if lease.CreatedAt.Before(cutoff) {
			delete(t.leases, id)
			expired = append(expired, lease)
		}
	}
	return expired
}

// Len reports the number of outstanding leases.
func (t *LeaseTable) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.leases)
}
