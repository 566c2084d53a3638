// Package core provides emergency override records.
package core

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OverrideScope selects the traffic an override applies to. Exactly one of
// Global, PrincipalID, or EventID is set.
type OverrideScope struct {
	Global      bool
	PrincipalID string
	EventID     string
}

// OverrideEffect is the adjustment an override applies while active. A zero
// QuotaMultiplier means no quota change; PriorityNone means no floor or
// ceiling.
type OverrideEffect struct {
	QuotaMultiplier float64
	PriorityFloor   PriorityClass
	PriorityCeiling PriorityClass
}

// Override is a time-bounded, operator-issued adjustment. It becomes inert
// at ExpiresAt without requiring deletion.
type Override struct {
	ID        string
	Scope     OverrideScope
	Effect    OverrideEffect
	ExpiresAt time.Time
	IssuedBy  string
	IssuedAt  time.Time
}

// Active reports whether the override is in effect at the given time.
func (o *Override) Active(now time.Time) bool {
	if o == nil {
		return false
	}
	return now.Before(o.ExpiresAt)
}

// AppliesTo reports whether the override's scope covers the caller.
func (o *Override) AppliesTo(principalID string, eventIDs []string) bool {
	if o == nil {
		return false
	}
	if o.Scope.Global {
		return true
	}
	if o.Scope.PrincipalID != "" {
		return o.Scope.PrincipalID == principalID
	}
	if o.Scope.EventID != "" {
		for _, id := range eventIDs {
			if id == o.Scope.EventID {
				return true
			}
		}
	}
	return false
}

// OverrideRegistry stores overrides. Writes happen only on the admin path;
// the request path takes the read lock.
type OverrideRegistry struct {
	mu        sync.RWMutex
	overrides map[string]*Override
	now       func() time.Time
}

// NewOverrideRegistry constructs a registry.
func NewOverrideRegistry(now func() time.Time) *OverrideRegistry {
	if now == nil {
		now = time.Now
	}
	return &OverrideRegistry{overrides: make(map[string]*Override), now: now}
}

// Create validates and stores an override, assigning an ID when absent.
func (r *OverrideRegistry) Create(ov *Override) (*Override, error) {
	if r == nil || ov == nil {
		return nil, ErrInvalidInput
	}
	now := r.now()
	if ov.ExpiresAt.IsZero() || !ov.ExpiresAt.After(now) {
		return nil, Wrap(CodeInvalidInput, "override expiry must be a finite future time", nil)
	}
	if ov.IssuedBy == "" {
		return nil, Wrap(CodeInvalidInput, "override issuer is required", nil)
	}
	if err := validateScope(ov.Scope); err != nil {
		return nil, err
	}
	if ov.Effect.QuotaMultiplier != 0 && ov.Effect.QuotaMultiplier < 1 {
		return nil, Wrap(CodeInvalidInput, "override quota multiplier must be >= 1", nil)
	}
	clone := *ov
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.IssuedAt.IsZero() {
		clone.IssuedAt = now
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.overrides[clone.ID]; exists {
		return nil, ErrConflict
	}
	r.overrides[clone.ID] = &clone
	result := clone
	return &result, nil
}

// Expire forces an override inert immediately.
func (r *OverrideRegistry) Expire(id string) error {
	if r == nil || id == "" {
		return ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ov, ok := r.overrides[id]
	if !ok {
		return ErrNotFound
	}
	expired := *ov
	expired.ExpiresAt = r.now()
	r.overrides[id] = &expired
	return nil
}

// ActiveFor returns the overrides in effect for a caller at the current time.
// Expired entries are skipped, never returned.
func (r *OverrideRegistry) ActiveFor(principalID string, eventIDs []string) []*Override {
	if r == nil {
		return nil
	}
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	var active []*Override
	for _, ov := range r.overrides {
		if !ov.Active(now) {
			continue
		}
		if !ov.AppliesTo(principalID, eventIDs) {
			continue
		}
		active = append(active, ov)
	}
	return active
}

// List returns all stored overrides, expired included.
func (r *OverrideRegistry) List() []*Override {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Override, 0, len(r.overrides))
	for _, ov := range r.overrides {
		clone := *ov
		out = append(out, &clone)
	}
	return out
}

// Sweep removes expired overrides and returns how many were removed.
func (r *OverrideRegistry) Sweep() int {
	if r == nil {
		return 0
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, ov := range r.overrides {
		if !ov.Active(now) {
			delete(r.overrides, id)
			removed++
		}
	}
	return removed
}

func validateScope(scope OverrideScope) error {
	set := 0
	if scope.Global {
		set++
	}
	if scope.PrincipalID != "" {
		set++
	}
	if scope.EventID != "" {
		set++
	}
	if set != 1 {
		return Wrap(CodeInvalidInput, "override scope must name exactly one target", errors.New("bad scope"))
	}
	return nil
}
