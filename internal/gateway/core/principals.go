// Package core provides the principal directory.
package core

import "sync/atomic"

// PrincipalDirectory stores principals with copy-on-write updates. Written
// at configuration load and on admin changes, read on every request.
type PrincipalDirectory struct {
	snap atomic.Value
}

// NewPrincipalDirectory creates an empty directory.
func NewPrincipalDirectory() *PrincipalDirectory {
	d := &PrincipalDirectory{}
	d.snap.Store(map[string]*Principal{})
	return d
}

// Get returns a principal by ID.
func (d *PrincipalDirectory) Get(id string) (*Principal, bool) {
	if d == nil || id == "" {
		return nil, false
	}
	principals, _ := d.snap.Load().(map[string]*Principal)
	principal, ok := principals[id]
	return principal, ok
}

// ReplaceAll swaps in a full set of principals.
func (d *PrincipalDirectory) ReplaceAll(principals []*Principal) {
	byID := make(map[string]*Principal, len(principals))
	for _, principal := range principals {
		if principal == nil || principal.ID == "" {
			continue
		}
		clone := *principal
		clone.EventIDs = append([]string(nil), principal.EventIDs...)
		byID[clone.ID] = &clone
	}
	d.snap.Store(byID)
}

// Len reports the number of stored principals.
func (d *PrincipalDirectory) Len() int {
	if d == nil {
		return 0
	}
	principals, _ := d.snap.Load().(map[string]*Principal)
	return len(principals)
}
