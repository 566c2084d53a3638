// Package core provides rate limit rule resolution.
package core

import (
	"strings"
	"sync"
	"sync/atomic"
)

// ruleSnapshot holds rules grouped by owner, immutable once stored.
type ruleSnapshot struct {
	byPrincipal map[string][]*RateLimitRule
	byTier      map[Tier][]*RateLimitRule
}

// RuleTable stores rule snapshots with copy-on-write updates. Reads on the
// hot path never take the writer lock.
type RuleTable struct {
	snap atomic.Value
	mu   sync.Mutex
}

// NewRuleTable creates a table with an empty snapshot.
func NewRuleTable() *RuleTable {
	table := &RuleTable{}
	table.snap.Store(&ruleSnapshot{
		byPrincipal: map[string][]*RateLimitRule{},
		byTier:      map[Tier][]*RateLimitRule{},
	})
	return table
}

// Resolve returns the applicable rule for a principal and resource. Rules
// bound to the principal win over tier templates; among matches the longest
// pattern wins.
func (rt *RuleTable) Resolve(principal *Principal, resource string) (*RateLimitRule, bool) {
	if rt == nil || principal == nil || resource == "" {
		return nil, false
	}
	snapshot := rt.snapshot()
	if rule := bestMatch(snapshot.byPrincipal[principal.ID], resource); rule != nil {
		return rule, true
	}
	if rule := bestMatch(snapshot.byTier[principal.Tier], resource); rule != nil {
		return rule, true
	}
	return nil, false
}

// ListForTier returns the tier template rules.
func (rt *RuleTable) ListForTier(tier Tier) []*RateLimitRule {
	snapshot := rt.snapshot()
	rules := snapshot.byTier[tier]
	out := make([]*RateLimitRule, len(rules))
	copy(out, rules)
	return out
}

// ListForPrincipal returns the principal-bound rules.
func (rt *RuleTable) ListForPrincipal(principalID string) []*RateLimitRule {
	snapshot := rt.snapshot()
	rules := snapshot.byPrincipal[principalID]
	out := make([]*RateLimitRule, len(rules))
	copy(out, rules)
	return out
}

// ReplaceAll replaces the entire snapshot with the provided rules.
func (rt *RuleTable) ReplaceAll(rules []*RateLimitRule) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	byPrincipal := map[string][]*RateLimitRule{}
	byTier := map[Tier][]*RateLimitRule{}
	for _, rule := range rules {
		if rule == nil {
			continue
		}
		clone := cloneRule(rule)
		if clone.PrincipalID != "" {
			byPrincipal[clone.PrincipalID] = append(byPrincipal[clone.PrincipalID], clone)
			continue
		}
		byTier[clone.Tier] = append(byTier[clone.Tier], clone)
	}
	rt.snap.Store(&ruleSnapshot{byPrincipal: byPrincipal, byTier: byTier})
}

// UpsertIfNewer updates a rule if its version is newer than the stored one.
func (rt *RuleTable) UpsertIfNewer(rule *RateLimitRule) {
	if rule == nil {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	snapshot := rt.snapshot()
	byPrincipal := copyRuleMap(snapshot.byPrincipal)
	byTier := copyTierMap(snapshot.byTier)

	clone := cloneRule(rule)
	if clone.PrincipalID != "" {
		byPrincipal[clone.PrincipalID] = upsertRuleList(byPrincipal[clone.PrincipalID], clone)
	} else {
		byTier[clone.Tier] = upsertRuleList(byTier[clone.Tier], clone)
	}
	rt.snap.Store(&ruleSnapshot{byPrincipal: byPrincipal, byTier: byTier})
}

func (rt *RuleTable) snapshot() *ruleSnapshot {
	if snapshot, ok := rt.snap.Load().(*ruleSnapshot); ok && snapshot != nil {
		return snapshot
	}
	return &ruleSnapshot{
		byPrincipal: map[string][]*RateLimitRule{},
		byTier:      map[Tier][]*RateLimitRule{},
	}
}

// MatchesResource reports whether a pattern covers a resource. A trailing
// "*" matches any suffix; otherwise the match is exact.
func MatchesResource(pattern, resource string) bool {
	if pattern == "" || resource == "" {
		return false
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(resource, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == resource
}

func bestMatch(rules []*RateLimitRule, resource string) *RateLimitRule {
	var best *RateLimitRule
	for _, rule := range rules {
		if rule == nil || !MatchesResource(rule.ResourcePattern, resource) {
			continue
		}
		if best == nil || len(rule.ResourcePattern) > len(best.ResourcePattern) {
			best = rule
		}
	}
	return best
}

func upsertRuleList(rules []*RateLimitRule, rule *RateLimitRule) []*RateLimitRule {
	out := make([]*RateLimitRule, 0, len(rules)+1)
	replaced := false
	for _, existing := range rules {
		if existing == nil {
			continue
		}
		if existing.ResourcePattern == rule.ResourcePattern {
			if rule.Version <= existing.Version {
				return rules
			}
			out = append(out, rule)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, rule)
	}
	return out
}

func cloneRule(rule *RateLimitRule) *RateLimitRule {
	if rule == nil {
		return nil
	}
	clone := *rule
	return &clone
}

func copyRuleMap(old map[string][]*RateLimitRule) map[string][]*RateLimitRule {
	copyMap := make(map[string][]*RateLimitRule, len(old))
	for key, value := range old {
		copyMap[key] = value
	}
	return copyMap
}

func copyTierMap(old map[Tier][]*RateLimitRule) map[Tier][]*RateLimitRule {
	copyMap := make(map[Tier][]*RateLimitRule, len(old))
	for key, value := range old {
		copyMap[key] = value
	}
	return copyMap
}
