// Package core provides the operator-facing admin surface.
package core

import (
	"context"
	"time"

	"admissiongate/internal/gateway/observability"
)

// AdminCore serves operator changes to overrides and rate limit rules.
type AdminCore struct {
	overrides *OverrideRegistry
	rules     *RuleTable
	events    EventWriter
	logger    observability.Logger
	metrics   observability.Metrics
	now       func() time.Time
}

// NewAdminCore constructs the admin surface.
func NewAdminCore(overrides *OverrideRegistry, rules *RuleTable, events EventWriter, logger observability.Logger, metrics observability.Metrics, now func() time.Time) *AdminCore {
	if now == nil {
		now = time.Now
	}
	return &AdminCore{
		overrides: overrides,
		rules:     rules,
		events:    events,
		logger:    logger,
		metrics:   metrics,
		now:       now,
	}
}

// CreateOverride registers a new emergency override.
func (a *AdminCore) CreateOverride(ctx context.Context, ov *Override) (*Override, error) {
	if a == nil || a.overrides == nil {
		return nil, Wrap(CodeConfigurationMissing, "override registry is not configured", nil)
	}
	created, err := a.overrides.Create(ov)
	if err != nil {
		return nil, err
	}
	if a.metrics != nil {
		a.metrics.IncOverride("created")
	}
	if a.logger != nil {
		a.logger.Info("override created", map[string]any{
			"overrideID": created.ID,
			"issuedBy":   created.IssuedBy,
			"expiresAt":  created.ExpiresAt,
			"scope":      scopeLabel(created.Scope),
		})
	}
	if a.events != nil {
		event := NewTelemetryEvent(EventOverrideCreated, a.now())
		event.Detail = created.ID
		event.PrincipalID = created.Scope.PrincipalID
		a.events.Write(ctx, event)
	}
	return created, nil
}

// ExpireOverride force-expires an override before its deadline.
func (a *AdminCore) ExpireOverride(ctx context.Context, id string) error {
	if a == nil || a.overrides == nil {
		return Wrap(CodeConfigurationMissing, "override registry is not configured", nil)
	}
	if err := a.overrides.Expire(id); err != nil {
		return err
	}
	if a.metrics != nil {
		a.metrics.IncOverride("expired")
	}
	if a.logger != nil {
		a.logger.Info("override expired", map[string]any{"overrideID": id})
	}
	if a.events != nil {
		event := NewTelemetryEvent(EventOverrideExpired, a.now())
		event.Detail = id
		a.events.Write(ctx, event)
	}
	return nil
}

// ListOverrides returns all overrides, active and expired.
func (a *AdminCore) ListOverrides(ctx context.Context) ([]*Override, error) {
	if a == nil || a.overrides == nil {
		return nil, Wrap(CodeConfigurationMissing, "override registry is not configured", nil)
	}
	return a.overrides.List(), nil
}

// UpsertRule installs a rule if its version is newer than the stored one.
func (a *AdminCore) UpsertRule(ctx context.Context, rule *RateLimitRule) error {
	if a == nil || a.rules == nil {
		return Wrap(CodeConfigurationMissing, "rule table is not configured", nil)
	}
	if rule == nil || rule.ResourcePattern == "" || rule.BaseQuota <= 0 || rule.Window <= 0 {
		return ErrInvalidInput
	}
	if rule.PriorityMultiplier < 1 {
		rule.PriorityMultiplier = 1
	}
	rule.UpdatedAt = a.now()
	a.rules.UpsertIfNewer(rule)
	if a.logger != nil {
		a.logger.Info("rule upserted", map[string]any{
			"principalID": rule.PrincipalID,
			"tier":        rule.Tier.String(),
			"resource":    rule.ResourcePattern,
			"version":     rule.Version,
		})
	}
	return nil
}

// ListRules returns the rules for a principal, or the tier templates when
// principalID is empty.
func (a *AdminCore) ListRules(ctx context.Context, tier Tier, principalID string) ([]*RateLimitRule, error) {
	if a == nil || a.rules == nil {
		return nil, Wrap(CodeConfigurationMissing, "rule table is not configured", nil)
	}
	if principalID != "" {
		return a.rules.ListForPrincipal(principalID), nil
	}
	return a.rules.ListForTier(tier), nil
}

func scopeLabel(scope OverrideScope) string {
	switch {
	case scope.Global:
		return "global"
	case scope.PrincipalID != "":
		return "principal:" + scope.PrincipalID
	case scope.EventID != "":
		return "event:" + scope.EventID
	default:
		return "none"
	}
}
