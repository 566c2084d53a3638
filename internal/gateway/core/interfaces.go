// Package core defines the service contracts served by transports.
package core

import (
	"context"
	"time"
)

// AdmissionService decides whether requests are admitted.
type AdmissionService interface {
	Admit(ctx context.Context, req *AdmissionRequest) (*AdmissionDecision, error)
	Complete(ctx context.Context, leaseID string, success bool, latency time.Duration) error
}

// AdminService serves operator changes to overrides and rules.
type AdminService interface {
	CreateOverride(ctx context.Context, ov *Override) (*Override, error)
	ExpireOverride(ctx context.Context, id string) error
	ListOverrides(ctx context.Context) ([]*Override, error)
	UpsertRule(ctx context.Context, rule *RateLimitRule) error
	ListRules(ctx context.Context, tier Tier, principalID string) ([]*RateLimitRule, error)
}
