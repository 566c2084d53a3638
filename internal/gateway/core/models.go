// Package core defines admission request, principal, and decision models.
package core

import "time"

// Tier is the ordered subscription tier of a principal.
type Tier int

const (
	TierFree Tier = iota
	TierStandard
	TierPremium
	TierEnterprise
)

// String returns the tier label.
func (t Tier) String() string {
	switch t {
	case TierFree:
		return "free"
	case TierStandard:
		return "standard"
	case TierPremium:
		return "premium"
	case TierEnterprise:
		return "enterprise"
	default:
		return "unknown"
	}
}

// ParseTier parses a tier label.
func ParseTier(s string) (Tier, bool) {
	switch s {
	case "free":
		return TierFree, true
	case "standard":
		return TierStandard, true
	case "premium":
		return TierPremium, true
	case "enterprise":
		return TierEnterprise, true
	default:
		return TierFree, false
	}
}

// PriorityClass is the ordered scheduling class attached to a request.
type PriorityClass int

const (
	// PriorityNone marks an unset floor or ceiling on an override effect.
	PriorityNone PriorityClass = iota - 1
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the priority label.
func (p PriorityClass) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "none"
	}
}

// ParsePriority parses a priority label.
func ParsePriority(s string) (PriorityClass, bool) {
	switch s {
	case "low":
		return PriorityLow, true
	case "normal":
		return PriorityNormal, true
	case "high":
		return PriorityHigh, true
	case "critical":
		return PriorityCritical, true
	default:
		return PriorityNone, false
	}
}

// Principal is an authenticated caller of the gateway.
type Principal struct {
	ID       string
	Tier     Tier
	EventIDs []string
}

// RateLimitRule describes one quota policy. A rule either belongs to a tier
// template (PrincipalID empty) or to a single principal.
type RateLimitRule struct {
	PrincipalID        string
	Tier               Tier
	ResourcePattern    string
	BaseQuota          int64
	Window             time.Duration
	PriorityMultiplier float64
	CriticalPath       bool
	Version            int64
	UpdatedAt          time.Time
}

// RequestContext carries the caller-declared context of one request.
type RequestContext struct {
	EventID         string
	EventDate       string
	DeclaredUrgency string
}

// AdmissionRequest captures a single admission decision request.
type AdmissionRequest struct {
	RequestID   string
	PrincipalID string
	Resource    string
	Context     RequestContext
	Cost        int64
}

// Rejection reasons surfaced on denied decisions.
const (
	ReasonQuotaExceeded        = "quota_exceeded"
	ReasonNoHealthyUpstream    = "no_healthy_upstream"
	ReasonUpstreamSaturated    = "upstream_saturated"
	ReasonConfigurationMissing = "configuration_missing"
	ReasonStoreUnavailable     = "store_unavailable"
	ReasonInvalidRequest       = "invalid_request"
)

// AdmissionDecision reports the outcome of one admission request.
type AdmissionDecision struct {
	Allowed    bool
	Priority   PriorityClass
	Upstream   string
	Degraded   bool
	FailedOpen bool
	LeaseID    string
	Reason     string
	Remaining  int64
	Limit      int64
	ResetAfter time.Duration
	RetryAfter time.Duration
}

// QuotaDecision is the ledger's verdict for one consume attempt.
type QuotaDecision struct {
	Allowed    bool
	Remaining  int64
	Limit      int64
	ResetAfter time.Duration
	RetryAfter time.Duration
	FailedOpen bool
}

// UpstreamService is a named backend dependency of the gateway.
type UpstreamService struct {
	ID               string
	ProbeTarget      string
	FailureRatio     float64
	MinSamples       int64
	RecoveryTimeout  time.Duration
	HalfOpenProbes   int64
	CriticalPath     bool
	Slots            int64
	ReservedFraction float64
	TrickleRPS       float64
	TrickleBurst     int
}

// RouteConfig maps a resource pattern to its candidate upstreams.
type RouteConfig struct {
	ResourcePattern string
	Upstreams       []string
	Fallback        string
}
