// Package httptransport provides HTTP transport models.
package httptransport

import (
	"time"

	"admissiongate/internal/gateway/core"
)

type httpRequestContext struct {
	EventID         string `json:"eventID"`
	EventDate       string `json:"eventDate"`
	DeclaredUrgency string `json:"declaredUrgency"`
}

type httpAdmitRequest struct {
	RequestID   string             `json:"requestID"`
	PrincipalID string             `json:"principalID"`
	Resource    string             `json:"resource"`
	Context     httpRequestContext `json:"context"`
	Cost        int64              `json:"cost"`
}

type httpAdmitResponse struct {
	Allowed           bool   `json:"allowed"`
	Priority          string `json:"priority"`
	Upstream          string `json:"upstream,omitempty"`
	Degraded          bool   `json:"degraded"`
	FailedOpen        bool   `json:"failedOpen"`
	LeaseID           string `json:"leaseID,omitempty"`
	Reason            string `json:"reason,omitempty"`
	Remaining         int64  `json:"remaining"`
	Limit             int64  `json:"limit"`
	ResetAfterMS      int64  `json:"resetAfterMS"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds"`
}

type httpCompleteRequest struct {
	LeaseID   string `json:"leaseID"`
	Success   bool   `json:"success"`
	LatencyMS int64  `json:"latencyMS"`
}

type httpOverrideRequest struct {
	Global          bool    `json:"global"`
	PrincipalID     string  `json:"principalID"`
	EventID         string  `json:"eventID"`
	QuotaMultiplier float64 `json:"quotaMultiplier"`
	PriorityFloor   string  `json:"priorityFloor"`
	PriorityCeiling string  `json:"priorityCeiling"`
	TTLSeconds      int64   `json:"ttlSeconds"`
	IssuedBy        string  `json:"issuedBy"`
}

type httpOverrideResponse struct {
	ID              string    `json:"id"`
	Global          bool      `json:"global"`
	PrincipalID     string    `json:"principalID,omitempty"`
	EventID         string    `json:"eventID,omitempty"`
	QuotaMultiplier float64   `json:"quotaMultiplier,omitempty"`
	PriorityFloor   string    `json:"priorityFloor,omitempty"`
	PriorityCeiling string    `json:"priorityCeiling,omitempty"`
	ExpiresAt       time.Time `json:"expiresAt"`
	IssuedBy        string    `json:"issuedBy"`
	IssuedAt        time.Time `json:"issuedAt"`
}

type httpRuleRequest struct {
	PrincipalID        string  `json:"principalID"`
	Tier               string  `json:"tier"`
	ResourcePattern    string  `json:"resourcePattern"`
	BaseQuota          int64   `json:"baseQuota"`
	WindowMS           int64   `json:"windowMS"`
	PriorityMultiplier float64 `json:"priorityMultiplier"`
	CriticalPath       bool    `json:"criticalPath"`
	Version            int64   `json:"version"`
}

type httpRuleResponse struct {
	PrincipalID        string    `json:"principalID,omitempty"`
	Tier               string    `json:"tier"`
	ResourcePattern    string    `json:"resourcePattern"`
	BaseQuota          int64     `json:"baseQuota"`
	WindowMS           int64     `json:"windowMS"`
	PriorityMultiplier float64   `json:"priorityMultiplier"`
	CriticalPath       bool      `json:"criticalPath"`
	Version            int64     `json:"version"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func toAdmissionRequest(req httpAdmitRequest) *core.AdmissionRequest {
	return &core.AdmissionRequest{
		RequestID:   req.RequestID,
		PrincipalID: req.PrincipalID,
		Resource:    req.Resource,
		Context: core.RequestContext{
			EventID:         req.Context.EventID,
			EventDate:       req.Context.EventDate,
			DeclaredUrgency: req.Context.DeclaredUrgency,
		},
		Cost: req.Cost,
	}
}

func fromAdmissionDecision(decision *core.AdmissionDecision) httpAdmitResponse {
	if decision == nil {
		return httpAdmitResponse{}
	}
	retryAfter := int64(decision.RetryAfter / time.Second)
	if decision.RetryAfter > 0 && retryAfter == 0 {
		retryAfter = 1
	}
	return httpAdmitResponse{
		Allowed:           decision.Allowed,
		Priority:          decision.Priority.String(),
		Upstream:          decision.Upstream,
		Degraded:          decision.Degraded,
		FailedOpen:        decision.FailedOpen,
		LeaseID:           decision.LeaseID,
		Reason:            decision.Reason,
		Remaining:         decision.Remaining,
		Limit:             decision.Limit,
		ResetAfterMS:      decision.ResetAfter.Milliseconds(),
		RetryAfterSeconds: retryAfter,
	}
}

func toOverride(req httpOverrideRequest, now time.Time) *core.Override {
	floor := core.PriorityNone
	if parsed, ok := core.ParsePriority(req.PriorityFloor); ok {
		floor = parsed
	}
	ceiling := core.PriorityNone
	if parsed, ok := core.ParsePriority(req.PriorityCeiling); ok {
		ceiling = parsed
	}
	return &core.Override{
		Scope: core.OverrideScope{
			Global:      req.Global,
			PrincipalID: req.PrincipalID,
			EventID:     req.EventID,
		},
		Effect: core.OverrideEffect{
			QuotaMultiplier: req.QuotaMultiplier,
			PriorityFloor:   floor,
			PriorityCeiling: ceiling,
		},
		ExpiresAt: now.Add(time.Duration(req.TTLSeconds) * time.Second),
		IssuedBy:  req.IssuedBy,
	}
}

func fromOverride(ov *core.Override) httpOverrideResponse {
	if ov == nil {
		return httpOverrideResponse{}
	}
	resp := httpOverrideResponse{
		ID:              ov.ID,
		Global:          ov.Scope.Global,
		PrincipalID:     ov.Scope.PrincipalID,
		EventID:         ov.Scope.EventID,
		QuotaMultiplier: ov.Effect.QuotaMultiplier,
		ExpiresAt:       ov.ExpiresAt,
		IssuedBy:        ov.IssuedBy,
		IssuedAt:        ov.IssuedAt,
	}
	if ov.Effect.PriorityFloor != core.PriorityNone {
		resp.PriorityFloor = ov.Effect.PriorityFloor.String()
	}
	if ov.Effect.PriorityCeiling != core.PriorityNone {
		resp.PriorityCeiling = ov.Effect.PriorityCeiling.String()
	}
	return resp
}

func toRule(req httpRuleRequest) (*core.RateLimitRule, bool) {
	tier, ok := core.ParseTier(req.Tier)
	if req.Tier != "" && !ok {
		return nil, false
	}
	return &core.RateLimitRule{
		PrincipalID:        req.PrincipalID,
		Tier:               tier,
		ResourcePattern:    req.ResourcePattern,
		BaseQuota:          req.BaseQuota,
		Window:             time.Duration(req.WindowMS) * time.Millisecond,
		PriorityMultiplier: req.PriorityMultiplier,
		CriticalPath:       req.CriticalPath,
		Version:            req.Version,
	}, true
}

func fromRule(rule *core.RateLimitRule) httpRuleResponse {
	if rule == nil {
		return httpRuleResponse{}
	}
	return httpRuleResponse{
		PrincipalID:        rule.PrincipalID,
		Tier:               rule.Tier.String(),
		ResourcePattern:    rule.ResourcePattern,
		BaseQuota:          rule.BaseQuota,
		WindowMS:           rule.Window.Milliseconds(),
		PriorityMultiplier: rule.PriorityMultiplier,
		CriticalPath:       rule.CriticalPath,
		Version:            rule.Version,
		UpdatedAt:          rule.UpdatedAt,
	}
}
