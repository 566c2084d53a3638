// Package core provides request priority classification.
package core

import "time"

// eventDateLayout is the wire format of RequestContext.EventDate.
const eventDateLayout = "2006-01-02"

// Classification is the derived priority of one request.
type Classification struct {
	Class           PriorityClass
	QuotaMultiplier float64
	EventDay        bool
	InvalidContext  bool
}

// PriorityClassifier derives a request's priority class from principal tier,
// declared event context, and active overrides. Classify is deterministic
// and side-effect-free.
type PriorityClassifier struct {
	overrides *OverrideRegistry
	now       func() time.Time
}

// NewPriorityClassifier constructs a classifier.
func NewPriorityClassifier(overrides *OverrideRegistry, now func() time.Time) *PriorityClassifier {
	if now == nil {
		now = time.Now
	}
	return &PriorityClassifier{overrides: overrides, now: now}
}

// Classify computes the priority class for a request. Floors accumulate by
// taking the maximum; ceilings clamp last.
func (c *PriorityClassifier) Classify(principal *Principal, reqCtx RequestContext) Classification {
	cls := Classification{Class: PriorityLow, QuotaMultiplier: 1}
	if c == nil || principal == nil {
		return cls
	}
	cls.Class = baseClassForTier(principal.Tier)

	eventDay, invalid := c.eventDay(reqCtx)
	cls.EventDay = eventDay
	cls.InvalidContext = invalid
	if eventDay {
		if cls.Class < PriorityHigh {
			cls.Class = PriorityHigh
		}
		// Declared urgency only takes effect on a verified event day.
		if reqCtx.DeclaredUrgency == "critical" {
			cls.Class = PriorityCritical
		}
	}

	ceiling := PriorityNone
	if c.overrides != nil {
		for _, ov := range c.overrides.ActiveFor(principal.ID, principal.EventIDs) {
			if ov.Effect.PriorityFloor != PriorityNone && ov.Effect.PriorityFloor > cls.Class {
				cls.Class = ov.Effect.PriorityFloor
			}
			if ov.Effect.PriorityCeiling != PriorityNone {
				if ceiling == PriorityNone || ov.Effect.PriorityCeiling < ceiling {
					ceiling = ov.Effect.PriorityCeiling
				}
			}
			if ov.Effect.QuotaMultiplier > cls.QuotaMultiplier {
				cls.QuotaMultiplier = ov.Effect.QuotaMultiplier
			}
		}
	}
	if ceiling != PriorityNone && cls.Class > ceiling {
		cls.Class = ceiling
	}
	return cls
}

// eventDay reports whether the declared event date is today. A malformed or
// missing date is never promoted: the second result flags a malformed value
// so the caller can log it.
func (c *PriorityClassifier) eventDay(reqCtx RequestContext) (bool, bool) {
	if reqCtx.EventID == "" || reqCtx.EventDate == "" {
		return false, reqCtx.EventDate != "" && reqCtx.EventID == ""
	}
	eventDate, err := time.Parse(eventDateLayout, reqCtx.EventDate)
	if err != nil {
		return false, true
	}
	today := c.now().UTC()
	sameDay := eventDate.Year() == today.Year() && eventDate.Month() == today.Month() && eventDate.Day() == today.Day()
	return sameDay, false
}

func baseClassForTier(tier Tier) PriorityClass {
	switch tier {
	case TierFree:
		return PriorityLow
	case TierStandard, TierPremium:
		return PriorityNormal
	case TierEnterprise:
		return PriorityHigh
	default:
		return PriorityLow
	}
}
