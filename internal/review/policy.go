package review

import (
	"time"

	"esports-insights/internal/match"
)

// Release labelling
const (
	LabelAnalysisOnly   = "ANALYSIS_ONLY"
	AudienceAnalyst     = "ANALYST"
	AudienceEducational = "EDUCATIONAL"
	PolicyVersion       = "1.0"

	DefaultReleaseDelay = 120 * time.Second
)

// ReleasePolicy decides when an approved signal may leave the building.
// Delays keep insights from being actionable while the play is still live.
type ReleasePolicy struct {
	Delays       map[match.SignalType]time.Duration
	DefaultDelay time.Duration
}

// DefaultReleasePolicy returns the per-type minimum delays
func DefaultReleasePolicy() ReleasePolicy {
	return ReleasePolicy{
		Delays: map[match.SignalType]time.Duration{
			match.SignalMomentumShift: 120 * time.Second,
			match.SignalStarPlayer:    60 * time.Second,
			match.SignalEconomyCrash:  90 * time.Second,
		},
		DefaultDelay: DefaultReleaseDelay,
	}
}

// Delay returns the minimum age of a signal of type t before release
func (p ReleasePolicy) Delay(t match.SignalType) time.Duration {
	if d, ok := p.Delays[t]; ok {
		return d
	}
	if p.DefaultDelay > 0 {
		return p.DefaultDelay
	}
	return DefaultReleaseDelay
}

// Insight is an approved signal cleared for downstream consumers
type Insight struct {
	Signal        match.AgentSignal `json:"signal"`
	Label         string            `json:"label"`
	Audience      []string          `json:"audience"`
	PolicyVersion string            `json:"policyVersion"`
	ReleasedAt    time.Time         `json:"releasedAt"`
}

// Release returns the insight for sig if it is approved and old enough at now
func (p ReleasePolicy) Release(sig match.AgentSignal, now time.Time) (Insight, bool) {
	if sig.Status != match.StatusApproved {
		return Insight{}, false
	}
	at := sig.CreatedAt.Add(p.Delay(sig.Type))
	if now.Before(at) {
		return Insight{}, false
	}
	return Insight{
		Signal:        sig,
		Label:         LabelAnalysisOnly,
		Audience:      []string{AudienceAnalyst, AudienceEducational},
		PolicyVersion: PolicyVersion,
		ReleasedAt:    at,
	}, true
}
