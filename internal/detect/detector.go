// Package detect holds the rule-based signal detectors and the engine that
// binds them to one match's canonical stream.
//
// Every threshold is a fixed constant: for a given event sequence the
// detectors emit the same signals every time.
package detect

import (
	"esports-insights/internal/match"

	"github.com/google/uuid"
)

// Detector observes canonical events for any number of matches and keeps a
// separate memory per match.
type Detector interface {
	// Name identifies the detector on emitted signals
	Name() string
	// Observe consumes one event and returns any signals it triggers
	Observe(evt match.CanonicalEvent) []match.AgentSignal
	// Release drops the memory kept for matchID
	Release(matchID string)
}

// IDFunc generates signal ids
type IDFunc func() string

// DefaultIDFunc returns random UUIDs
func DefaultIDFunc() string {
	return uuid.NewString()
}

// DefaultDetectors builds one of each detector sharing the id generator
func DefaultDetectors(ids IDFunc) []Detector {
	return []Detector{
		NewMomentum(ids),
		NewStarPlayer(ids),
		NewEconomyCrash(ids),
		NewObjectiveAdvisor(ids),
	}
}

// newSignal stamps a pending signal from the triggering event. The event
// timestamp is used so replays produce identical signals.
func newSignal(ids IDFunc, agent string, evt match.CanonicalEvent, t match.SignalType, team string, confidence float64, explanation map[string]any) match.AgentSignal {
	if ids == nil {
		ids = DefaultIDFunc
	}
	return match.AgentSignal{
		ID:          ids(),
		Agent:       agent,
		MatchID:     evt.MatchID,
		Type:        t,
		Team:        team,
		Confidence:  confidence,
		Explanation: explanation,
		Status:      match.StatusPendingReview,
		CreatedAt:   evt.Timestamp,
	}
}
