package match

import "time"

// SignalType classifies a candidate insight
type SignalType string

const (
	SignalMomentumShift           SignalType = "MOMENTUM_SHIFT"
	SignalStarPlayer              SignalType = "STAR_PLAYER"
	SignalEconomyCrash            SignalType = "ECONOMY_CRASH"
	SignalObjectiveRecommendation SignalType = "OBJECTIVE_RECOMMENDATION"
)

// SignalStatus is the review lifecycle of a signal
type SignalStatus string

const (
	StatusPendingReview SignalStatus = "PENDING_REVIEW"
	StatusApproved      SignalStatus = "APPROVED"
	StatusRejected      SignalStatus = "REJECTED"
)

// Terminal reports whether the status can no longer change
func (s SignalStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// AgentSignal is a candidate insight raised by a detector.
// It moves from PENDING_REVIEW to a terminal status exactly once.
type AgentSignal struct {
	ID          string         `json:"id"`
	Agent       string         `json:"agent"`
	MatchID     string         `json:"matchId"`
	Type        SignalType     `json:"type"`
	Team        string         `json:"team,omitempty"`
	Confidence  float64        `json:"confidence"`
	Explanation map[string]any `json:"explanation"`
	Status      SignalStatus   `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	ReviewedBy  string         `json:"reviewedBy,omitempty"`
	ReviewedAt  *time.Time     `json:"reviewedAt,omitempty"`
}
