package detect

import (
	"fmt"
	"math"
	"strings"

	"esports-insights/internal/match"
)

// Decision is the advice attached to an objective recommendation
type Decision string

const (
	DecisionSecure  Decision = "SECURE"
	DecisionContest Decision = "CONTEST"
	DecisionAvoid   Decision = "AVOID"
)

const (
	EarlyGameThresholdSeconds = 180  // Before this game time the advice is always AVOID
	ObjectiveMinProbability   = 0.02 // Clamp floor for the success probability
	ObjectiveMaxProbability   = 0.98 // Clamp ceiling for the success probability
	MajorObjectivePenalty     = 0.1  // Subtracted for the higher-stakes tier
)

// factor weights
const (
	numbersPerHead  = 0.125
	numbersCap      = 0.25
	visionPerWard   = 0.1
	visionCap       = 0.2
	goldReference   = 10000.0
	goldWeight      = 0.15
	ultimatesPerUlt = 0.1
	ultimatesCap    = 0.2
	smiteEdge       = 0.1
	healthWeight    = 0.1
	baseProbability = 0.5
)

// objectiveProfile is the payoff table for one objective
type objectiveProfile struct {
	Value     float64 // payoff when secured
	Cost      float64 // penalty when the attempt fails
	Secure    float64 // probability needed to advise SECURE
	Contest   float64 // probability needed to advise CONTEST
	MajorTier bool
}

var objectiveProfiles = map[string]objectiveProfile{
	"dragon":       {Value: 1.0, Cost: 0.5, Secure: 0.6, Contest: 0.45},
	"herald":       {Value: 0.8, Cost: 0.4, Secure: 0.55, Contest: 0.4},
	"rift_herald":  {Value: 0.8, Cost: 0.4, Secure: 0.55, Contest: 0.4},
	"baron":        {Value: 2.0, Cost: 1.5, Secure: 0.65, Contest: 0.5, MajorTier: true},
	"baron_nashor": {Value: 2.0, Cost: 1.5, Secure: 0.65, Contest: 0.5, MajorTier: true},
	"elder":        {Value: 2.5, Cost: 1.5, Secure: 0.65, Contest: 0.5, MajorTier: true},
	"elder_dragon": {Value: 2.5, Cost: 1.5, Secure: 0.65, Contest: 0.5, MajorTier: true},
}

func profileFor(objective string) objectiveProfile {
	if p, ok := objectiveProfiles[strings.ToLower(objective)]; ok {
		return p
	}
	return objectiveProfiles["dragon"]
}

// Recommendation is the full objective decision
type Recommendation struct {
	Objective     string   `json:"objective"`
	Decision      Decision `json:"recommendation"`
	Probability   float64  `json:"success_probability"`
	Confidence    float64  `json:"confidence"`
	ExpectedValue float64  `json:"expected_value"`
	Rationale     []string `json:"rationale"`
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Recommend scores the fight around an objective and picks SECURE, CONTEST or AVOID
func Recommend(objective string, c match.ObjectiveContext) Recommendation {
	profile := profileFor(objective)
	var rationale []string

	numbers := clamp(float64(c.AllyCountNear-c.EnemyCountNear)*numbersPerHead, -numbersCap, numbersCap)
	switch {
	case numbers > 0:
		rationale = append(rationale, fmt.Sprintf("Numbers advantage (%dv%d)", c.AllyCountNear, c.EnemyCountNear))
	case numbers < 0:
		rationale = append(rationale, fmt.Sprintf("Outnumbered (%dv%d)", c.AllyCountNear, c.EnemyCountNear))
	}

	vision := clamp(float64(c.ControlWardsTeam-c.ControlWardsEnemy)*visionPerWard, -visionCap, visionCap)
	switch {
	case vision > 0:
		rationale = append(rationale, fmt.Sprintf("Vision control (+%d wards)", c.ControlWardsTeam-c.ControlWardsEnemy))
	case vision < 0:
		rationale = append(rationale, fmt.Sprintf("Enemy vision control (%d wards)", c.ControlWardsTeam-c.ControlWardsEnemy))
	}

	gold := clamp(c.TeamGoldDiff/goldReference, -1, 1) * goldWeight
	switch {
	case gold > 0:
		rationale = append(rationale, fmt.Sprintf("Gold lead of %.0f", c.TeamGoldDiff))
	case gold < 0:
		rationale = append(rationale, fmt.Sprintf("Gold deficit of %.0f", -c.TeamGoldDiff))
	}

	ults := clamp(float64(c.UltimatesUpTeam-c.UltimatesUpEnemy)*ultimatesPerUlt, -ultimatesCap, ultimatesCap)
	switch {
	case ults > 0:
		rationale = append(rationale, fmt.Sprintf("More ultimates available (+%d)", c.UltimatesUpTeam-c.UltimatesUpEnemy))
	case ults < 0:
		rationale = append(rationale, fmt.Sprintf("Fewer ultimates available (%d)", c.UltimatesUpTeam-c.UltimatesUpEnemy))
	}

	var smite float64
	switch {
	case c.SmiteAvailable && !c.EnemySmiteAvailable:
		smite = smiteEdge
		rationale = append(rationale, "Smite advantage")
	case !c.SmiteAvailable && c.EnemySmiteAvailable:
		smite = -smiteEdge
		rationale = append(rationale, "Enemy holds smite")
	}

	health := clamp(c.AllyAvgHPPercent, 0, 100) / 100 * healthWeight
	if c.AllyAvgHPPercent >= 70 {
		rationale = append(rationale, fmt.Sprintf("Team healthy (%.0f%% HP)", c.AllyAvgHPPercent))
	} else if c.AllyAvgHPPercent > 0 && c.AllyAvgHPPercent < 40 {
		rationale = append(rationale, fmt.Sprintf("Team low on health (%.0f%% HP)", c.AllyAvgHPPercent))
	}

	score := baseProbability + numbers + vision + gold + ults + smite + health
	if profile.MajorTier {
		score -= MajorObjectivePenalty
	}
	p := clamp(score, ObjectiveMinProbability, ObjectiveMaxProbability)
	ev := p*profile.Value - (1-p)*profile.Cost

	decision := DecisionAvoid
	switch {
	case c.GameTimeSeconds < EarlyGameThresholdSeconds:
		rationale = append(rationale, fmt.Sprintf("Too early in the game (%.0fs)", c.GameTimeSeconds))
	case p >= profile.Secure && ev > 0:
		decision = DecisionSecure
	case p >= profile.Contest:
		decision = DecisionContest
	}

	confidence := p
	if decision == DecisionAvoid {
		confidence = 1 - p
	}

	return Recommendation{
		Objective:     strings.ToLower(objective),
		Decision:      decision,
		Probability:   p,
		Confidence:    confidence,
		ExpectedValue: ev,
		Rationale:     rationale,
	}
}

// ObjectiveAdvisor turns OBJECTIVE events with fight context into recommendations
type ObjectiveAdvisor struct {
	ids IDFunc
}

// NewObjectiveAdvisor creates the detector
func NewObjectiveAdvisor(ids IDFunc) *ObjectiveAdvisor {
	return &ObjectiveAdvisor{ids: ids}
}

func (d *ObjectiveAdvisor) Name() string { return "objective_advisor" }

func (d *ObjectiveAdvisor) Observe(evt match.CanonicalEvent) []match.AgentSignal {
	p, ok := evt.Payload.(match.ObjectivePayload)
	if !ok || p.Context == nil {
		return nil
	}
	rec := Recommend(p.Objective, *p.Context)
	return []match.AgentSignal{newSignal(d.ids, d.Name(), evt, match.SignalObjectiveRecommendation, p.Team, rec.Confidence, map[string]any{
		"objective":           rec.Objective,
		"recommendation":      string(rec.Decision),
		"success_probability": rec.Probability,
		"expected_value":      rec.ExpectedValue,
		"rationale":           rec.Rationale,
		"game_time_s":         p.Context.GameTimeSeconds,
	})}
}

// Release is a no-op; recommendations keep no per-match memory
func (d *ObjectiveAdvisor) Release(string) {}
