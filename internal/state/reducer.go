// Package state folds canonical events into per-match snapshots.
//
// Reduce is pure: it never reads the clock or any global, and it never
// mutates the prior snapshot. Each transition clones the prior state and
// returns the new value whole.
package state

import (
	"fmt"
	"sort"
	"strings"

	"esports-insights/internal/match"
)

// Reduce applies one event to prior. prior is nil for a match that has not
// seen MATCH_START yet. On error the returned state is prior, untouched.
func Reduce(prior *match.MatchState, evt match.CanonicalEvent) (*match.MatchState, error) {
	if evt.Type == match.EventMatchStart {
		return reduceMatchStart(prior, evt)
	}
	if prior == nil {
		return nil, stateErr(evt, "no MATCH_START seen for this match")
	}
	if prior.MatchID != evt.MatchID {
		return prior, stateErr(evt, fmt.Sprintf("event belongs to match %s", prior.MatchID))
	}

	next := prior.Clone()
	var err error

	switch p := evt.Payload.(type) {
	case match.MapStartPayload:
		err = applyMapStart(next, evt, p)
	case match.RoundStartPayload:
		err = applyRoundStart(next, evt, p)
	case match.KillPayload:
		err = applyKill(next, evt, p)
	case match.AssistPayload:
		err = applyAssist(next, evt)
	case match.RoundEndPayload:
		err = applyRoundEnd(next, evt, p)
	case match.MapEndPayload:
		err = applyMapEnd(next, evt, p)
	case match.ObjectivePayload, match.EconomyUpdatePayload, match.MatchEndPayload:
		// observed only; detectors consume these
		return prior, checkPayloadType(evt)
	case match.MatchStartPayload:
		err = stateErr(evt, "MATCH_START payload on a non MATCH_START event")
	default:
		err = stateErr(evt, fmt.Sprintf("unsupported payload %T", evt.Payload))
	}
	if err == nil {
		err = checkPayloadType(evt)
	}
	if err != nil {
		return prior, err
	}
	return next, nil
}

func stateErr(evt match.CanonicalEvent, reason string) error {
	return &match.StateError{MatchID: evt.MatchID, EventType: evt.Type, Reason: reason}
}

func checkPayloadType(evt match.CanonicalEvent) error {
	if evt.Payload == nil || evt.Payload.EventType() != evt.Type {
		return stateErr(evt, "payload shape does not match event type")
	}
	return nil
}

// reduceMatchStart creates the state. A repeated MATCH_START with the same
// team set is a no-op; different teams are a caller error.
func reduceMatchStart(prior *match.MatchState, evt match.CanonicalEvent) (*match.MatchState, error) {
	p, ok := evt.Payload.(match.MatchStartPayload)
	if !ok {
		return prior, stateErr(evt, "payload shape does not match event type")
	}
	if err := checkTeams(p.Teams); err != nil {
		return prior, stateErr(evt, err.Error())
	}
	if prior != nil {
		if prior.MatchID != evt.MatchID {
			return prior, stateErr(evt, fmt.Sprintf("event belongs to match %s", prior.MatchID))
		}
		if sameTeams(prior.Teams, p.Teams) {
			return prior, nil
		}
		return prior, stateErr(evt, fmt.Sprintf("match already started with teams %v", prior.Teams))
	}
	return match.NewMatchState(evt.MatchID, p.Teams), nil
}

func checkTeams(teams []string) error {
	if len(teams) == 0 {
		return fmt.Errorf("teams must not be empty")
	}
	seen := make(map[string]bool, len(teams))
	for _, t := range teams {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("team names must not be empty")
		}
		if seen[t] {
			return fmt.Errorf("duplicate team %q", t)
		}
		seen[t] = true
	}
	return nil
}

func sameTeams(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func applyMapStart(s *match.MatchState, evt match.CanonicalEvent, p match.MapStartPayload) error {
	if strings.TrimSpace(p.Map) == "" {
		return stateErr(evt, "map must not be empty")
	}
	s.CurrentMap = p.Map
	return nil
}

func applyRoundStart(s *match.MatchState, evt match.CanonicalEvent, p match.RoundStartPayload) error {
	if p.Round < 1 {
		return stateErr(evt, "round must be a positive integer")
	}
	if p.Economy == nil {
		return stateErr(evt, "economy is required")
	}
	for team, credits := range p.Economy {
		if credits < 0 {
			return stateErr(evt, fmt.Sprintf("negative credits for team %s", team))
		}
	}

	s.RoundHistory = append(s.RoundHistory, match.RoundState{
		Round:           p.Round,
		StartingEconomy: match.CopyIntMap(p.Economy),
	})
	s.CurrentRound = p.Round
	s.TeamEconomy = match.CopyIntMap(p.Economy)

	for ref, money := range p.PlayerMoney {
		if money < 0 {
			return stateErr(evt, fmt.Sprintf("negative money for %s", ref))
		}
		stats := s.Players[ref]
		stats.Money = money
		s.Players[ref] = stats
	}
	refreshDamageRates(s)
	return nil
}

func applyKill(s *match.MatchState, evt match.CanonicalEvent, p match.KillPayload) error {
	killer := firstNonEmpty(evt.Actor, p.Killer)
	victim := firstNonEmpty(evt.Target, p.Victim)
	if killer == "" && victim == "" {
		return stateErr(evt, "kill needs an actor or a target")
	}
	if p.Damage < 0 {
		return stateErr(evt, "damage must not be negative")
	}

	if killer != "" {
		stats := s.Players[killer]
		stats.Kills++
		stats.Damage += p.Damage
		s.Players[killer] = stats
	}
	if victim != "" {
		stats := s.Players[victim]
		stats.Deaths++
		s.Players[victim] = stats
	}
	refreshDamageRates(s)
	return nil
}

func applyAssist(s *match.MatchState, evt match.CanonicalEvent) error {
	if evt.Actor == "" {
		return stateErr(evt, "assist needs an actor")
	}
	stats := s.Players[evt.Actor]
	stats.Assists++
	s.Players[evt.Actor] = stats
	return nil
}

func applyRoundEnd(s *match.MatchState, evt match.CanonicalEvent, p match.RoundEndPayload) error {
	if strings.TrimSpace(p.Winner) == "" {
		return stateErr(evt, "winner must not be empty")
	}
	if !p.WinCondition.Valid() {
		return stateErr(evt, fmt.Sprintf("unknown win condition %q", p.WinCondition))
	}
	if !s.HasTeam(p.Winner) {
		return stateErr(evt, fmt.Sprintf("winner %q is not in this match", p.Winner))
	}
	idx := s.OpenRoundIndex()
	if idx < 0 {
		return stateErr(evt, "no open round; ROUND_START must precede ROUND_END")
	}

	s.RoundHistory[idx].Winner = p.Winner
	s.RoundHistory[idx].WinCondition = p.WinCondition
	s.RoundHistory[idx].Completed = true
	s.Score[p.Winner]++
	return nil
}

func applyMapEnd(s *match.MatchState, evt match.CanonicalEvent, p match.MapEndPayload) error {
	if p.Score == nil {
		return stateErr(evt, "score is required")
	}
	for team, v := range p.Score {
		if v < 0 {
			return stateErr(evt, fmt.Sprintf("negative score for team %s", team))
		}
	}
	s.Score = match.CopyIntMap(p.Score)
	return nil
}

// refreshDamageRates recomputes damage per round from the rounds played so far
func refreshDamageRates(s *match.MatchState) {
	rounds := len(s.RoundHistory)
	if rounds == 0 {
		rounds = 1
	}
	for ref, stats := range s.Players {
		stats.DamagePerRound = float64(stats.Damage) / float64(rounds)
		s.Players[ref] = stats
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
