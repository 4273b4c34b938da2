package detect

import (
	"sync"

	"esports-insights/internal/match"
)

const (
	MomentumKillWindow   = 3    // Consecutive same-team kills in a round
	MomentumMinWinStreak = 3    // Round-win streak required before the kill run counts
	MomentumConfidence   = 0.87 // Fixed confidence for MOMENTUM_SHIFT
)

type momentumMemory struct {
	round     int
	roundKill []string       // killer team per kill, current round only
	streaks   map[string]int // consecutive round wins per team
	emitted   map[string]bool
}

// Momentum flags a team that strings kills together while on a win streak
type Momentum struct {
	ids IDFunc

	mu     sync.Mutex
	memory map[string]*momentumMemory
}

// NewMomentum creates the detector
func NewMomentum(ids IDFunc) *Momentum {
	return &Momentum{ids: ids, memory: make(map[string]*momentumMemory)}
}

func (d *Momentum) Name() string { return "momentum" }

func (d *Momentum) mem(matchID string) *momentumMemory {
	m, ok := d.memory[matchID]
	if !ok {
		m = &momentumMemory{streaks: make(map[string]int), emitted: make(map[string]bool)}
		d.memory[matchID] = m
	}
	return m
}

// SeedStreak carries a round-win streak in from before ingestion started,
// e.g. the previous map of a series.
func (d *Momentum) SeedStreak(matchID, team string, streak int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mem(matchID).streaks[team] = streak
}

// Streak returns the recorded win streak for team
func (d *Momentum) Streak(matchID, team string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m, ok := d.memory[matchID]; ok {
		return m.streaks[team]
	}
	return 0
}

func (d *Momentum) Observe(evt match.CanonicalEvent) []match.AgentSignal {
	d.mu.Lock()
	defer d.mu.Unlock()

	m := d.mem(evt.MatchID)

	switch p := evt.Payload.(type) {
	case match.MatchStartPayload:
		for _, team := range p.Teams {
			if _, ok := m.streaks[team]; !ok {
				m.streaks[team] = 0
			}
		}

	case match.RoundStartPayload:
		m.round = p.Round
		m.roundKill = m.roundKill[:0]
		m.emitted = make(map[string]bool)

	case match.RoundEndPayload:
		for team := range m.streaks {
			if team != p.Winner {
				m.streaks[team] = 0
			}
		}
		m.streaks[p.Winner]++

	case match.KillPayload:
		team := evt.Team
		if team == "" {
			team = p.KillerTeam
		}
		m.roundKill = append(m.roundKill, team)
		if team == "" || m.emitted[team] || !lastKillsBy(m.roundKill, team, MomentumKillWindow) {
			return nil
		}
		streak := m.streaks[team]
		if streak < MomentumMinWinStreak {
			return nil
		}
		m.emitted[team] = true
		return []match.AgentSignal{newSignal(d.ids, d.Name(), evt, match.SignalMomentumShift, team, MomentumConfidence, map[string]any{
			"rounds_won": streak,
			"key_player": evt.Actor,
			"kill_run":   MomentumKillWindow,
			"round":      m.round,
		})}
	}
	return nil
}

// lastKillsBy reports whether the last n kills were all by team
func lastKillsBy(kills []string, team string, n int) bool {
	if len(kills) < n {
		return false
	}
	for _, k := range kills[len(kills)-n:] {
		if k != team {
			return false
		}
	}
	return true
}

func (d *Momentum) Release(matchID string) {
	d.mu.Lock()
	delete(d.memory, matchID)
	d.mu.Unlock()
}
