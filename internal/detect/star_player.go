package detect

import (
	"sync"

	"esports-insights/internal/match"
)

const (
	StarMinRounds       = 3    // Rounds of history before a player can qualify
	StarPlayersPerRound = 5    // Fixed per-round population estimate
	StarKillShare       = 0.3  // Minimum kills / (rounds * 5), inclusive
	StarOpeningRate     = 0.2  // Minimum opening kills / rounds, inclusive
	StarConfidence      = 0.75 // Fixed confidence for STAR_PLAYER
)

const (
	starImpactKillWeight = 0.7
	starImpactOpenWeight = 0.3
)

type starMemory struct {
	rounds     int
	roundKills int // kills recorded in the current round
	kills      map[string]int
	openings   map[string]int
	emitted    map[string]bool // per round
}

// StarPlayer flags a player carrying both the frag count and the opening duels
type StarPlayer struct {
	ids IDFunc

	mu     sync.Mutex
	memory map[string]*starMemory
}

// NewStarPlayer creates the detector
func NewStarPlayer(ids IDFunc) *StarPlayer {
	return &StarPlayer{ids: ids, memory: make(map[string]*starMemory)}
}

func (d *StarPlayer) Name() string { return "star_player" }

// qualifiesStar applies both thresholds; the boundaries are inclusive
func qualifiesStar(killShare, openingRate float64) bool {
	return killShare >= StarKillShare && openingRate >= StarOpeningRate
}

func (d *StarPlayer) Observe(evt match.CanonicalEvent) []match.AgentSignal {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.memory[evt.MatchID]
	if !ok {
		m = &starMemory{kills: make(map[string]int), openings: make(map[string]int), emitted: make(map[string]bool)}
		d.memory[evt.MatchID] = m
	}

	switch evt.Payload.(type) {
	case match.RoundStartPayload:
		m.rounds++
		m.roundKills = 0
		m.emitted = make(map[string]bool)

	case match.KillPayload:
		m.roundKills++
		player := evt.Actor
		if player == "" {
			return nil
		}
		m.kills[player]++
		if m.roundKills == 1 {
			m.openings[player]++
		}
		if m.rounds < StarMinRounds || m.emitted[player] {
			return nil
		}

		killShare := float64(m.kills[player]) / float64(m.rounds*StarPlayersPerRound)
		openingRate := float64(m.openings[player]) / float64(m.rounds)
		if !qualifiesStar(killShare, openingRate) {
			return nil
		}
		m.emitted[player] = true
		impact := starImpactKillWeight*killShare + starImpactOpenWeight*openingRate
		return []match.AgentSignal{newSignal(d.ids, d.Name(), evt, match.SignalStarPlayer, evt.Team, StarConfidence, map[string]any{
			"player":        player,
			"kill_share":    killShare,
			"opening_rate":  openingRate,
			"impact_score":  impact,
			"kills":         m.kills[player],
			"opening_kills": m.openings[player],
			"rounds_played": m.rounds,
		})}
	}
	return nil
}

func (d *StarPlayer) Release(matchID string) {
	d.mu.Lock()
	delete(d.memory, matchID)
	d.mu.Unlock()
}
