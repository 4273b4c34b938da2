package detect

import (
	"sort"
	"sync"

	"esports-insights/internal/match"
)

const (
	EconomyCrashDrop       = 10000 // Credits lost over the two-round window, exclusive
	EconomyCrashCeiling    = 5000  // Credits after the drop, exclusive
	EconomyCrashConfidence = 0.8   // Fixed confidence for ECONOMY_CRASH
)

type economyMemory struct {
	round   int
	current map[string]int // credits this round, last ROUND_START or ECONOMY_UPDATE
	prior   map[string]int // credits as of the previous ROUND_END
}

// EconomyCrash flags a team whose bank collapsed between two rounds
type EconomyCrash struct {
	ids IDFunc

	mu     sync.Mutex
	memory map[string]*economyMemory
}

// NewEconomyCrash creates the detector
func NewEconomyCrash(ids IDFunc) *EconomyCrash {
	return &EconomyCrash{ids: ids, memory: make(map[string]*economyMemory)}
}

func (d *EconomyCrash) Name() string { return "economy_crash" }

func (d *EconomyCrash) Observe(evt match.CanonicalEvent) []match.AgentSignal {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.memory[evt.MatchID]
	if !ok {
		m = &economyMemory{current: map[string]int{}}
		d.memory[evt.MatchID] = m
	}

	switch p := evt.Payload.(type) {
	case match.RoundStartPayload:
		m.round = p.Round
		m.current = match.CopyIntMap(p.Economy)

	case match.EconomyUpdatePayload:
		if m.current == nil {
			m.current = make(map[string]int, len(p.Economy))
		}
		for team, credits := range p.Economy {
			m.current[team] = credits
		}

	case match.RoundEndPayload:
		var out []match.AgentSignal
		if m.prior != nil {
			teams := make([]string, 0, len(m.current))
			for team := range m.current {
				teams = append(teams, team)
			}
			sort.Strings(teams)

			for _, team := range teams {
				before, seen := m.prior[team]
				after := m.current[team]
				if !seen || before-after <= EconomyCrashDrop || after >= EconomyCrashCeiling {
					continue
				}
				out = append(out, newSignal(d.ids, d.Name(), evt, match.SignalEconomyCrash, team, EconomyCrashConfidence, map[string]any{
					"economy_before": before,
					"economy_after":  after,
					"drop":           before - after,
					"round":          m.round,
				}))
			}
		}
		m.prior = match.CopyIntMap(m.current)
		return out
	}
	return nil
}

func (d *EconomyCrash) Release(matchID string) {
	d.mu.Lock()
	delete(d.memory, matchID)
	d.mu.Unlock()
}
