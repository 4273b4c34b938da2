package match

// PlayerMatchStats is one player's running totals within a match
type PlayerMatchStats struct {
	Kills          int     `json:"kills"`
	Deaths         int     `json:"deaths"`
	Assists        int     `json:"assists"`
	Money          int     `json:"money"`
	Damage         int     `json:"damage"`
	DamagePerRound float64 `json:"damagePerRound"`
}

// RoundState is written once when the round opens and once when it completes
type RoundState struct {
	Round           int            `json:"round"`
	StartingEconomy map[string]int `json:"startingEconomy"`
	Winner          string         `json:"winner,omitempty"`
	WinCondition    WinCondition   `json:"winCondition,omitempty"`
	Completed       bool           `json:"completed"`
}

// MatchState is the reconstructed snapshot for one match.
// Values are replaced whole on every transition; never mutate a published snapshot.
type MatchState struct {
	MatchID      string                      `json:"matchId"`
	Teams        []string                    `json:"teams"`
	Score        map[string]int              `json:"score"`
	CurrentRound int                         `json:"currentRound"`
	CurrentMap   string                      `json:"currentMap,omitempty"`
	Players      map[string]PlayerMatchStats `json:"players"`
	TeamEconomy  map[string]int              `json:"teamEconomy"`
	RoundHistory []RoundState                `json:"roundHistory"`
}

// NewMatchState creates the state produced by MATCH_START
func NewMatchState(matchID string, teams []string) *MatchState {
	score := make(map[string]int, len(teams))
	for _, t := range teams {
		score[t] = 0
	}
	return &MatchState{
		MatchID:      matchID,
		Teams:        append([]string(nil), teams...),
		Score:        score,
		Players:      make(map[string]PlayerMatchStats),
		TeamEconomy:  make(map[string]int),
		RoundHistory: []RoundState{},
	}
}

// Clone returns a deep copy
func (s *MatchState) Clone() *MatchState {
	if s == nil {
		return nil
	}
	out := *s
	out.Teams = append([]string(nil), s.Teams...)
	out.Score = CopyIntMap(s.Score)
	out.TeamEconomy = CopyIntMap(s.TeamEconomy)
	out.Players = make(map[string]PlayerMatchStats, len(s.Players))
	for id, p := range s.Players {
		out.Players[id] = p
	}
	out.RoundHistory = make([]RoundState, len(s.RoundHistory))
	for i, r := range s.RoundHistory {
		r.StartingEconomy = CopyIntMap(r.StartingEconomy)
		out.RoundHistory[i] = r
	}
	return &out
}

// HasTeam reports whether team took part in MATCH_START
func (s *MatchState) HasTeam(team string) bool {
	for _, t := range s.Teams {
		if t == team {
			return true
		}
	}
	return false
}

// OpenRoundIndex returns the index of the most recent round without a winner, or -1.
func (s *MatchState) OpenRoundIndex() int {
	for i := len(s.RoundHistory) - 1; i >= 0; i-- {
		if !s.RoundHistory[i].Completed {
			return i
		}
	}
	return -1
}

// CopyIntMap copies a string->int map; nil stays nil
func CopyIntMap(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
