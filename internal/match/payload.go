package match

// Payload is the closed set of type-specific canonical payloads.
// Only the structs in this file implement it.
type Payload interface {
	EventType() EventType
	isPayload()
}

// MatchStartPayload opens a match for the given teams
type MatchStartPayload struct {
	Teams []string `json:"teams"`
}

// MapStartPayload records the map being played
type MapStartPayload struct {
	Map string `json:"map"`
}

// RoundStartPayload carries the team economy at the start of a round
type RoundStartPayload struct {
	Round       int            `json:"round"`
	Economy     map[string]int `json:"economy"`
	PlayerMoney map[string]int `json:"player_money,omitempty"` // keyed by player ref
}

// KillPayload contains kill event details
type KillPayload struct {
	Killer     string `json:"killer"` // player ref
	Victim     string `json:"victim"` // player ref
	Weapon     string `json:"weapon"`
	Headshot   bool   `json:"headshot"`
	Trade      bool   `json:"trade"`
	KillerTeam string `json:"team,omitempty"`
	VictimTeam string `json:"victim_team,omitempty"`
	Damage     int    `json:"damage,omitempty"`
}

// AssistPayload credits an assisting player
type AssistPayload struct {
	Assister string `json:"assister"` // player ref
	Victim   string `json:"victim,omitempty"`
	Team     string `json:"team,omitempty"`
}

// ObjectiveContext is the fight snapshot around a contested objective.
// Zero values mean "unknown" and contribute nothing to the score.
type ObjectiveContext struct {
	GameTimeSeconds     float64 `json:"game_time_s"`
	TeamGoldDiff        float64 `json:"team_gold_diff"`
	AllyCountNear       int     `json:"ally_count_near"`
	EnemyCountNear      int     `json:"enemy_count_near"`
	AllyAvgHPPercent    float64 `json:"ally_avg_hp_percent"`
	UltimatesUpTeam     int     `json:"sum_ultimates_up_team"`
	UltimatesUpEnemy    int     `json:"sum_ultimates_up_enemy"`
	SmiteAvailable      bool    `json:"smite_available"`
	EnemySmiteAvailable bool    `json:"enemy_smite_available"`
	ControlWardsTeam    int     `json:"control_wards_team"`
	ControlWardsEnemy   int     `json:"control_wards_enemy"`
}

// ObjectivePayload reports an objective being taken or contested
type ObjectivePayload struct {
	Objective string            `json:"objective"`
	Team      string            `json:"team,omitempty"`
	Context   *ObjectiveContext `json:"context,omitempty"`
}

// RoundEndPayload closes the open round
type RoundEndPayload struct {
	Round        int          `json:"round,omitempty"`
	Winner       string       `json:"winner"`
	WinCondition WinCondition `json:"win_condition"`
}

// MapEndPayload carries the authoritative score at the end of a map
type MapEndPayload struct {
	Map   string         `json:"map,omitempty"`
	Score map[string]int `json:"score"`
}

// MatchEndPayload closes the match
type MatchEndPayload struct {
	Winner string `json:"winner,omitempty"`
}

// EconomyUpdatePayload is a mid-round credit update per team
type EconomyUpdatePayload struct {
	Economy map[string]int `json:"economy"`
}

func (MatchStartPayload) EventType() EventType    { return EventMatchStart }
func (MapStartPayload) EventType() EventType      { return EventMapStart }
func (RoundStartPayload) EventType() EventType    { return EventRoundStart }
func (KillPayload) EventType() EventType          { return EventKill }
func (AssistPayload) EventType() EventType        { return EventAssist }
func (ObjectivePayload) EventType() EventType     { return EventObjective }
func (RoundEndPayload) EventType() EventType      { return EventRoundEnd }
func (MapEndPayload) EventType() EventType        { return EventMapEnd }
func (MatchEndPayload) EventType() EventType      { return EventMatchEnd }
func (EconomyUpdatePayload) EventType() EventType { return EventEconomyUpdate }

func (MatchStartPayload) isPayload()    {}
func (MapStartPayload) isPayload()      {}
func (RoundStartPayload) isPayload()    {}
func (KillPayload) isPayload()          {}
func (AssistPayload) isPayload()        {}
func (ObjectivePayload) isPayload()     {}
func (RoundEndPayload) isPayload()      {}
func (MapEndPayload) isPayload()        {}
func (MatchEndPayload) isPayload()      {}
func (EconomyUpdatePayload) isPayload() {}
