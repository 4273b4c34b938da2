// Package normalize maps validated provider packets onto the canonical event
// vocabulary. All provider-specific field mapping lives here.
package normalize

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"time"

	"esports-insights/internal/match"

	"github.com/google/uuid"
)

// eventNamespace seeds deterministic event ids for packets without a provider id
var eventNamespace = uuid.MustParse("6f1c7a52-93b4-4c1e-9d0a-5be2f1e0c3a7")

// Normalizer converts raw packets to canonical events. It holds no state.
type Normalizer struct{}

// New creates a normalizer
func New() *Normalizer {
	return &Normalizer{}
}

// fields is a decoded payload plus the context needed to report errors
type fields struct {
	pkt       match.RawEventPacket
	eventType string
	m         map[string]any
}

func (f fields) fail(field, reason string) error {
	return &match.NormalizationError{EventType: f.eventType, Field: field, Reason: reason, Packet: f.pkt}
}

// Normalize maps one raw packet to exactly one canonical event or fails with
// a *match.NormalizationError. Required fields are never defaulted.
func (n *Normalizer) Normalize(pkt match.RawEventPacket) (match.CanonicalEvent, error) {
	f := fields{pkt: pkt, eventType: pkt.PayloadType()}

	dec := json.NewDecoder(bytes.NewReader(pkt.Payload))
	dec.UseNumber()
	if err := dec.Decode(&f.m); err != nil || f.m == nil {
		return match.CanonicalEvent{}, f.fail("", "payload is not a JSON object")
	}

	if strings.TrimSpace(pkt.MatchID) == "" {
		return match.CanonicalEvent{}, f.fail("matchId", "is required")
	}

	et, ok := match.ParseEventType(f.eventType)
	if !ok {
		return match.CanonicalEvent{}, f.fail("type", "is not a recognized event type")
	}

	ts, err := f.timestamp()
	if err != nil {
		return match.CanonicalEvent{}, err
	}

	evt := match.CanonicalEvent{
		EventID:   eventID(pkt),
		Type:      et,
		MatchID:   pkt.MatchID,
		Timestamp: ts,
	}

	switch et {
	case match.EventMatchStart:
		err = f.matchStart(&evt)
	case match.EventMapStart:
		err = f.mapStart(&evt)
	case match.EventRoundStart:
		err = f.roundStart(&evt)
	case match.EventKill:
		err = f.kill(&evt)
	case match.EventAssist:
		err = f.assist(&evt)
	case match.EventObjective:
		err = f.objective(&evt)
	case match.EventRoundEnd:
		err = f.roundEnd(&evt)
	case match.EventMapEnd:
		err = f.mapEnd(&evt)
	case match.EventMatchEnd:
		err = f.matchEnd(&evt)
	case match.EventEconomyUpdate:
		err = f.economyUpdate(&evt)
	default:
		err = f.fail("type", "has no normalizer")
	}
	if err != nil {
		return match.CanonicalEvent{}, err
	}
	return evt, nil
}

func eventID(pkt match.RawEventPacket) string {
	if id := strings.TrimSpace(pkt.ProviderEventID); id != "" {
		return id
	}
	seed := pkt.MatchID + ":" + pkt.IngestionID
	if pkt.IngestionID == "" {
		// separate receipts of an identical payload stay separate events
		seed = pkt.MatchID + ":" + pkt.ReceivedAt.UTC().Format(time.RFC3339Nano) + ":" + string(pkt.Payload)
	}
	return uuid.NewSHA1(eventNamespace, []byte(seed)).String()
}

// timestamp prefers payload.timestamp (unix millis) and falls back to receivedAt
func (f fields) timestamp() (time.Time, error) {
	raw, present := f.m["timestamp"]
	if !present {
		if f.pkt.ReceivedAt.IsZero() {
			return time.Time{}, f.fail("timestamp", "is missing and packet has no receivedAt")
		}
		return f.pkt.ReceivedAt.UTC(), nil
	}
	ms, ok := toFloat(raw)
	if !ok || math.IsNaN(ms) || math.IsInf(ms, 0) || ms < 0 {
		return time.Time{}, f.fail("timestamp", "must be a finite non-negative number")
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}

func (f fields) matchStart(evt *match.CanonicalEvent) error {
	raw, ok := f.m["teams"].([]any)
	if !ok || len(raw) == 0 {
		return f.fail("teams", "must be a non-empty array of team names")
	}
	seen := make(map[string]bool, len(raw))
	teams := make([]string, 0, len(raw))
	for _, item := range raw {
		name, ok := item.(string)
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return f.fail("teams", "must not contain empty names")
		}
		if seen[name] {
			return f.fail("teams", "must not contain duplicates")
		}
		seen[name] = true
		teams = append(teams, name)
	}
	evt.Payload = match.MatchStartPayload{Teams: teams}
	return nil
}

func (f fields) mapStart(evt *match.CanonicalEvent) error {
	name, err := f.requireString("map")
	if err != nil {
		return err
	}
	evt.Payload = match.MapStartPayload{Map: name}
	return nil
}

func (f fields) roundStart(evt *match.CanonicalEvent) error {
	round, err := f.requirePositiveInt("round")
	if err != nil {
		return err
	}
	economy, err := f.requireCredits("economy")
	if err != nil {
		return err
	}
	var money map[string]int
	if _, present := f.m["player_money"]; present {
		byPlayer, err := f.requireCredits("player_money")
		if err != nil {
			return err
		}
		money = make(map[string]int, len(byPlayer))
		for id, v := range byPlayer {
			money[match.PlayerRef(id)] = v
		}
	}
	evt.Round = match.IntPtr(round)
	evt.Payload = match.RoundStartPayload{Round: round, Economy: economy, PlayerMoney: money}
	return nil
}

func (f fields) kill(evt *match.CanonicalEvent) error {
	killer, err := f.requireString("killer")
	if err != nil {
		return err
	}
	victim, err := f.requireString("victim")
	if err != nil {
		return err
	}
	weapon, err := f.requireString("weapon")
	if err != nil {
		return err
	}
	headshot, err := f.requireBool("headshot")
	if err != nil {
		return err
	}
	trade, err := f.requireBool("trade")
	if err != nil {
		return err
	}
	damage, err := f.optionalNonNegativeInt("damage")
	if err != nil {
		return err
	}
	if err := f.optionalRound(evt); err != nil {
		return err
	}

	p := match.KillPayload{
		Killer:     match.PlayerRef(killer),
		Victim:     match.PlayerRef(victim),
		Weapon:     weapon,
		Headshot:   headshot,
		Trade:      trade,
		KillerTeam: f.optionalString("team"),
		VictimTeam: f.optionalString("victim_team"),
		Damage:     damage,
	}
	evt.Actor = p.Killer
	evt.Target = p.Victim
	evt.Team = p.KillerTeam
	evt.Payload = p
	return nil
}

func (f fields) assist(evt *match.CanonicalEvent) error {
	assister, err := f.requireString("assister")
	if err != nil {
		return err
	}
	if err := f.optionalRound(evt); err != nil {
		return err
	}
	p := match.AssistPayload{
		Assister: match.PlayerRef(assister),
		Victim:   match.PlayerRef(f.optionalString("victim")),
		Team:     f.optionalString("team"),
	}
	evt.Actor = p.Assister
	evt.Target = p.Victim
	evt.Team = p.Team
	evt.Payload = p
	return nil
}

func (f fields) objective(evt *match.CanonicalEvent) error {
	name, err := f.requireString("objective")
	if err != nil {
		return err
	}
	if err := f.optionalRound(evt); err != nil {
		return err
	}
	p := match.ObjectivePayload{
		Objective: strings.ToLower(name),
		Team:      f.optionalString("team"),
	}
	if raw, present := f.m["context"]; present {
		ctx, err := f.objectiveContext(raw)
		if err != nil {
			return err
		}
		p.Context = ctx
	}
	evt.Team = p.Team
	evt.Payload = p
	return nil
}

func (f fields) objectiveContext(raw any) (*match.ObjectiveContext, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, f.fail("context", "must be an object")
	}
	sub := fields{pkt: f.pkt, eventType: f.eventType, m: obj}

	var ctx match.ObjectiveContext
	var err error
	if ctx.GameTimeSeconds, err = sub.optionalNumber("game_time_s", 0, math.MaxFloat64); err != nil {
		return nil, err
	}
	if ctx.TeamGoldDiff, err = sub.optionalNumber("team_gold_diff", -math.MaxFloat64, math.MaxFloat64); err != nil {
		return nil, err
	}
	if ctx.AllyAvgHPPercent, err = sub.optionalNumber("ally_avg_hp_percent", 0, 100); err != nil {
		return nil, err
	}
	counts := []struct {
		key string
		dst *int
	}{
		{"ally_count_near", &ctx.AllyCountNear},
		{"enemy_count_near", &ctx.EnemyCountNear},
		{"sum_ultimates_up_team", &ctx.UltimatesUpTeam},
		{"sum_ultimates_up_enemy", &ctx.UltimatesUpEnemy},
		{"control_wards_team", &ctx.ControlWardsTeam},
		{"control_wards_enemy", &ctx.ControlWardsEnemy},
	}
	for _, c := range counts {
		if *c.dst, err = sub.optionalNonNegativeInt(c.key); err != nil {
			return nil, err
		}
	}
	if ctx.SmiteAvailable, err = sub.optionalBool("smite_available"); err != nil {
		return nil, err
	}
	if ctx.EnemySmiteAvailable, err = sub.optionalBool("enemy_smite_available"); err != nil {
		return nil, err
	}
	return &ctx, nil
}

func (f fields) roundEnd(evt *match.CanonicalEvent) error {
	winner, err := f.requireString("winner")
	if err != nil {
		return err
	}
	cond, err := f.requireString("win_condition")
	if err != nil {
		return err
	}
	wc := match.WinCondition(strings.ToUpper(cond))
	if !wc.Valid() {
		return f.fail("win_condition", "must be one of ELIMINATION, DEFUSE, TIME, PLANT")
	}
	round, err := f.optionalPositiveInt("round")
	if err != nil {
		return err
	}
	if round > 0 {
		evt.Round = match.IntPtr(round)
	}
	evt.Team = winner
	evt.Payload = match.RoundEndPayload{Round: round, Winner: winner, WinCondition: wc}
	return nil
}

func (f fields) mapEnd(evt *match.CanonicalEvent) error {
	score, err := f.requireCredits("score")
	if err != nil {
		return err
	}
	evt.Payload = match.MapEndPayload{Map: f.optionalString("map"), Score: score}
	return nil
}

func (f fields) matchEnd(evt *match.CanonicalEvent) error {
	winner := f.optionalString("winner")
	evt.Team = winner
	evt.Payload = match.MatchEndPayload{Winner: winner}
	return nil
}

func (f fields) economyUpdate(evt *match.CanonicalEvent) error {
	economy, err := f.requireCredits("economy")
	if err != nil {
		return err
	}
	if err := f.optionalRound(evt); err != nil {
		return err
	}
	evt.Payload = match.EconomyUpdatePayload{Economy: economy}
	return nil
}
