package match

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType enum for canonical event classification
type EventType string

const (
	EventMatchStart    EventType = "MATCH_START"
	EventMapStart      EventType = "MAP_START"
	EventRoundStart    EventType = "ROUND_START"
	EventKill          EventType = "KILL"
	EventAssist        EventType = "ASSIST"
	EventObjective     EventType = "OBJECTIVE"
	EventRoundEnd      EventType = "ROUND_END"
	EventMapEnd        EventType = "MAP_END"
	EventMatchEnd      EventType = "MATCH_END"
	EventEconomyUpdate EventType = "ECONOMY_UPDATE"
)

// AllEventTypes is the closed canonical vocabulary, in wire order.
var AllEventTypes = []EventType{
	EventMatchStart,
	EventMapStart,
	EventRoundStart,
	EventKill,
	EventAssist,
	EventObjective,
	EventRoundEnd,
	EventMapEnd,
	EventMatchEnd,
	EventEconomyUpdate,
}

// ParseEventType maps a provider type string onto the canonical vocabulary.
// Matching is case-insensitive; ok is false for anything outside the set.
func ParseEventType(s string) (EventType, bool) {
	t := EventType(strings.ToUpper(strings.TrimSpace(s)))
	if t.Valid() {
		return t, true
	}
	return "", false
}

// Valid reports whether t is one of the canonical event types
func (t EventType) Valid() bool {
	for _, known := range AllEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// WinCondition is how a round was decided
type WinCondition string

const (
	WinElimination WinCondition = "ELIMINATION"
	WinDefuse      WinCondition = "DEFUSE"
	WinTime        WinCondition = "TIME"
	WinPlant       WinCondition = "PLANT"
)

// Valid reports whether c is a known win condition
func (c WinCondition) Valid() bool {
	switch c {
	case WinElimination, WinDefuse, WinTime, WinPlant:
		return true
	}
	return false
}

// PlayerRefPrefix prefixes every actor/target reference on a canonical event.
const PlayerRefPrefix = "player:"

// PlayerRef normalises a provider player id into a "player:<id>" reference.
// Returns "" for an empty id.
func PlayerRef(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if strings.HasPrefix(id, PlayerRefPrefix) {
		return id
	}
	return PlayerRefPrefix + id
}

// RawEventPacket is the provider-stamped envelope produced at the ingestion boundary.
// It is never modified after creation.
type RawEventPacket struct {
	IngestionID     string          `json:"ingestionId"`
	ProviderEventID string          `json:"providerEventId"`
	MatchID         string          `json:"matchId"`
	Game            string          `json:"game"`
	ReceivedAt      time.Time       `json:"receivedAt"`
	Payload         json.RawMessage `json:"payload"`
}

// PayloadType peeks at payload.type without validating anything else.
func (p RawEventPacket) PayloadType() string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(p.Payload, &head); err != nil {
		return ""
	}
	return head.Type
}

// CanonicalEvent is a normalized, provider-agnostic fact
type CanonicalEvent struct {
	EventID   string    `json:"eventId"`
	Type      EventType `json:"eventType"`
	MatchID   string    `json:"matchId"`
	Round     *int      `json:"round,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Target    string    `json:"target,omitempty"`
	Team      string    `json:"team,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Payload   `json:"payload"`
}

// canonicalWire is the JSON shape of CanonicalEvent with an undecoded payload
type canonicalWire struct {
	EventID   string          `json:"eventId"`
	Type      EventType       `json:"eventType"`
	MatchID   string          `json:"matchId"`
	Round     *int            `json:"round,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	Target    string          `json:"target,omitempty"`
	Team      string          `json:"team,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// UnmarshalJSON decodes the payload into the concrete struct for eventType
func (e *CanonicalEvent) UnmarshalJSON(data []byte) error {
	var w canonicalWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	payload, err := DecodePayload(w.Type, w.Payload)
	if err != nil {
		return err
	}
	*e = CanonicalEvent{
		EventID:   w.EventID,
		Type:      w.Type,
		MatchID:   w.MatchID,
		Round:     w.Round,
		Actor:     w.Actor,
		Target:    w.Target,
		Team:      w.Team,
		Timestamp: w.Timestamp,
		Payload:   payload,
	}
	return nil
}

// RoundNumber returns the event's round or 0 when absent
func (e CanonicalEvent) RoundNumber() int {
	if e.Round == nil {
		return 0
	}
	return *e.Round
}

// IntPtr is a helper for optional round numbers
func IntPtr(v int) *int {
	return &v
}

// DecodePayload decodes raw JSON into the payload struct registered for t.
func DecodePayload(t EventType, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch t {
	case EventMatchStart:
		p = &MatchStartPayload{}
	case EventMapStart:
		p = &MapStartPayload{}
	case EventRoundStart:
		p = &RoundStartPayload{}
	case EventKill:
		p = &KillPayload{}
	case EventAssist:
		p = &AssistPayload{}
	case EventObjective:
		p = &ObjectivePayload{}
	case EventRoundEnd:
		p = &RoundEndPayload{}
	case EventMapEnd:
		p = &MapEndPayload{}
	case EventMatchEnd:
		p = &MatchEndPayload{}
	case EventEconomyUpdate:
		p = &EconomyUpdatePayload{}
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
	}
	return derefPayload(p), nil
}

// derefPayload stores payloads by value so events stay immutable once built
func derefPayload(p Payload) Payload {
	switch v := p.(type) {
	case *MatchStartPayload:
		return *v
	case *MapStartPayload:
		return *v
	case *RoundStartPayload:
		return *v
	case *KillPayload:
		return *v
	case *AssistPayload:
		return *v
	case *ObjectivePayload:
		return *v
	case *RoundEndPayload:
		return *v
	case *MapEndPayload:
		return *v
	case *MatchEndPayload:
		return *v
	case *EconomyUpdatePayload:
		return *v
	}
	return p
}
