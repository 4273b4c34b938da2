package schema

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"esports-insights/internal/match"
)

func packet(matchID, payload string) match.RawEventPacket {
	return match.RawEventPacket{
		IngestionID:     "ing-1",
		ProviderEventID: "prov-1",
		MatchID:         matchID,
		Game:            "valorant",
		ReceivedAt:      time.Unix(1700000000, 0),
		Payload:         json.RawMessage(payload),
	}
}

func TestValidatorAcceptsWellFormedPackets(t *testing.T) {
	v := MustNewValidator()

	tests := []struct {
		name    string
		payload string
	}{
		{"match start", `{"type":"MATCH_START","teams":["A","B"]}`},
		{"map start", `{"type":"MAP_START","map":"ascent"}`},
		{"round start", `{"type":"ROUND_START","round":1,"economy":{"A":800,"B":800}}`},
		{"kill", `{"type":"KILL","killer":"p1","victim":"p2","weapon":"vandal","headshot":true,"trade":false,"team":"A"}`},
		{"lowercase kill", `{"type":"kill","killer":"p1","victim":"p2","weapon":"vandal","headshot":false,"trade":false}`},
		{"assist", `{"type":"ASSIST","assister":"p3"}`},
		{"objective", `{"type":"OBJECTIVE","objective":"dragon","context":{"game_time_s":900,"ally_count_near":5}}`},
		{"round end", `{"type":"ROUND_END","winner":"A","win_condition":"ELIMINATION"}`},
		{"map end", `{"type":"MAP_END","score":{"A":13,"B":7}}`},
		{"match end", `{"type":"MATCH_END"}`},
		{"economy update", `{"type":"ECONOMY_UPDATE","economy":{"A":0,"B":4500}}`},
		{"unknown type passes structure", `{"type":"POSITION_UPDATE","pos":[1,2,3]}`},
		{"timestamp", `{"type":"MATCH_END","timestamp":1700000000123}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := v.Validate(packet("m1", tt.payload)); err != nil {
				t.Errorf("Expected packet to pass, got %v", err)
			}
		})
	}
}

func TestValidatorRejectsWithFieldPath(t *testing.T) {
	v := MustNewValidator()

	tests := []struct {
		name     string
		matchID  string
		payload  string
		wantPath string
	}{
		{"missing match id", "", `{"type":"MATCH_END"}`, "/matchId"},
		{"missing type", "m1", `{"teams":["A"]}`, "/payload/type"},
		{"empty type", "m1", `{"type":""}`, "/payload/type"},
		{"negative credits", "m1", `{"type":"ROUND_START","round":1,"economy":{"A":-50,"B":800}}`, "/payload/economy/A"},
		{"economy not an object", "m1", `{"type":"ROUND_START","round":1,"economy":[800,800]}`, "/payload/economy"},
		{"kill without weapon", "m1", `{"type":"KILL","killer":"p1","victim":"p2","headshot":true,"trade":false}`, "/payload/weapon"},
		{"headshot wrong type", "m1", `{"type":"KILL","killer":"p1","victim":"p2","weapon":"ghost","headshot":"yes","trade":false}`, "/payload/headshot"},
		{"timestamp not a number", "m1", `{"type":"MATCH_END","timestamp":"soon"}`, "/payload/timestamp"},
		{"bad win condition", "m1", `{"type":"ROUND_END","winner":"A","win_condition":"FORFEIT"}`, "/payload/win_condition"},
		{"negative map score", "m1", `{"type":"MAP_END","score":{"A":-1}}`, "/payload/score/A"},
		{"duplicate teams", "m1", `{"type":"MATCH_START","teams":["A","A"]}`, "/payload/teams"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(packet(tt.matchID, tt.payload))
			if err == nil {
				t.Fatal("Expected validation failure")
			}
			var ve *match.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Expected *match.ValidationError, got %T", err)
			}
			if ve.Path != tt.wantPath {
				t.Errorf("Expected path %s, got %s (%s)", tt.wantPath, ve.Path, ve.Reason)
			}
		})
	}
}

func TestValidatorRejectsUnparseablePayload(t *testing.T) {
	v := MustNewValidator()

	for _, payload := range []string{"", "{not json", `{"type":"KILL"} {"type":"KILL"}`} {
		err := v.Validate(packet("m1", payload))
		var ve *match.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("payload %q: expected ValidationError, got %v", payload, err)
		}
		if !strings.HasPrefix(ve.Path, "/payload") {
			t.Errorf("payload %q: expected /payload path, got %s", payload, ve.Path)
		}
	}
}
