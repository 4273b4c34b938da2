package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"esports-insights/internal/api"
	"esports-insights/internal/match"

	"github.com/gorilla/websocket"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func dialHub(t *testing.T, hub *api.WebSocketHub, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	return websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{origin}})
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	return env
}

func TestWebSocketHubGreetingAndBroadcast(t *testing.T) {
	hub := api.NewWebSocketHub(api.NewOriginPolicy(nil), 10)
	hub.SetGreeting(func() [][]byte {
		msg, _ := api.Encode(api.EventReviewQueue, []match.AgentSignal{})
		return [][]byte{msg}
	})
	go hub.Run()
	defer hub.Stop()

	conn, _, err := dialHub(t, hub, "http://localhost:5173")
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	// the greeting is only written once the client is registered
	if env := readEnvelope(t, conn); env.Event != api.EventReviewQueue || string(env.Data) != "[]" {
		t.Errorf("Unexpected greeting %s %s", env.Event, env.Data)
	}
	if hub.ClientCount() != 1 {
		t.Errorf("Expected 1 client, got %d", hub.ClientCount())
	}

	hub.Broadcast(api.EventSignalNew, match.AgentSignal{ID: "s1", Type: match.SignalMomentumShift})
	env := readEnvelope(t, conn)
	if env.Event != api.EventSignalNew {
		t.Fatalf("Expected %s, got %s", api.EventSignalNew, env.Event)
	}
	var sig match.AgentSignal
	if err := json.Unmarshal(env.Data, &sig); err != nil || sig.ID != "s1" {
		t.Errorf("Unexpected signal %s (%v)", env.Data, err)
	}
}

func TestWebSocketHubRejectsForeignOrigin(t *testing.T) {
	hub := api.NewWebSocketHub(api.NewOriginPolicy([]string{"https://dash.example"}), 10)
	go hub.Run()
	defer hub.Stop()

	_, resp, err := dialHub(t, hub, "https://evil.example")
	if err == nil {
		t.Fatal("Expected the handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %v", resp)
	}

	conn, _, err := dialHub(t, hub, "https://dash.example")
	if err != nil {
		t.Fatalf("Configured origin should connect: %v", err)
	}
	conn.Close()
}
