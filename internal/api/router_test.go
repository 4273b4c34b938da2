package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"esports-insights/internal/api"
	"esports-insights/internal/bus"
	"esports-insights/internal/ingest"
	"esports-insights/internal/match"
	"esports-insights/internal/review"
)

// ============================================================================
// Mock Implementations
// ============================================================================

// MockEvents implements api.EventLog
type MockEvents struct {
	events  map[string][]match.CanonicalEvent
	raw     map[string][]match.RawEventPacket
	signals map[string][]match.AgentSignal
}

func NewMockEvents() *MockEvents {
	return &MockEvents{
		events:  make(map[string][]match.CanonicalEvent),
		raw:     make(map[string][]match.RawEventPacket),
		signals: make(map[string][]match.AgentSignal),
	}
}

func (m *MockEvents) MatchEvents(id string) []match.CanonicalEvent { return m.events[id] }
func (m *MockEvents) RawEvents(id string) []match.RawEventPacket { return m.raw[id] }
func (m *MockEvents) Signals(id string) []match.AgentSignal { return m.signals[id] }

func (m *MockEvents) AllCanonicalEvents() []match.CanonicalEvent {
	var out []match.CanonicalEvent
	for _, evs := range m.events {
		out = append(out, evs...)
	}
	return out
}

func (m *MockEvents) RebuildFromEvents(id string, r bus.Rebuilder) (*match.MatchState, error) {
	return r.Rebuild(id, m.events[id])
}

// MockStates implements api.StateReader
type MockStates struct {
	states  map[string]*match.MatchState
	rebuilt []string
}

func NewMockStates() *MockStates {
	return &MockStates{states: make(map[string]*match.MatchState)}
}

func (m *MockStates) GetState(id string) *match.MatchState { return m.states[id] }

func (m *MockStates) Matches() []string {
	out := make([]string, 0, len(m.states))
	for id := range m.states {
		out = append(out, id)
	}
	return out
}

func (m *MockStates) Rebuild(id string, events []match.CanonicalEvent) (*match.MatchState, error) {
	m.rebuilt = append(m.rebuilt, id)
	if len(events) == 0 {
		return nil, nil
	}
	return m.states[id], nil
}

// MockIngest implements api.Ingestor
type MockIngest struct {
	status  ingest.Status
	started []string
	stopped bool
	err     error
}

func (m *MockIngest) Start(ctx context.Context, matchID string, src ingest.PacketSource) error {
	if m.err != nil {
		return m.err
	}
	m.started = append(m.started, matchID)
	m.status = ingest.Status{State: ingest.StateIngesting, MatchID: matchID}
	if c, ok := src.(interface{ Close() error }); ok {
		c.Close()
	}
	return nil
}

func (m *MockIngest) Stop() { m.stopped = true }
func (m *MockIngest) Status() ingest.Status { return m.status }

// ============================================================================
// Helpers
// ============================================================================

type fixture struct {
	events *MockEvents
	states *MockStates
	gate   *review.Gate
	ingest *MockIngest
	ts     *httptest.Server
}

var createdAt = time.Date(2026, 4, 2, 19, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, auth *api.Authenticator, packetDir string) *fixture {
	t.Helper()
	f := &fixture{
		events: NewMockEvents(),
		states: NewMockStates(),
		gate:   review.NewGate(review.Options{Now: func() time.Time { return createdAt.Add(time.Minute) }}),
		ingest: &MockIngest{status: ingest.Status{State: ingest.StateIdle}},
	}
	router := api.NewRouter(api.RouterConfig{
		Events:          f.events,
		States:          f.states,
		Review:          f.gate,
		Ingest:          f.ingest,
		Auth:            auth,
		PacketDir:       packetDir,
		Now:             func() time.Time { return createdAt.Add(time.Hour) },
		RateLimitConfig: &api.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000, CleanupInterval: time.Hour},
		DisableLogging:  true,
	})
	f.ts = httptest.NewServer(router)
	t.Cleanup(f.ts.Close)
	return f
}

func newAuth(t *testing.T) *api.Authenticator {
	t.Helper()
	a, err := api.NewAuthenticator(api.AuthOptions{
		Tokens: []string{"rev-token:alice:reviewer", "view-token:victor:viewer"},
		Secret: "test-secret",
	})
	if err != nil {
		t.Fatalf("NewAuthenticator failed: %v", err)
	}
	return a
}

func do(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func pendingSignal(id string) match.AgentSignal {
	return match.AgentSignal{
		ID:        id,
		Agent:     "star_player",
		MatchID:   "m1",
		Type:      match.SignalStarPlayer,
		Status:    match.StatusPendingReview,
		CreatedAt: createdAt,
	}
}

// ============================================================================
// Router Purity Tests
// ============================================================================

// TestNewRouterHasNoSideEffects verifies NewRouter starts nothing
func TestNewRouterHasNoSideEffects(t *testing.T) {
	router := api.NewRouter(api.RouterConfig{
		Events:         NewMockEvents(),
		States:         NewMockStates(),
		Review:         review.NewGate(review.Options{}),
		Ingest:         &MockIngest{},
		DisableLogging: true,
	})
	if router == nil {
		t.Fatal("Router should not be nil")
	}
}

// ============================================================================
// Match Endpoint Tests
// ============================================================================

func TestAPIGetState(t *testing.T) {
	f := newFixture(t, nil, "")
	f.states.states["m1"] = &match.MatchState{
		MatchID: "m1",
		Teams:   []string{"A", "B"},
		Score:   map[string]int{"A": 1, "B": 0},
	}

	resp := do(t, http.MethodGet, f.ts.URL+"/api/matches/m1/state", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var st match.MatchState
	decode(t, resp, &st)
	if st.Score["A"] != 1 {
		t.Errorf("Expected score A:1, got %v", st.Score)
	}

	resp = do(t, http.MethodGet, f.ts.URL+"/api/matches/nope/state", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown match, got %d", resp.StatusCode)
	}
}

func TestAPIListsAreNeverNull(t *testing.T) {
	f := newFixture(t, nil, "")
	for _, path := range []string{"/api/matches/m1/events", "/api/matches/m1/raw", "/api/matches/m1/signals", "/api/events", "/api/review/queue", "/api/insights"} {
		resp := do(t, http.MethodGet, f.ts.URL+path, "", "")
		var body bytes.Buffer
		body.ReadFrom(resp.Body)
		if strings.TrimSpace(body.String()) != "[]" {
			t.Errorf("%s: expected [], got %s", path, body.String())
		}
	}
}

func TestAPIRebuild(t *testing.T) {
	f := newFixture(t, nil, "")
	f.states.states["m1"] = &match.MatchState{MatchID: "m1"}
	f.events.events["m1"] = []match.CanonicalEvent{{EventID: "e1", MatchID: "m1", Type: match.EventMatchStart}}

	resp := do(t, http.MethodPost, f.ts.URL+"/api/matches/m1/rebuild", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	resp = do(t, http.MethodPost, f.ts.URL+"/api/matches/empty/rebuild", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for a match with no events, got %d", resp.StatusCode)
	}
	if len(f.states.rebuilt) != 2 {
		t.Errorf("Expected 2 rebuilds, got %v", f.states.rebuilt)
	}
}

// ============================================================================
// Review Endpoint Tests
// ============================================================================

func TestAPIReviewFlow(t *testing.T) {
	f := newFixture(t, newAuth(t), "")
	f.gate.Submit(pendingSignal("s1"))

	resp := do(t, http.MethodGet, f.ts.URL+"/api/review/queue", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Anonymous queue read: expected 401, got %d", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, f.ts.URL+"/api/review/queue", "view-token", "")
	var queue []match.AgentSignal
	decode(t, resp, &queue)
	if len(queue) != 1 {
		t.Fatalf("Expected 1 queued signal, got %d", len(queue))
	}

	resp = do(t, http.MethodPost, f.ts.URL+"/api/review/s1/approve", "view-token", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Viewer approve: expected 403, got %d", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, f.ts.URL+"/api/review/s1/approve", "rev-token", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Reviewer approve: expected 200, got %d", resp.StatusCode)
	}
	var result struct {
		Changed bool               `json:"changed"`
		Signal  *match.AgentSignal `json:"signal"`
	}
	decode(t, resp, &result)
	if !result.Changed || result.Signal.ReviewedBy != "alice" {
		t.Errorf("Unexpected approve result %+v", result)
	}

	// a second decision on the same id is a no-op
	resp = do(t, http.MethodPost, f.ts.URL+"/api/review/s1/reject", "rev-token", "")
	decode(t, resp, &result)
	if resp.StatusCode != http.StatusOK || result.Changed {
		t.Errorf("Second decision should be a 200 no-op, got %d %+v", resp.StatusCode, result)
	}

	resp = do(t, http.MethodGet, f.ts.URL+"/api/insights", "view-token", "")
	var insights []review.Insight
	decode(t, resp, &insights)
	if len(insights) != 1 || insights[0].Label != review.LabelAnalysisOnly {
		t.Errorf("Expected one released insight, got %+v", insights)
	}
}

// ============================================================================
// Auth Tests
// ============================================================================

func TestAPILoginSetsSessionCookie(t *testing.T) {
	f := newFixture(t, newAuth(t), "")

	resp := do(t, http.MethodPost, f.ts.URL+"/api/auth/login", "", `{"token":"wrong"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Bad token: expected 401, got %d", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, f.ts.URL+"/api/auth/login", "", `{"token":"rev-token"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Login: expected 200, got %d", resp.StatusCode)
	}
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == api.SessionCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("Expected session cookie")
	}

	req, _ := http.NewRequest(http.MethodGet, f.ts.URL+"/api/auth/status", nil)
	req.AddCookie(cookie)
	statusResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer statusResp.Body.Close()
	var status api.AuthStatus
	decode(t, statusResp, &status)
	if !status.Authenticated || status.ReviewerID != "alice" || status.Role != "reviewer" {
		t.Errorf("Unexpected status %+v", status)
	}

	// tampered cookie is ignored
	req, _ = http.NewRequest(http.MethodGet, f.ts.URL+"/api/auth/status", nil)
	req.AddCookie(&http.Cookie{Name: api.SessionCookieName, Value: cookie.Value + "x"})
	tampered, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer tampered.Body.Close()
	decode(t, tampered, &status)
	if status.Authenticated {
		t.Error("Tampered cookie should not authenticate")
	}
}

func TestParseTokens(t *testing.T) {
	got, err := api.ParseTokens([]string{"a:alice:admin", " ", "b:bob:something"})
	if err != nil {
		t.Fatalf("ParseTokens failed: %v", err)
	}
	if got["a"].Role != review.RoleAdmin || got["b"].Role != review.RoleViewer {
		t.Errorf("Unexpected roles %+v", got)
	}
	if _, err := api.ParseTokens([]string{"missing-role:alice"}); err == nil {
		t.Error("Expected malformed entry error")
	}
}

// ============================================================================
// Ingest Endpoint Tests
// ============================================================================

func TestAPIIngestStart(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "m1.jsonl"), []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, nil, dir)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"invalid json", `{invalid}`, http.StatusBadRequest},
		{"missing match", `{"path":"m1.jsonl"}`, http.StatusBadRequest},
		{"path traversal", `{"matchId":"m1","path":"../etc/passwd"}`, http.StatusBadRequest},
		{"missing file", `{"matchId":"m1","path":"nope.jsonl"}`, http.StatusNotFound},
		{"ok", `{"matchId":"m1","path":"m1.jsonl"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, f.ts.URL+"/api/ingest/start", "", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}
	if len(f.ingest.started) != 1 || f.ingest.started[0] != "m1" {
		t.Errorf("Expected one start for m1, got %v", f.ingest.started)
	}

	f.ingest.err = ingest.ErrBusy
	resp := do(t, http.MethodPost, f.ts.URL+"/api/ingest/start", "", `{"matchId":"m2","path":"m1.jsonl"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Busy orchestrator: expected 409, got %d", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, f.ts.URL+"/api/ingest/stop", "", "")
	if resp.StatusCode != http.StatusOK || !f.ingest.stopped {
		t.Errorf("Stop not forwarded (status %d)", resp.StatusCode)
	}
}

func TestAPIIngestStatusReportsHalt(t *testing.T) {
	f := newFixture(t, nil, "")
	f.ingest.status = ingest.Status{State: ingest.StateIdle, MatchID: "m1", Halted: true, LastError: "ingestion halted for match m1"}

	resp := do(t, http.MethodGet, f.ts.URL+"/api/ingest/status", "", "")
	var st ingest.Status
	decode(t, resp, &st)
	if !st.Halted || st.LastError != "ingestion halted for match m1" {
		t.Errorf("Halt must be surfaced verbatim, got %+v", st)
	}
}

// ============================================================================
// Middleware Tests
// ============================================================================

func TestAPIRateLimiting(t *testing.T) {
	router := api.NewRouter(api.RouterConfig{
		Events:          NewMockEvents(),
		States:          NewMockStates(),
		Review:          review.NewGate(review.Options{}),
		Ingest:          &MockIngest{},
		RateLimitConfig: &api.RateLimitConfig{RequestsPerSecond: 1, Burst: 2, CleanupInterval: time.Hour},
		DisableLogging:  true,
	})
	ts := httptest.NewServer(router)
	defer ts.Close()

	limited := false
	for i := 0; i < 5; i++ {
		resp := do(t, http.MethodGet, ts.URL+"/health", "", "")
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Error("Expected rate limiting to kick in")
	}
}

func TestAPICORSHeaders(t *testing.T) {
	f := newFixture(t, nil, "")
	req, _ := http.NewRequest(http.MethodOptions, f.ts.URL+"/api/matches", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Errorf("Expected CORS header, got %q", resp.Header.Get("Access-Control-Allow-Origin"))
	}
}

func TestOriginPolicy(t *testing.T) {
	p := api.NewOriginPolicy([]string{"https://dash.example/"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", false},
		{"http://localhost:5173", true},
		{"http://127.0.0.1", true},
		{"https://dash.example", true},
		{"https://evil.example", false},
		{"http://localhost.evil.example", false},
	}
	for _, tt := range tests {
		if got := p.Allowed(tt.origin); got != tt.want {
			t.Errorf("Allowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
