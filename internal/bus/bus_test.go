package bus

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"esports-insights/internal/match"
	"esports-insights/internal/state"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func canonical(matchID string, seq int, p match.Payload) match.CanonicalEvent {
	e := match.CanonicalEvent{
		EventID:   matchID + "-" + strconv.Itoa(seq),
		Type:      p.EventType(),
		MatchID:   matchID,
		Timestamp: base.Add(time.Duration(seq) * time.Second),
		Payload:   p,
	}
	if k, ok := p.(match.KillPayload); ok {
		e.Actor, e.Target, e.Team = k.Killer, k.Victim, k.KillerTeam
	}
	if a, ok := p.(match.AssistPayload); ok {
		e.Actor = a.Assister
	}
	return e
}

func TestPublishDeliversSynchronouslyInOrder(t *testing.T) {
	b := New(Options{})
	var got []string

	b.SubscribeCanonical("first", func(ctx context.Context, e match.CanonicalEvent) error {
		got = append(got, "first:"+e.EventID)
		return nil
	})
	b.SubscribeCanonical("second", func(ctx context.Context, e match.CanonicalEvent) error {
		got = append(got, "second:"+e.EventID)
		return nil
	})

	if err := b.PublishCanonical(context.Background(), canonical("m1", 1, match.MatchEndPayload{})); err != nil {
		t.Fatal(err)
	}

	want := []string{"first:m1-1", "second:m1-1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v delivered before return, got %v", want, got)
	}
}

func TestSubscriberFailureIsIsolated(t *testing.T) {
	b := New(Options{})
	calls := 0

	b.SubscribeCanonical("failing", func(ctx context.Context, e match.CanonicalEvent) error {
		return errors.New("boom")
	})
	b.SubscribeCanonical("panicking", func(ctx context.Context, e match.CanonicalEvent) error {
		panic("bad subscriber")
	})
	b.SubscribeCanonical("healthy", func(ctx context.Context, e match.CanonicalEvent) error {
		calls++
		return nil
	})

	if err := b.PublishCanonical(context.Background(), canonical("m1", 1, match.MatchEndPayload{})); err != nil {
		t.Fatalf("Subscriber errors must not fail the publish: %v", err)
	}
	if calls != 1 {
		t.Errorf("Healthy subscriber should still be called, got %d", calls)
	}
	if len(b.MatchEvents("m1")) != 1 {
		t.Error("Event should be logged")
	}
}

func TestRetriedPublishDoesNotDuplicate(t *testing.T) {
	b := New(Options{})
	calls := 0
	b.SubscribeRaw("counter", func(ctx context.Context, p match.RawEventPacket) error {
		calls++
		return nil
	})

	pkt := match.RawEventPacket{IngestionID: "ing-1", MatchID: "m1", Payload: []byte(`{"type":"MATCH_END"}`)}
	if err := b.PublishRaw(context.Background(), pkt); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := b.PublishRaw(context.Background(), pkt); !errors.Is(err, ErrDuplicate) {
			t.Fatalf("Expected ErrDuplicate on resend, got %v", err)
		}
	}

	if len(b.RawEvents("m1")) != 1 {
		t.Errorf("Expected one logged packet, got %d", len(b.RawEvents("m1")))
	}
	if calls != 1 {
		t.Errorf("Expected one delivery, got %d", calls)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New(Options{})
	calls := 0
	unsub := b.SubscribeSignal("s", func(ctx context.Context, s match.AgentSignal) error {
		calls++
		return nil
	})

	ctx := context.Background()
	b.PublishSignal(ctx, match.AgentSignal{ID: "s1", MatchID: "m1"})
	unsub()
	unsub()
	b.PublishSignal(ctx, match.AgentSignal{ID: "s2", MatchID: "m1"})

	if calls != 1 {
		t.Errorf("Expected 1 call before unsubscribe, got %d", calls)
	}
	if len(b.Signals("m1")) != 2 {
		t.Error("Signals should still be logged without subscribers")
	}
}

func TestLogsArePartitionedByMatch(t *testing.T) {
	b := New(Options{})
	ctx := context.Background()
	b.PublishCanonical(ctx, canonical("m1", 1, match.MatchEndPayload{}))
	b.PublishCanonical(ctx, canonical("m2", 1, match.MatchEndPayload{}))
	b.PublishCanonical(ctx, canonical("m1", 2, match.MatchEndPayload{}))

	if n := len(b.MatchEvents("m1")); n != 2 {
		t.Errorf("Expected 2 events for m1, got %d", n)
	}
	if n := len(b.MatchEvents("m2")); n != 1 {
		t.Errorf("Expected 1 event for m2, got %d", n)
	}
	all := b.AllCanonicalEvents()
	if len(all) != 3 || all[1].MatchID != "m2" {
		t.Errorf("Global log should keep publish order, got %v", all)
	}
}

func TestPublishAfterClose(t *testing.T) {
	b := New(Options{})
	b.Close()
	err := b.PublishCanonical(context.Background(), canonical("m1", 1, match.MatchEndPayload{}))
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestPublishHonoursCancelledContext(t *testing.T) {
	b := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.PublishCanonical(ctx, canonical("m1", 1, match.MatchEndPayload{})); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if len(b.MatchEvents("m1")) != 0 {
		t.Error("Cancelled publish must not log")
	}
}

// TestRebuildMatchesIncremental drives the same event sequence through the
// store incrementally and through RebuildFromEvents and compares the results.
func TestRebuildMatchesIncremental(t *testing.T) {
	b := New(Options{})
	incremental := state.NewStore()
	b.SubscribeCanonical("state", func(ctx context.Context, e match.CanonicalEvent) error {
		_, err := incremental.ProcessEvent(e)
		return err
	})

	payloads := []match.Payload{
		match.MatchStartPayload{Teams: []string{"A", "B"}},
		match.MapStartPayload{Map: "bind"},
		match.RoundStartPayload{Round: 1, Economy: map[string]int{"A": 800, "B": 800}},
		match.KillPayload{Killer: "player:a1", Victim: "player:b1", Weapon: "ghost", KillerTeam: "A", Damage: 100},
		match.AssistPayload{Assister: "player:a2"},
		match.RoundEndPayload{Winner: "A", WinCondition: match.WinElimination},
		match.RoundStartPayload{Round: 2, Economy: map[string]int{"A": 3100, "B": 1900}},
		match.KillPayload{Killer: "player:b1", Victim: "player:a1", Weapon: "sheriff", KillerTeam: "B"},
		match.EconomyUpdatePayload{Economy: map[string]int{"A": 2000, "B": 1000}},
		match.RoundEndPayload{Winner: "B", WinCondition: match.WinDefuse},
		match.MapEndPayload{Score: map[string]int{"A": 13, "B": 11}},
		match.MatchEndPayload{Winner: "A"},
	}

	ctx := context.Background()
	for i, p := range payloads {
		if err := b.PublishCanonical(ctx, canonical("m1", i, p)); err != nil {
			t.Fatal(err)
		}
	}

	rebuilt, err := b.RebuildFromEvents("m1", state.NewStore())
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	want := incremental.GetState("m1")
	if !reflect.DeepEqual(rebuilt, want) {
		t.Errorf("Rebuilt state differs:\n got %+v\nwant %+v", rebuilt, want)
	}
}

func TestRebuildSortsByTimestamp(t *testing.T) {
	b := New(Options{})
	ctx := context.Background()

	start := canonical("m1", 0, match.MatchStartPayload{Teams: []string{"A", "B"}})
	round := canonical("m1", 1, match.RoundStartPayload{Round: 1, Economy: map[string]int{"A": 800, "B": 800}})
	end := canonical("m1", 2, match.RoundEndPayload{Winner: "B", WinCondition: match.WinTime})

	// published out of order; timestamps carry the true order
	for _, e := range []match.CanonicalEvent{end, start, round} {
		b.PublishCanonical(ctx, e)
	}

	s, err := b.RebuildFromEvents("m1", state.NewStore())
	if err != nil {
		t.Fatal(err)
	}
	if s == nil || s.Score["B"] != 1 {
		t.Errorf("Expected B to have 1 round after sorted replay, got %+v", s)
	}
}

func TestConcurrentMatchesPublish(t *testing.T) {
	b := New(Options{})
	var wg sync.WaitGroup
	for m := 0; m < 4; m++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				b.PublishCanonical(context.Background(), canonical(id, i, match.MatchEndPayload{}))
			}
		}("m" + strconv.Itoa(m))
	}
	wg.Wait()

	if n := len(b.AllCanonicalEvents()); n != 200 {
		t.Errorf("Expected 200 events, got %d", n)
	}
}

func TestJournalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.jsonl")
	j := NewJournal()
	if err := j.Start(path); err != nil {
		t.Fatal(err)
	}

	b := New(Options{Journal: j})
	ctx := context.Background()
	pkt := match.RawEventPacket{IngestionID: "i1", MatchID: "m1", ReceivedAt: base, Payload: []byte(`{"type":"KILL"}`)}
	kill := canonical("m1", 1, match.KillPayload{Killer: "player:a", Victim: "player:b", Weapon: "op", Headshot: true})
	sig := match.AgentSignal{ID: "s1", MatchID: "m1", Type: match.SignalStarPlayer, Confidence: 0.75, Status: match.StatusPendingReview}

	if err := b.PublishRaw(ctx, pkt); err != nil {
		t.Fatal(err)
	}
	if err := b.PublishCanonical(ctx, kill); err != nil {
		t.Fatal(err)
	}
	if err := b.PublishSignal(ctx, sig); err != nil {
		t.Fatal(err)
	}
	j.Stop()

	replay, err := LoadJournal(path)
	if err != nil {
		t.Fatalf("LoadJournal failed: %v", err)
	}
	if len(replay.Raw) != 1 || len(replay.Canonical) != 1 || len(replay.Signals) != 1 {
		t.Fatalf("Unexpected replay sizes %d/%d/%d", len(replay.Raw), len(replay.Canonical), len(replay.Signals))
	}
	k, ok := replay.Canonical[0].Payload.(match.KillPayload)
	if !ok || k.Weapon != "op" || !k.Headshot {
		t.Errorf("Kill payload lost in journal: %+v", replay.Canonical[0].Payload)
	}
	if replay.Signals[0].Type != match.SignalStarPlayer {
		t.Errorf("Signal lost in journal: %+v", replay.Signals[0])
	}
}

func TestJournalAppendAfterStop(t *testing.T) {
	j := NewJournal()
	if err := j.Start(filepath.Join(t.TempDir(), "j.jsonl")); err != nil {
		t.Fatal(err)
	}
	j.Stop()

	b := New(Options{Journal: j})
	err := b.PublishCanonical(context.Background(), canonical("m1", 1, match.MatchEndPayload{}))
	if !errors.Is(err, ErrJournalStopped) {
		t.Errorf("Expected ErrJournalStopped, got %v", err)
	}
	if len(b.MatchEvents("m1")) != 0 {
		t.Error("Failed journal write must not log the event")
	}
}

func TestJournalStopWritesEveryAcceptedRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j := NewJournal()
	if err := j.Start(path); err != nil {
		t.Fatal(err)
	}

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				sig := match.AgentSignal{ID: fmt.Sprintf("s-%d-%d", w, i), MatchID: "m1"}
				if err := j.Append(context.Background(), JournalSignal, "m1", sig); err != nil {
					if !errors.Is(err, ErrJournalStopped) {
						t.Errorf("Unexpected append error: %v", err)
					}
					return
				}
				accepted.Add(1)
			}
		}(w)
	}
	time.Sleep(time.Millisecond)
	j.Stop()
	wg.Wait()

	replay, err := LoadJournal(path)
	if err != nil {
		t.Fatalf("LoadJournal failed: %v", err)
	}
	if int64(len(replay.Signals)) != accepted.Load() {
		t.Errorf("Accepted %d records but %d reached the file", accepted.Load(), len(replay.Signals))
	}
	stats := j.GetStats()
	if stats["total"] != uint64(accepted.Load()) || stats["written"] != uint64(accepted.Load()) {
		t.Errorf("Counters disagree with accepted=%d: %v", accepted.Load(), stats)
	}
}
