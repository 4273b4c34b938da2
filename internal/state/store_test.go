package state

import (
	"reflect"
	"sync"
	"testing"

	"esports-insights/internal/match"
)

func TestStoreProcessAndRebuildAgree(t *testing.T) {
	events := []match.CanonicalEvent{
		matchStart(0, "A", "B"),
		roundStart(1, 1, map[string]int{"A": 800, "B": 800}),
		kill(2, "p1", "p2", "A"),
		roundEnd(3, "Z"), // unknown winner, skipped
		roundEnd(4, "A"),
		roundStart(5, 2, map[string]int{"A": 3000, "B": 1900}),
		kill(6, "p2", "p1", "B"),
		roundEnd(7, "B"),
	}

	incremental := NewStore()
	for _, e := range events {
		_, _ = incremental.ProcessEvent(e)
	}

	rebuilt := NewStore()
	got, err := rebuilt.Rebuild("m1", events)
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	want := incremental.GetState("m1")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Rebuild diverged from incremental processing:\n got %+v\nwant %+v", got, want)
	}
}

func TestStoreProcessEventErrorKeepsSnapshot(t *testing.T) {
	s := NewStore()
	if _, err := s.ProcessEvent(matchStart(0, "A", "B")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ProcessEvent(roundEnd(1, "A")); err == nil {
		t.Fatal("Expected ordering error")
	}
	if got := s.GetState("m1").Score["A"]; got != 0 {
		t.Errorf("Score changed after failed event: %d", got)
	}
}

func TestStoreGetStateReturnsCopy(t *testing.T) {
	s := NewStore()
	if _, err := s.ProcessEvent(matchStart(0, "A", "B")); err != nil {
		t.Fatal(err)
	}
	st := s.GetState("m1")
	st.Score["A"] = 99

	if s.GetState("m1").Score["A"] != 0 {
		t.Error("Caller mutation leaked into store")
	}
	if s.GetState("unknown") != nil {
		t.Error("Unknown match should return nil")
	}
}

func TestStoreResetAndMatches(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"m2", "m1"} {
		e := matchStart(0, "A", "B")
		e.MatchID = id
		if _, err := s.ProcessEvent(e); err != nil {
			t.Fatal(err)
		}
	}
	if got := s.Matches(); !reflect.DeepEqual(got, []string{"m1", "m2"}) {
		t.Errorf("Unexpected matches %v", got)
	}
	s.Reset("m1")
	if s.GetState("m1") != nil {
		t.Error("Reset should forget the match")
	}
}

func TestStoreConcurrentReaders(t *testing.T) {
	s := NewStore()
	if _, err := s.ProcessEvent(matchStart(0, "A", "B")); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				st := s.GetState("m1")
				if len(st.RoundHistory) != st.CurrentRound {
					t.Errorf("Observed partial write: %d rounds, current %d", len(st.RoundHistory), st.CurrentRound)
					return
				}
			}
		}()
	}
	for r := 1; r <= 50; r++ {
		if _, err := s.ProcessEvent(roundStart(r, r, map[string]int{"A": 800, "B": 800})); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
}
