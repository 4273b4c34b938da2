package state

import (
	"errors"
	"log"
	"sort"
	"sync"

	"esports-insights/internal/match"
)

// Store holds the current snapshot per match. Snapshots are swapped whole
// under the lock, so readers never see a half-applied transition.
type Store struct {
	mu     sync.RWMutex
	states map[string]*match.MatchState
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{states: make(map[string]*match.MatchState)}
}

// ProcessEvent reduces evt against the stored snapshot for its match.
// A StateError leaves the stored snapshot unchanged.
func (s *Store) ProcessEvent(evt match.CanonicalEvent) (*match.MatchState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior := s.states[evt.MatchID]
	next, err := Reduce(prior, evt)
	if err != nil {
		return prior.Clone(), err
	}
	s.states[evt.MatchID] = next
	return next.Clone(), nil
}

// GetState returns a copy of the current snapshot, or nil if the match is unknown
func (s *Store) GetState(matchID string) *match.MatchState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[matchID].Clone()
}

// Rebuild discards the stored snapshot and folds events from empty state.
// Events that raise a StateError are skipped exactly as incremental
// processing skips them; any other error aborts and keeps the old snapshot.
func (s *Store) Rebuild(matchID string, events []match.CanonicalEvent) (*match.MatchState, error) {
	var current *match.MatchState
	skipped := 0
	for _, evt := range events {
		next, err := Reduce(current, evt)
		if err != nil {
			var se *match.StateError
			if !errors.As(err, &se) {
				return nil, err
			}
			skipped++
			continue
		}
		current = next
	}

	s.mu.Lock()
	if current == nil {
		delete(s.states, matchID)
	} else {
		s.states[matchID] = current
	}
	s.mu.Unlock()

	if skipped > 0 {
		log.Printf("⚠️ Rebuild %s skipped %d events with state errors", matchID, skipped)
	}
	return current.Clone(), nil
}

// Reset forgets a match
func (s *Store) Reset(matchID string) {
	s.mu.Lock()
	delete(s.states, matchID)
	s.mu.Unlock()
}

// Matches lists known match ids in sorted order
func (s *Store) Matches() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
