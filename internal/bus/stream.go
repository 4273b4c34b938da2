package bus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"esports-insights/internal/observability"
)

// subscription is one registered callback on a stream
type subscription[T any] struct {
	id   uint64
	name string
	fn   func(context.Context, T) error
}

// stream is an append-only log partitioned by match, deduplicated by id,
// plus the ordered subscriber list for that log.
type stream[T any] struct {
	kind    string
	idOf    func(T) string
	matchOf func(T) string

	mu      sync.RWMutex
	subs    []subscription[T]
	nextSub uint64
	byMatch map[string][]T
	seen    map[string]struct{}
	order   []T

	delivered atomic.Uint64
	failures  atomic.Uint64
}

func newStream[T any](kind string, idOf, matchOf func(T) string) *stream[T] {
	return &stream[T]{
		kind:    kind,
		idOf:    idOf,
		matchOf: matchOf,
		byMatch: make(map[string][]T),
		seen:    make(map[string]struct{}),
	}
}

func (s *stream[T]) subscribe(name string, fn func(context.Context, T) error) func() {
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscription[T]{id: id, name: name, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *stream[T]) contains(id string) bool {
	s.mu.RLock()
	_, ok := s.seen[id]
	s.mu.RUnlock()
	return ok
}

// append records v and reports false if its id was already logged
func (s *stream[T]) append(v T) bool {
	id := s.idOf(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[id]; dup {
		return false
	}
	s.seen[id] = struct{}{}
	m := s.matchOf(v)
	s.byMatch[m] = append(s.byMatch[m], v)
	s.order = append(s.order, v)
	return true
}

// deliver calls every subscriber in registration order and waits for each.
// A failing or panicking subscriber is logged and skipped.
func (s *stream[T]) deliver(ctx context.Context, v T) {
	s.mu.RLock()
	subs := make([]subscription[T], len(s.subs))
	copy(subs, s.subs)
	s.mu.RUnlock()

	for _, sub := range subs {
		if err := s.call(ctx, sub, v); err != nil {
			s.failures.Add(1)
			observability.RecordSubscriberFailure(s.kind)
			log.Printf("⚠️ %s subscriber %q failed on %s: %v", s.kind, sub.name, s.idOf(v), err)
			continue
		}
		s.delivered.Add(1)
	}
}

func (s *stream[T]) call(ctx context.Context, sub subscription[T], v T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return sub.fn(ctx, v)
}

func (s *stream[T]) forMatch(matchID string) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, len(s.byMatch[matchID]))
	copy(out, s.byMatch[matchID])
	return out
}

func (s *stream[T]) all() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, len(s.order))
	copy(out, s.order)
	return out
}

func (s *stream[T]) stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"logged":      len(s.order),
		"matches":     len(s.byMatch),
		"subscribers": len(s.subs),
		"delivered":   s.delivered.Load(),
		"failures":    s.failures.Load(),
	}
}
