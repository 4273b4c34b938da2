package detect

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"esports-insights/internal/bus"
	"esports-insights/internal/match"
	"esports-insights/internal/observability"
)

// EventBus is the slice of the event bus the engine uses
type EventBus interface {
	SubscribeCanonical(name string, fn func(context.Context, match.CanonicalEvent) error) func()
	PublishSignal(ctx context.Context, sig match.AgentSignal) error
}

// Engine runs a detector set against one match's canonical events and
// publishes what they emit. Close releases every detector's memory.
type Engine struct {
	matchID   string
	detectors []Detector
	bus       EventBus

	unsubscribe func()
	closeOnce   sync.Once

	mu      sync.Mutex
	emitted int
}

// Bind subscribes detectors to matchID's canonical stream on b
func Bind(b EventBus, matchID string, detectors []Detector) *Engine {
	e := &Engine{matchID: matchID, detectors: detectors, bus: b}
	e.unsubscribe = b.SubscribeCanonical("detectors:"+matchID, e.handle)
	return e
}

func (e *Engine) handle(ctx context.Context, evt match.CanonicalEvent) error {
	if evt.MatchID != e.matchID {
		return nil
	}
	var failed []error
	for _, sig := range e.Observe(evt) {
		if err := e.bus.PublishSignal(ctx, sig); err != nil {
			if !errors.Is(err, bus.ErrDuplicate) {
				failed = append(failed, err)
			}
			continue
		}
		observability.RecordSignal(string(sig.Type))
		log.Printf("📡 %s signal %s for %s (team=%s, confidence=%.2f)", sig.Agent, sig.Type, sig.MatchID, sig.Team, sig.Confidence)
	}
	if len(failed) > 0 {
		return fmt.Errorf("publish %d signals: %w", len(failed), failed[0])
	}
	return nil
}

// Observe feeds evt to every detector in order and collects their signals
func (e *Engine) Observe(evt match.CanonicalEvent) []match.AgentSignal {
	var out []match.AgentSignal
	for _, d := range e.detectors {
		out = append(out, d.Observe(evt)...)
	}
	e.mu.Lock()
	e.emitted += len(out)
	e.mu.Unlock()
	return out
}

// Emitted returns how many signals the engine produced
func (e *Engine) Emitted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emitted
}

// Close unsubscribes from the bus and drops all per-match memory. Safe to call twice.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		if e.unsubscribe != nil {
			e.unsubscribe()
		}
		for _, d := range e.detectors {
			d.Release(e.matchID)
		}
	})
}
