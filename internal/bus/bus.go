// Package bus is the in-process event bus: append-only raw, canonical and
// signal logs partitioned by match, with synchronous fan-out to subscribers.
//
// Publish calls return only after every subscriber has handled the value,
// so a slow subscriber slows the publisher instead of growing a buffer.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"esports-insights/internal/match"
)

// ErrClosed is returned by publish calls after Close
var ErrClosed = errors.New("event bus closed")

// ErrDuplicate is returned when a value with the same id is already logged.
// Nothing is journaled or delivered for it.
var ErrDuplicate = errors.New("already logged")

// Rebuilder re-derives a match snapshot from an ordered canonical sequence
type Rebuilder interface {
	Rebuild(matchID string, events []match.CanonicalEvent) (*match.MatchState, error)
}

// Options configures a Bus
type Options struct {
	// Journal, when set, receives every newly logged value before delivery
	Journal *Journal
}

// Bus fans raw packets, canonical events and signals out to subscribers
type Bus struct {
	raw       *stream[match.RawEventPacket]
	canonical *stream[match.CanonicalEvent]
	signals   *stream[match.AgentSignal]

	journal *Journal
	closed  atomic.Bool
}

// New creates a bus
func New(opts Options) *Bus {
	return &Bus{
		raw: newStream("raw",
			func(p match.RawEventPacket) string { return rawID(p) },
			func(p match.RawEventPacket) string { return p.MatchID }),
		canonical: newStream("canonical",
			func(e match.CanonicalEvent) string { return e.EventID },
			func(e match.CanonicalEvent) string { return e.MatchID }),
		signals: newStream("signal",
			func(s match.AgentSignal) string { return s.ID },
			func(s match.AgentSignal) string { return s.MatchID }),
		journal: opts.Journal,
	}
}

// rawID dedupes raw packets by ingestion id, falling back to the provider id
func rawID(p match.RawEventPacket) string {
	if p.IngestionID != "" {
		return p.MatchID + "/" + p.IngestionID
	}
	return p.MatchID + "/provider/" + p.ProviderEventID
}

// SubscribeRaw registers fn for raw packets. The returned func unsubscribes.
func (b *Bus) SubscribeRaw(name string, fn func(context.Context, match.RawEventPacket) error) func() {
	return b.raw.subscribe(name, fn)
}

// SubscribeCanonical registers fn for canonical events
func (b *Bus) SubscribeCanonical(name string, fn func(context.Context, match.CanonicalEvent) error) func() {
	return b.canonical.subscribe(name, fn)
}

// SubscribeSignal registers fn for detector signals
func (b *Bus) SubscribeSignal(name string, fn func(context.Context, match.AgentSignal) error) func() {
	return b.signals.subscribe(name, fn)
}

// PublishRaw logs and delivers a raw packet
func (b *Bus) PublishRaw(ctx context.Context, pkt match.RawEventPacket) error {
	return publish(ctx, b, b.raw, JournalRaw, pkt)
}

// PublishCanonical logs and delivers a canonical event
func (b *Bus) PublishCanonical(ctx context.Context, evt match.CanonicalEvent) error {
	if evt.EventID == "" {
		return fmt.Errorf("publish canonical: empty event id")
	}
	return publish(ctx, b, b.canonical, JournalCanonical, evt)
}

// PublishSignal logs and delivers a signal
func (b *Bus) PublishSignal(ctx context.Context, sig match.AgentSignal) error {
	if sig.ID == "" {
		return fmt.Errorf("publish signal: empty signal id")
	}
	return publish(ctx, b, b.signals, JournalSignal, sig)
}

// publish journals, logs and delivers v. A value whose id is already logged
// is refused with ErrDuplicate.
func publish[T any](ctx context.Context, b *Bus, s *stream[T], kind JournalKind, v T) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.contains(s.idOf(v)) {
		return fmt.Errorf("%s %s: %w", kind, s.idOf(v), ErrDuplicate)
	}
	if b.journal != nil {
		if err := b.journal.Append(ctx, kind, s.matchOf(v), v); err != nil {
			return fmt.Errorf("journal %s: %w", kind, err)
		}
	}
	if !s.append(v) {
		return fmt.Errorf("%s %s: %w", kind, s.idOf(v), ErrDuplicate)
	}
	s.deliver(ctx, v)
	return nil
}

// MatchEvents returns the canonical log for a match in publish order
func (b *Bus) MatchEvents(matchID string) []match.CanonicalEvent {
	return b.canonical.forMatch(matchID)
}

// RawEvents returns the raw log for a match in publish order
func (b *Bus) RawEvents(matchID string) []match.RawEventPacket {
	return b.raw.forMatch(matchID)
}

// Signals returns the signal log for a match
func (b *Bus) Signals(matchID string) []match.AgentSignal {
	return b.signals.forMatch(matchID)
}

// AllCanonicalEvents returns every canonical event across matches in publish order
func (b *Bus) AllCanonicalEvents() []match.CanonicalEvent {
	return b.canonical.all()
}

// RebuildFromEvents stable-sorts the match's canonical log by timestamp and
// re-drives r from empty state.
func (b *Bus) RebuildFromEvents(matchID string, r Rebuilder) (*match.MatchState, error) {
	events := b.MatchEvents(matchID)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return r.Rebuild(matchID, events)
}

// Close rejects further publishes. The journal is owned by the caller.
func (b *Bus) Close() {
	b.closed.Store(true)
}

// GetStats returns per-stream counters
func (b *Bus) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"raw":       b.raw.stats(),
		"canonical": b.canonical.stats(),
		"signal":    b.signals.stats(),
		"closed":    b.closed.Load(),
	}
	if b.journal != nil {
		stats["journal"] = b.journal.GetStats()
	}
	return stats
}
