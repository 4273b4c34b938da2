// Package ingest drives one match at a time through the pipeline:
// raw packet -> validate -> normalize -> canonical event -> match state.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"esports-insights/internal/audit"
	"esports-insights/internal/bus"
	"esports-insights/internal/detect"
	"esports-insights/internal/match"
	"esports-insights/internal/observability"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrBusy is returned when a different match is already being ingested
var ErrBusy = errors.New("orchestrator is already ingesting another match")

// Defaults
const (
	DefaultMaxRetries           = 3
	DefaultBaseDelay            = 100 * time.Millisecond
	DefaultMaxDelay             = 2 * time.Second
	DefaultMaxConsecutiveErrors = 10
)

// Retry stages, used as metric labels
const (
	stagePublishRaw       = "publish_raw"
	stageNormalize        = "normalize"
	stagePublishCanonical = "publish_canonical"
)

// Config holds retry and circuit breaker settings
type Config struct {
	MaxRetries           int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	MaxConsecutiveErrors int
	RatePerSecond        float64 // 0 disables intake pacing
	Burst                int
}

// DefaultConfig returns the default orchestrator settings
func DefaultConfig() Config {
	return Config{
		MaxRetries:           DefaultMaxRetries,
		BaseDelay:            DefaultBaseDelay,
		MaxDelay:             DefaultMaxDelay,
		MaxConsecutiveErrors: DefaultMaxConsecutiveErrors,
	}
}

// EventBus is the slice of the bus the orchestrator publishes to
type EventBus interface {
	detect.EventBus
	PublishRaw(ctx context.Context, pkt match.RawEventPacket) error
	PublishCanonical(ctx context.Context, evt match.CanonicalEvent) error
}

// Validator checks raw packet structure
type Validator interface {
	Validate(pkt match.RawEventPacket) error
}

// Normalizer maps a raw packet onto a canonical event
type Normalizer interface {
	Normalize(pkt match.RawEventPacket) (match.CanonicalEvent, error)
}

// StateStore applies canonical events to match snapshots
type StateStore interface {
	ProcessEvent(evt match.CanonicalEvent) (*match.MatchState, error)
}

// Deps are the pipeline stages the orchestrator wires together
type Deps struct {
	Bus        EventBus
	Validator  Validator
	Normalizer Normalizer
	Store      StateStore
	// Detectors builds a fresh detector set per run; nil runs none
	Detectors func() []detect.Detector
	Audit     *audit.Async
}

// State of the orchestrator
type State string

const (
	StateIdle      State = "idle"
	StateIngesting State = "ingesting"
)

// Status is a point-in-time view of the orchestrator
type Status struct {
	State      State      `json:"state"`
	MatchID    string     `json:"matchId,omitempty"`
	Processed  int        `json:"processed"`
	Dropped    int        `json:"dropped"`
	Duplicates int        `json:"duplicates"`
	Retries    int        `json:"retries"`
	Signals    int        `json:"signals"`
	Halted     bool       `json:"halted"`
	LastError  string     `json:"lastError,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Orchestrator ingests a single match at a time. Packets are processed
// strictly in order, one fully before the next.
type Orchestrator struct {
	cfg  Config
	deps Deps

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu        sync.Mutex
	status    Status
	current   *runHandle
	listeners []func(Status)

	stopping atomic.Bool
}

// runHandle carries one run's outcome. err is written before done closes.
type runHandle struct {
	done chan struct{}
	err  error
}

// New creates an idle orchestrator
func New(cfg Config, deps Deps) *Orchestrator {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = def.MaxConsecutiveErrors
	}
	idle := &runHandle{done: make(chan struct{})}
	close(idle.done)
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		sleep:   sleepContext,
		now:     time.Now,
		status:  Status{State: StateIdle},
		current: idle,
	}
}

func closeSource(src PacketSource) {
	if c, ok := src.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Printf("⚠️ Closing packet source: %v", err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// OnStatus registers fn to be called on every lifecycle change
func (o *Orchestrator) OnStatus(fn func(Status)) {
	o.mu.Lock()
	o.listeners = append(o.listeners, fn)
	o.mu.Unlock()
}

// Status returns the current status
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// errAlreadyRunning marks a start for the match already being ingested
var errAlreadyRunning = errors.New("already ingesting this match")

func (o *Orchestrator) begin(matchID string) error {
	if matchID == "" {
		return fmt.Errorf("match id is required")
	}
	o.mu.Lock()
	if o.status.State == StateIngesting {
		current := o.status.MatchID
		o.mu.Unlock()
		if current == matchID {
			log.Printf("⚠️ Ingestion for %s already running, ignoring start", matchID)
			return errAlreadyRunning
		}
		return fmt.Errorf("%w (%s)", ErrBusy, current)
	}
	started := o.now().UTC()
	o.status = Status{State: StateIngesting, MatchID: matchID, StartedAt: &started}
	o.current = &runHandle{done: make(chan struct{})}
	o.stopping.Store(false)
	snap := o.status
	listeners := append([]func(Status){}, o.listeners...)
	o.mu.Unlock()

	observability.SetIngestionActive(true)
	log.Printf("✅ Ingestion started for %s", matchID)
	for _, fn := range listeners {
		fn(snap)
	}
	return nil
}

// Start ingests matchID from src in the background. It returns once the
// run is registered; use Wait for the outcome. Only Stop ends the run early;
// ctx supplies values, not cancellation. When Start returns nil it owns src
// and closes it if src is an io.Closer.
func (o *Orchestrator) Start(ctx context.Context, matchID string, src PacketSource) error {
	if err := o.begin(matchID); err != nil {
		if errors.Is(err, errAlreadyRunning) {
			closeSource(src)
			return nil
		}
		return err
	}
	go o.run(context.WithoutCancel(ctx), matchID, src)
	return nil
}

// Run ingests matchID from src until the source is exhausted, Stop is
// called, ctx is cancelled or the circuit breaker trips. A trip returns
// a *match.IngestionError.
func (o *Orchestrator) Run(ctx context.Context, matchID string, src PacketSource) error {
	if err := o.begin(matchID); err != nil {
		if errors.Is(err, errAlreadyRunning) {
			return nil
		}
		return err
	}
	return o.run(ctx, matchID, src)
}

// Stop asks the current run to finish after the packet in flight
func (o *Orchestrator) Stop() {
	o.stopping.Store(true)
}

// Wait blocks until the current run ends and returns its error
func (o *Orchestrator) Wait() error {
	o.mu.Lock()
	run := o.current
	o.mu.Unlock()
	<-run.done
	return run.err
}

func (o *Orchestrator) run(ctx context.Context, matchID string, src PacketSource) (err error) {
	var detectors []detect.Detector
	if o.deps.Detectors != nil {
		detectors = o.deps.Detectors()
	}
	engine := detect.Bind(o.deps.Bus, matchID, detectors)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ingestion panicked: %v", r)
		}
		closeSource(src)
		engine.Close()
		o.finish(matchID, engine.Emitted(), err)
	}()

	var limiter *rate.Limiter
	if o.cfg.RatePerSecond > 0 {
		burst := o.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(o.cfg.RatePerSecond), burst)
	}

	consecutive := 0
	for {
		if o.stopping.Load() {
			log.Printf("🛑 Ingestion for %s stopped", matchID)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}

		start := time.Now()
		pkt, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			log.Printf("✅ Ingestion for %s reached end of stream", matchID)
			return nil
		}
		if err == nil && pkt.MatchID != matchID {
			log.Printf("⚠️ Skipping packet for match %s while ingesting %s", pkt.MatchID, matchID)
			continue
		}
		if err == nil {
			// every receipt gets its own raw log entry
			if pkt.IngestionID == "" {
				pkt.IngestionID = uuid.NewString()
			}
			err = o.process(ctx, pkt)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		outcome := outcomeOf(err)
		observability.RecordPacket(outcome, time.Since(start))
		if errors.Is(err, bus.ErrDuplicate) {
			consecutive = 0
			o.update(func(s *Status) { s.Duplicates++ })
			log.Printf("🔁 Skipping resent packet for %s: %v", matchID, err)
			continue
		}
		if err == nil {
			consecutive = 0
			o.update(func(s *Status) { s.Processed++ })
			continue
		}

		consecutive++
		o.update(func(s *Status) { s.Dropped++ })
		log.Printf("⚠️ Dropped %s packet for %s (%s): %v payload=%s", pkt.PayloadType(), matchID, outcome, err, string(pkt.Payload))
		if consecutive >= o.cfg.MaxConsecutiveErrors {
			observability.RecordHalt()
			return &match.IngestionError{MatchID: matchID, Consecutive: consecutive, Last: err}
		}
	}
}

// process runs one packet through every stage. Only errors that are not
// permanent are retried. A packet or event the bus already logged stops
// before the reducer so live state and the canonical log stay in step.
func (o *Orchestrator) process(ctx context.Context, pkt match.RawEventPacket) error {
	if err := o.retry(ctx, stagePublishRaw, func() error {
		return o.deps.Bus.PublishRaw(ctx, pkt)
	}); err != nil {
		return err
	}

	if err := o.deps.Validator.Validate(pkt); err != nil {
		return err
	}

	var evt match.CanonicalEvent
	if err := o.retry(ctx, stageNormalize, func() error {
		var nerr error
		evt, nerr = o.deps.Normalizer.Normalize(pkt)
		return nerr
	}); err != nil {
		return err
	}

	if err := o.retry(ctx, stagePublishCanonical, func() error {
		return o.deps.Bus.PublishCanonical(ctx, evt)
	}); err != nil {
		return err
	}

	_, err := o.deps.Store.ProcessEvent(evt)
	return err
}

// retry calls fn until it succeeds, fails permanently or the retry budget
// is spent. The delay starts at BaseDelay and doubles up to MaxDelay.
func (o *Orchestrator) retry(ctx context.Context, stage string, fn func() error) error {
	delay := o.cfg.BaseDelay
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !retryable(err) || ctx.Err() != nil {
			return err
		}
		if attempt >= o.cfg.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", stage, attempt, err)
		}
		observability.RecordRetry(stage)
		o.update(func(s *Status) { s.Retries++ })
		if serr := o.sleep(ctx, delay); serr != nil {
			return serr
		}
		delay *= 2
		if delay > o.cfg.MaxDelay {
			delay = o.cfg.MaxDelay
		}
	}
}

func retryable(err error) bool {
	if match.IsPermanent(err) || errors.Is(err, bus.ErrClosed) || errors.Is(err, bus.ErrDuplicate) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func outcomeOf(err error) string {
	var ve *match.ValidationError
	var ne *match.NormalizationError
	var se *match.StateError
	switch {
	case err == nil:
		return observability.OutcomeOK
	case errors.Is(err, bus.ErrDuplicate):
		return observability.OutcomeDuplicate
	case errors.As(err, &ve):
		return observability.OutcomeValidation
	case errors.As(err, &ne):
		return observability.OutcomeNormalization
	case errors.As(err, &se):
		return observability.OutcomeState
	default:
		return observability.OutcomeTransient
	}
}

func (o *Orchestrator) update(fn func(*Status)) {
	o.mu.Lock()
	fn(&o.status)
	o.mu.Unlock()
}

// finish always runs. It writes the summary audit record, then returns the
// orchestrator to idle and releases Wait in one step so a new Start can never
// observe or overwrite this run's outcome.
func (o *Orchestrator) finish(matchID string, signals int, err error) {
	finished := o.now().UTC()
	o.mu.Lock()
	o.status.Signals = signals
	o.status.FinishedAt = &finished
	var ie *match.IngestionError
	o.status.Halted = errors.As(err, &ie)
	if err != nil {
		o.status.LastError = err.Error()
	}
	snap := o.status
	snap.State = StateIdle
	o.mu.Unlock()

	observability.SetIngestionActive(false)

	status := audit.StatusSuccess
	if err != nil {
		status = audit.StatusFailure
		log.Printf("🛑 Ingestion for %s ended: %v", matchID, err)
	}
	o.deps.Audit.Record(audit.Record{
		Provider:   "ingest",
		ResourceID: matchID,
		Action:     audit.ActionSummaryCompute,
		Status:     status,
		Message:    fmt.Sprintf("processed=%d dropped=%d duplicates=%d retries=%d signals=%d halted=%t", snap.Processed, snap.Dropped, snap.Duplicates, snap.Retries, snap.Signals, snap.Halted),
		CreatedAt:  finished,
	})
	log.Printf("📊 Ingestion summary for %s: %d processed, %d dropped, %d duplicates, %d retries, %d signals", matchID, snap.Processed, snap.Dropped, snap.Duplicates, snap.Retries, snap.Signals)

	o.mu.Lock()
	o.status.State = StateIdle
	o.current.err = err
	close(o.current.done)
	listeners := append([]func(Status){}, o.listeners...)
	o.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
