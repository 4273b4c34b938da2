package api

import (
	"context"
	"net/http"
	"time"

	"esports-insights/internal/bus"
	"esports-insights/internal/ingest"
	"esports-insights/internal/match"
	"esports-insights/internal/observability"
	"esports-insights/internal/review"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// EventLog is the read side of the event bus used by the API.
type EventLog interface {
	MatchEvents(matchID string) []match.CanonicalEvent
	RawEvents(matchID string) []match.RawEventPacket
	Signals(matchID string) []match.AgentSignal
	AllCanonicalEvents() []match.CanonicalEvent
	RebuildFromEvents(matchID string, r bus.Rebuilder) (*match.MatchState, error)
}

// StateReader serves match snapshots and can rebuild them.
type StateReader interface {
	bus.Rebuilder
	GetState(matchID string) *match.MatchState
	Matches() []string
}

// ReviewQueue is the review gate as seen by the API.
type ReviewQueue interface {
	Queue() []match.AgentSignal
	Approve(signalID string, by review.Reviewer) (*match.AgentSignal, error)
	Reject(signalID string, by review.Reviewer) (*match.AgentSignal, error)
	Released(now time.Time) []review.Insight
}

// Ingestor controls the ingestion orchestrator.
type Ingestor interface {
	Start(ctx context.Context, matchID string, src ingest.PacketSource) error
	Stop()
	Status() ingest.Status
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	router := api.NewRouter(api.RouterConfig{
//	    Events: mockEvents,
//	    States: mockStates,
//	    Review: mockQueue,
//	    Ingest: mockIngest,
//	    RateLimitConfig: &api.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
//	})
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	Events EventLog
	States StateReader
	Review ReviewQueue
	Ingest Ingestor

	// Auth is nil when authentication is disabled; every caller then acts as a local admin.
	Auth *Authenticator

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter     *IPRateLimiter
	RateLimitConfig *RateLimitConfig

	// CORSOrigins defaults to localhost on any port
	CORSOrigins []string

	// PacketDir is the only directory POST /api/ingest/start may read from
	PacketDir string

	// IngestContext supplies values to ingestion runs started over HTTP
	IngestContext context.Context

	Now func() time.Time

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// routerHandlers holds the handler dependencies
type routerHandlers struct {
	events    EventLog
	states    StateReader
	review    ReviewQueue
	ingest    Ingestor
	packetDir string
	ingestCtx context.Context
	now       func() time.Time
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// It has no side effects: no goroutines, listeners or background workers,
// so it is safe to use with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	// Rate limiting before CORS to reject early
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	r.Use(withPrincipal(cfg.Auth))

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ingestCtx := cfg.IngestContext
	if ingestCtx == nil {
		ingestCtx = context.Background()
	}
	h := &routerHandlers{
		events:    cfg.Events,
		states:    cfg.States,
		review:    cfg.Review,
		ingest:    cfg.Ingest,
		packetDir: cfg.PacketDir,
		ingestCtx: ingestCtx,
		now:       now,
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Get("/status", handleAuthStatus(cfg.Auth != nil))
			if cfg.Auth != nil {
				r.Post("/login", cfg.Auth.handleLogin)
				r.Post("/logout", cfg.Auth.handleLogout)
			}
		})

		// Read-only views for any authenticated caller
		r.Group(func(r chi.Router) {
			r.Use(requireAuthenticated)

			r.Get("/matches", h.handleListMatches)
			r.Get("/matches/{matchID}/state", h.handleGetState)
			r.Get("/matches/{matchID}/events", h.handleGetEvents)
			r.Get("/matches/{matchID}/raw", h.handleGetRaw)
			r.Get("/matches/{matchID}/signals", h.handleGetSignals)
			r.Get("/events", h.handleAllEvents)

			r.Get("/review/queue", h.handleReviewQueue)
			r.Get("/insights", h.handleInsights)
			r.Get("/ingest/status", h.handleIngestStatus)
		})

		// Mutations need a reviewer or admin
		r.Group(func(r chi.Router) {
			r.Use(requireReviewer)

			r.Post("/matches/{matchID}/rebuild", h.handleRebuild)
			r.Post("/review/{signalID}/approve", h.handleApprove)
			r.Post("/review/{signalID}/reject", h.handleReject)
			r.Post("/ingest/start", h.handleIngestStart)
			r.Post("/ingest/stop", h.handleIngestStop)
		})
	})

	return r
}

// metricsMiddleware records latency and status per route pattern
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				endpoint = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RecordRequest(r.Method, endpoint, status, time.Since(start))
	})
}
