package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"esports-insights/internal/bus"
	"esports-insights/internal/ingest"
	"esports-insights/internal/match"
	"esports-insights/internal/review"
	"esports-insights/internal/state"

	"github.com/go-chi/chi/v5"
)

// ServerConfig wires the running pipeline into the HTTP server.
type ServerConfig struct {
	Bus    *bus.Bus
	Store  *state.Store
	Gate   *review.Gate
	Ingest *ingest.Orchestrator
	Auth   *Authenticator

	RateLimit    RateLimitConfig
	Origins      []string
	MaxWSClients int
	PacketDir    string
}

// Server is the HTTP API server with WebSocket push.
type Server struct {
	cfg         ServerConfig
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
	httpServer  *http.Server

	unsubscribe []func()
}

// NewServer creates the API server.
//
// Background workers do NOT start until Start() is called, so the server
// can be constructed in tests without goroutines or listeners.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		cfg:         cfg,
		wsHub:       NewWebSocketHub(NewOriginPolicy(cfg.Origins), cfg.MaxWSClients),
		rateLimiter: NewIPRateLimiter(cfg.RateLimit),
	}

	var corsOrigins []string
	if len(cfg.Origins) > 0 {
		corsOrigins = cfg.Origins
	}
	s.router = NewRouter(RouterConfig{
		Events:      cfg.Bus,
		States:      cfg.Store,
		Review:      cfg.Gate,
		Ingest:      cfg.Ingest,
		Auth:        cfg.Auth,
		RateLimiter: s.rateLimiter,
		CORSOrigins: corsOrigins,
		PacketDir:   cfg.PacketDir,
	})

	s.wsHub.SetGreeting(s.greeting)
	s.router.With(requireAuthenticated).Get("/ws", s.wsHub.HandleWebSocket)
	return s
}

// greeting is the current queue and ingestion status for a new dashboard
func (s *Server) greeting() [][]byte {
	var out [][]byte
	if msg, err := Encode(EventReviewQueue, nonNil(s.cfg.Gate.Queue())); err == nil {
		out = append(out, msg)
	}
	if msg, err := Encode(EventIngestStatus, s.cfg.Ingest.Status()); err == nil {
		out = append(out, msg)
	}
	return out
}

// wire pushes pipeline changes to websocket clients
func (s *Server) wire() {
	s.unsubscribe = append(s.unsubscribe,
		s.cfg.Gate.Subscribe(func(queue []match.AgentSignal) {
			s.wsHub.Broadcast(EventReviewQueue, nonNil(queue))
		}),
		s.cfg.Bus.SubscribeSignal("websocket", func(ctx context.Context, sig match.AgentSignal) error {
			s.wsHub.Broadcast(EventSignalNew, sig)
			return nil
		}),
	)
	s.cfg.Ingest.OnStatus(func(st ingest.Status) {
		s.wsHub.Broadcast(EventIngestStatus, st)
	})
}

// Start wires websocket push, starts background workers and serves HTTP.
// It blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.wire()
	go s.wsHub.Run()
	s.rateLimiter.Start()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("🌐 API server starting on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Shutdown stops HTTP, background workers and any HTTP-started ingestion.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, unsub := range s.unsubscribe {
		unsub()
	}
	s.cfg.Ingest.Stop()
	s.rateLimiter.Stop()
	s.wsHub.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
