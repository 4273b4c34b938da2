// Package observability holds the process metrics and the localhost debug server.
package observability

import (
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Packet outcomes, used as bounded label values
const (
	OutcomeOK            = "ok"
	OutcomeValidation    = "validation"
	OutcomeNormalization = "normalization"
	OutcomeState         = "state"
	OutcomeTransient     = "transient"
	OutcomeDuplicate     = "duplicate"
)

// Metrics with bounded cardinality (no per-match or per-player labels)
var (
	// Pipeline metrics
	packetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_packets_total",
		Help: "Raw packets processed, by outcome",
	}, []string{"outcome"})

	packetDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_packet_duration_seconds",
		Help:    "Time to take one packet from raw publish to reduced state",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_retries_total",
		Help: "Transient-error retries, by pipeline stage",
	}, []string{"stage"}) // Bounded: "publish_raw", "normalize", "publish_canonical"

	ingestionHalted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_circuit_breaker_trips_total",
		Help: "Ingestion runs halted by the consecutive-error breaker",
	})

	ingestionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_active",
		Help: "1 while a match is being ingested",
	})

	subscriberFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_subscriber_failures_total",
		Help: "Subscriber callbacks that returned an error or panicked",
	}, []string{"stream"}) // Bounded: "raw", "canonical", "signal"

	signalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detector_signals_total",
		Help: "Signals emitted by detectors",
	}, []string{"type"})

	reviewDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_decisions_total",
		Help: "Review gate decisions",
	}, []string{"status"})

	reviewQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "review_queue_depth",
		Help: "Signals waiting for review",
	})

	auditFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Audit records that could not be written",
	})

	// DoS detection metrics - use ONLY bounded label values
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "invalid", "ws_limit"

	// HTTP metrics with bounded labels
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is route pattern, not full URL

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	// WebSocket metrics
	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket messages sent",
	})
)

// DebugConfig configures the debug server
type DebugConfig struct {
	Enabled       bool
	ListenAddr    string // keep on loopback in production
	AllowExternal bool
	BasicAuthUser string // Optional basic auth
	BasicAuthPass string
}

// DefaultDebugConfig returns safe defaults
func DefaultDebugConfig() DebugConfig {
	return DebugConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060", // Localhost only - NEVER expose externally
	}
}

// isLoopback reports whether addr binds only to the local machine
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// DebugHandler builds the pprof + metrics + health mux
func DebugHandler(cfg DebugConfig) http.Handler {
	mux := http.NewServeMux()

	// pprof endpoints for profiling
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.BasicAuthUser != "" {
		return basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}
	return mux
}

// StartDebugServer starts the internal observability server.
// It binds to loopback unless AllowExternal is set.
func StartDebugServer(cfg DebugConfig) error {
	if !cfg.Enabled {
		log.Println("📊 Debug server disabled")
		return nil
	}

	if !isLoopback(cfg.ListenAddr) && !cfg.AllowExternal {
		log.Println("⚠️ Debug server forced to localhost for security")
		cfg.ListenAddr = "127.0.0.1:6060"
	}

	handler := DebugHandler(cfg)

	go func() {
		log.Printf("📊 Debug server starting on %s", cfg.ListenAddr)
		log.Printf("   - pprof:   http://%s/debug/pprof/", cfg.ListenAddr)
		log.Printf("   - metrics: http://%s/metrics", cfg.ListenAddr)

		if err := http.ListenAndServe(cfg.ListenAddr, handler); err != nil {
			log.Printf("⚠️ Debug server error: %v", err)
		}
	}()

	return nil
}

func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecordPacket counts one processed packet and its latency
func RecordPacket(outcome string, duration time.Duration) {
	packetsTotal.WithLabelValues(outcome).Inc()
	packetDuration.Observe(duration.Seconds())
}

// RecordRetry counts a transient-error retry at stage
func RecordRetry(stage string) {
	retriesTotal.WithLabelValues(stage).Inc()
}

// RecordHalt counts a circuit breaker trip
func RecordHalt() {
	ingestionHalted.Inc()
}

// SetIngestionActive flips the active gauge
func SetIngestionActive(active bool) {
	if active {
		ingestionActive.Set(1)
		return
	}
	ingestionActive.Set(0)
}

// RecordSubscriberFailure counts a failed bus callback
func RecordSubscriberFailure(stream string) {
	subscriberFailures.WithLabelValues(stream).Inc()
}

// RecordSignal counts an emitted detector signal
func RecordSignal(signalType string) {
	signalsTotal.WithLabelValues(signalType).Inc()
}

// RecordReviewDecision counts an approve/reject and updates the queue gauge
func RecordReviewDecision(status string, queueDepth int) {
	reviewDecisions.WithLabelValues(status).Inc()
	reviewQueueDepth.Set(float64(queueDepth))
}

// UpdateReviewQueue sets the queue depth gauge
func UpdateReviewQueue(depth int) {
	reviewQueueDepth.Set(float64(depth))
}

// RecordAuditFailure counts a failed audit write
func RecordAuditFailure() {
	auditFailures.Inc()
}

// RecordConnectionRejected increments the rejection counter
// reason must be one of: "rate_limit", "origin", "invalid", "ws_limit"
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments WebSocket message counter
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}
