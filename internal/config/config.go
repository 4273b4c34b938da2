// Package config provides centralized configuration management.
// Each section has a Default*() constructor; environment variables override
// the defaults field by field.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int      `env:"PORT"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	RateLimitRPS   float64  `env:"RATE_LIMIT_RPS"`   // per-IP requests per second
	RateLimitBurst int      `env:"RATE_LIMIT_BURST"` // per-IP burst
	MaxWSClients   int      `env:"MAX_WS_CLIENTS"`
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:           3000,
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		RateLimitRPS:   10,
		RateLimitBurst: 20,
		MaxWSClients:   100,
	}
}

// =============================================================================
// PIPELINE CONFIGURATION
// =============================================================================

// PipelineConfig holds ingestion retry, circuit breaker and journal settings.
type PipelineConfig struct {
	MaxRetries           int           `env:"INGEST_MAX_RETRIES"`
	BaseDelay            time.Duration `env:"INGEST_BASE_DELAY"`
	MaxDelay             time.Duration `env:"INGEST_MAX_DELAY"`
	MaxConsecutiveErrors int           `env:"INGEST_MAX_CONSECUTIVE_ERRORS"`
	RatePerSecond        float64       `env:"INGEST_RATE_PER_SECOND"` // 0 = unpaced
	JournalPath          string        `env:"JOURNAL_PATH"`           // empty disables the journal
	DataDir              string        `env:"PACKET_DIR"`             // root for ingest file paths
	FeedSocket           string        `env:"FEED_SOCKET"`            // empty disables the live feed
}

// DefaultPipeline returns the default pipeline configuration.
func DefaultPipeline() PipelineConfig {
	return PipelineConfig{
		MaxRetries:           3,
		BaseDelay:            100 * time.Millisecond,
		MaxDelay:             2 * time.Second,
		MaxConsecutiveErrors: 10,
		JournalPath:          "events.jsonl",
		DataDir:              "data",
	}
}

// =============================================================================
// STORAGE CONFIGURATION
// =============================================================================

// StorageConfig selects the audit sink.
type StorageConfig struct {
	// AuditDSN is "log", "memory", "sqlite://<path>" or a postgres:// URL
	AuditDSN string `env:"AUDIT_DSN"`
}

// DefaultStorage returns the default storage configuration.
func DefaultStorage() StorageConfig {
	return StorageConfig{AuditDSN: "log"}
}

// =============================================================================
// AUTH CONFIGURATION
// =============================================================================

// AuthConfig holds reviewer authentication settings.
type AuthConfig struct {
	Enabled bool `env:"AUTH_ENABLED"`
	// Tokens are "token:reviewerID:role" entries
	Tokens        []string      `env:"AUTH_TOKENS" envSeparator:","`
	SessionSecret string        `env:"SESSION_SECRET"`
	SessionTTL    time.Duration `env:"SESSION_TTL"`
	SecureCookie  bool          `env:"SESSION_SECURE_COOKIE"`
}

// DefaultAuth returns the default auth configuration.
func DefaultAuth() AuthConfig {
	return AuthConfig{
		Enabled:    true,
		SessionTTL: 24 * time.Hour,
	}
}

// =============================================================================
// OBSERVABILITY CONFIGURATION
// =============================================================================

// ObservabilityConfig holds debug server settings.
type ObservabilityConfig struct {
	DebugEnabled  bool   `env:"DEBUG_SERVER_ENABLED"`
	DebugAddr     string `env:"DEBUG_SERVER_ADDR"`
	AllowExternal bool   `env:"DEBUG_ALLOW_EXTERNAL"`
	BasicAuthUser string `env:"DEBUG_BASIC_AUTH_USER"`
	BasicAuthPass string `env:"DEBUG_BASIC_AUTH_PASS"`
}

// DefaultObservability returns the default observability configuration.
func DefaultObservability() ObservabilityConfig {
	return ObservabilityConfig{
		DebugEnabled: true,
		DebugAddr:    "127.0.0.1:6060",
	}
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Server        ServerConfig
	Pipeline      PipelineConfig
	Storage       StorageConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
}

// Default returns the configuration with no environment applied.
func Default() AppConfig {
	return AppConfig{
		Server:        DefaultServer(),
		Pipeline:      DefaultPipeline(),
		Storage:       DefaultStorage(),
		Auth:          DefaultAuth(),
		Observability: DefaultObservability(),
	}
}

// Load returns the complete configuration with environment overrides.
// Variables that are unset keep their defaults.
func Load() (AppConfig, error) {
	cfg := Default()
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadPipeline returns only the pipeline section with environment overrides,
// for tools that do not serve HTTP.
func LoadPipeline() (PipelineConfig, error) {
	cfg := DefaultPipeline()
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	full := Default()
	full.Pipeline = cfg
	full.Auth.Enabled = false
	if err := full.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c AppConfig) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("invalid PORT %d", c.Server.Port)
	case c.Pipeline.MaxRetries < 0:
		return fmt.Errorf("INGEST_MAX_RETRIES must not be negative")
	case c.Pipeline.MaxConsecutiveErrors <= 0:
		return fmt.Errorf("INGEST_MAX_CONSECUTIVE_ERRORS must be positive")
	case c.Pipeline.BaseDelay <= 0 || c.Pipeline.MaxDelay < c.Pipeline.BaseDelay:
		return fmt.Errorf("INGEST_BASE_DELAY must be positive and not exceed INGEST_MAX_DELAY")
	case c.Auth.Enabled && len(c.Auth.Tokens) == 0:
		return fmt.Errorf("AUTH_ENABLED requires AUTH_TOKENS")
	}
	return nil
}
