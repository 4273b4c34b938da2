package config

import (
	"testing"
	"time"
)

func TestLoadKeepsDefaults(t *testing.T) {
	t.Setenv("AUTH_TOKENS", "tok:alice:reviewer")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	def := Default()
	if cfg.Server.Port != def.Server.Port {
		t.Errorf("Expected default port %d, got %d", def.Server.Port, cfg.Server.Port)
	}
	if cfg.Pipeline.MaxConsecutiveErrors != 10 || cfg.Pipeline.BaseDelay != 100*time.Millisecond {
		t.Errorf("Pipeline defaults lost: %+v", cfg.Pipeline)
	}
	if cfg.Storage.AuditDSN != "log" {
		t.Errorf("Expected log audit sink, got %q", cfg.Storage.AuditDSN)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("INGEST_MAX_CONSECUTIVE_ERRORS", "4")
	t.Setenv("INGEST_MAX_DELAY", "5s")
	t.Setenv("AUDIT_DSN", "sqlite:///tmp/audit.db")
	t.Setenv("AUTH_TOKENS", "a:alice:reviewer,b:bob:admin")
	t.Setenv("ALLOWED_ORIGINS", "https://dash.example")
	t.Setenv("FEED_SOCKET", "/run/esports/feed.sock")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("PORT override ignored: %d", cfg.Server.Port)
	}
	if cfg.Pipeline.MaxConsecutiveErrors != 4 || cfg.Pipeline.MaxDelay != 5*time.Second {
		t.Errorf("Pipeline overrides ignored: %+v", cfg.Pipeline)
	}
	if len(cfg.Auth.Tokens) != 2 {
		t.Errorf("Expected 2 tokens, got %v", cfg.Auth.Tokens)
	}
	if cfg.Pipeline.FeedSocket != "/run/esports/feed.sock" {
		t.Errorf("FEED_SOCKET override ignored: %q", cfg.Pipeline.FeedSocket)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://dash.example" {
		t.Errorf("Origins override ignored: %v", cfg.Server.AllowedOrigins)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"bad port", func(c *AppConfig) { c.Server.Port = 0 }},
		{"negative retries", func(c *AppConfig) { c.Pipeline.MaxRetries = -1 }},
		{"zero breaker", func(c *AppConfig) { c.Pipeline.MaxConsecutiveErrors = 0 }},
		{"inverted delays", func(c *AppConfig) { c.Pipeline.MaxDelay = time.Millisecond }},
		{"auth without tokens", func(c *AppConfig) { c.Auth.Tokens = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.Tokens = []string{"t:alice:reviewer"}
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestLoadPipelineIgnoresAuth(t *testing.T) {
	t.Setenv("AUTH_TOKENS", "")
	t.Setenv("INGEST_MAX_RETRIES", "5")

	cfg, err := LoadPipeline()
	if err != nil {
		t.Fatalf("LoadPipeline failed: %v", err)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("Expected 5 retries, got %d", cfg.MaxRetries)
	}

	t.Setenv("INGEST_MAX_CONSECUTIVE_ERRORS", "0")
	if _, err := LoadPipeline(); err == nil {
		t.Error("Expected validation error for a zero breaker")
	}
}
