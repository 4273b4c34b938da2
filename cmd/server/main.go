package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"esports-insights/internal/api"
	"esports-insights/internal/audit"
	"esports-insights/internal/bus"
	"esports-insights/internal/config"
	"esports-insights/internal/detect"
	"esports-insights/internal/feed"
	"esports-insights/internal/ingest"
	"esports-insights/internal/normalize"
	"esports-insights/internal/observability"
	"esports-insights/internal/review"
	"esports-insights/internal/schema"
	"esports-insights/internal/state"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🎮 ================================")
	log.Println("🎮  ESPORTS INSIGHTS - PIPELINE")
	log.Println("🎮  Telemetry → Signals → Review")
	log.Println("🎮 ================================")

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	serverCfg := appConfig.Server
	pipelineCfg := appConfig.Pipeline

	// Journal
	var journal *bus.Journal
	if pipelineCfg.JournalPath != "" {
		journal = bus.NewJournal()
		if err := journal.Start(pipelineCfg.JournalPath); err != nil {
			log.Printf("⚠️ Event journal disabled: %v", err)
			journal = nil
		} else {
			log.Printf("📝 Event journal: %s", pipelineCfg.JournalPath)
		}
	}
	eventBus := bus.New(bus.Options{Journal: journal})
	store := state.NewStore()

	// Audit trail
	sink, err := audit.BuildSinkFromDSN(appConfig.Storage.AuditDSN)
	if err != nil {
		log.Fatalf("❌ Audit sink: %v", err)
	}
	auditor := audit.NewAsync(sink)

	gate := review.NewGate(review.Options{Audit: auditor})
	detachGate := gate.Attach(eventBus)

	validator, err := schema.NewValidator()
	if err != nil {
		log.Fatalf("❌ Packet schema: %v", err)
	}

	orchestrator := ingest.New(ingest.Config{
		MaxRetries:           pipelineCfg.MaxRetries,
		BaseDelay:            pipelineCfg.BaseDelay,
		MaxDelay:             pipelineCfg.MaxDelay,
		MaxConsecutiveErrors: pipelineCfg.MaxConsecutiveErrors,
		RatePerSecond:        pipelineCfg.RatePerSecond,
	}, ingest.Deps{
		Bus:        eventBus,
		Validator:  validator,
		Normalizer: normalize.New(),
		Store:      store,
		Detectors:  func() []detect.Detector { return detect.DefaultDetectors(detect.DefaultIDFunc) },
		Audit:      auditor,
	})
	log.Printf("🛡️ Ingestion: %d retries, %v-%v backoff, halt after %d consecutive errors",
		pipelineCfg.MaxRetries, pipelineCfg.BaseDelay, pipelineCfg.MaxDelay, pipelineCfg.MaxConsecutiveErrors)

	// Reviewer authentication
	var authenticator *api.Authenticator
	if appConfig.Auth.Enabled {
		authenticator, err = api.NewAuthenticator(api.AuthOptions{
			Tokens:     appConfig.Auth.Tokens,
			Secret:     appConfig.Auth.SessionSecret,
			SessionTTL: appConfig.Auth.SessionTTL,
			Secure:     appConfig.Auth.SecureCookie,
		})
		if err != nil {
			log.Fatalf("❌ Reviewer tokens: %v", err)
		}
		log.Printf("🔐 Reviewer authentication ENABLED (%d tokens)", len(appConfig.Auth.Tokens))
	} else {
		log.Println("⚠️ Reviewer authentication DISABLED (set AUTH_ENABLED=true to enable)")
	}

	// Start debug server
	obsCfg := appConfig.Observability
	if obsCfg.DebugEnabled {
		debugCfg := observability.DebugConfig{
			Enabled:       true,
			ListenAddr:    obsCfg.DebugAddr,
			AllowExternal: obsCfg.AllowExternal,
			BasicAuthUser: obsCfg.BasicAuthUser,
			BasicAuthPass: obsCfg.BasicAuthPass,
		}
		if err := observability.StartDebugServer(debugCfg); err != nil {
			log.Printf("⚠️ Debug server disabled: %v", err)
		}
	}

	server := api.NewServer(api.ServerConfig{
		Bus:    eventBus,
		Store:  store,
		Gate:   gate,
		Ingest: orchestrator,
		Auth:   authenticator,
		RateLimit: api.RateLimitConfig{
			RequestsPerSecond: serverCfg.RateLimitRPS,
			Burst:             serverCfg.RateLimitBurst,
		},
		Origins:      serverCfg.AllowedOrigins,
		MaxWSClients: serverCfg.MaxWSClients,
		PacketDir:    pipelineCfg.DataDir,
	})

	// Live telemetry feed
	var feedListener *feed.Listener
	if pipelineCfg.FeedSocket != "" {
		feedListener = feed.NewListener(context.Background(), pipelineCfg.FeedSocket, orchestrator)
		if err := feedListener.Start(); err != nil {
			log.Printf("⚠️ Telemetry feed disabled: %v", err)
			feedListener = nil
		}
	}

	// Start API server in goroutine
	go func() {
		addr := ":" + strconv.Itoa(serverCfg.Port)
		log.Printf("🌐 API server on http://localhost%s", addr)
		log.Printf("📱 Dashboard socket: ws://localhost%s/ws", addr)
		if err := server.Start(addr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("✅ Server ready! Press Ctrl+C to stop.")
	<-quit

	log.Println("🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️ HTTP shutdown: %v", err)
	}
	if feedListener != nil {
		feedListener.Stop()
	}
	if err := orchestrator.Wait(); err != nil {
		log.Printf("⚠️ Last ingestion ended with: %v", err)
	}
	detachGate()
	eventBus.Close()
	if journal != nil {
		journal.Stop()
	}
	if err := auditor.Close(); err != nil {
		log.Printf("⚠️ Audit sink close: %v", err)
	}
	log.Println("👋 Goodbye!")
}
