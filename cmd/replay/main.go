// Package main replays a recorded match through the pipeline offline,
// streams it to a running server's live feed, or rebuilds match state from
// an event journal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"esports-insights/internal/audit"
	"esports-insights/internal/bus"
	"esports-insights/internal/config"
	"esports-insights/internal/detect"
	"esports-insights/internal/feed"
	"esports-insights/internal/ingest"
	"esports-insights/internal/match"
	"esports-insights/internal/normalize"
	"esports-insights/internal/review"
	"esports-insights/internal/schema"
	"esports-insights/internal/state"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(".env"); err == nil {
		log.Println("✅ Loaded environment from .env")
	}
	pipelineCfg, err := config.LoadPipeline()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	cfg := ingest.Config{
		MaxRetries:           pipelineCfg.MaxRetries,
		BaseDelay:            pipelineCfg.BaseDelay,
		MaxDelay:             pipelineCfg.MaxDelay,
		MaxConsecutiveErrors: pipelineCfg.MaxConsecutiveErrors,
		RatePerSecond:        pipelineCfg.RatePerSecond,
	}
	var matchID, packetFile, journalFile, feedSocket string

	flag.StringVar(&matchID, "match", "", "match id to replay (required)")
	flag.StringVar(&packetFile, "packets", "", "JSONL file of raw packets to ingest")
	flag.StringVar(&journalFile, "journal", "", "event journal to rebuild state from instead of ingesting")
	flag.StringVar(&feedSocket, "feed", "", "stream -packets to the live feed socket of a running server")
	flag.IntVar(&cfg.MaxConsecutiveErrors, "max-errors", cfg.MaxConsecutiveErrors, "consecutive failures before ingestion halts")
	flag.Float64Var(&cfg.RatePerSecond, "rate", cfg.RatePerSecond, "packets per second (0 = as fast as possible)")
	flag.Parse()

	if matchID == "" || (packetFile == "") == (journalFile == "") || (feedSocket != "" && packetFile == "") {
		fmt.Fprintln(os.Stderr, "usage: replay -match <id> (-packets <file> [-feed <socket>] | -journal <file>)")
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	switch {
	case journalFile != "":
		err = rebuild(matchID, journalFile)
	case feedSocket != "":
		err = stream(ctx, cfg, matchID, packetFile, feedSocket)
	default:
		err = replay(ctx, cfg, matchID, packetFile)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// replay drives a packet file through the full pipeline
func replay(ctx context.Context, cfg ingest.Config, matchID, path string) error {
	src, err := ingest.OpenFileSource(path)
	if err != nil {
		return err
	}

	eventBus := bus.New(bus.Options{})
	defer eventBus.Close()
	store := state.NewStore()
	gate := review.NewGate(review.Options{})
	defer gate.Attach(eventBus)()

	validator, err := schema.NewValidator()
	if err != nil {
		src.Close()
		return err
	}
	auditor := audit.NewAsync(audit.LogSink{})
	defer auditor.Close()

	orch := ingest.New(cfg, ingest.Deps{
		Bus:        eventBus,
		Validator:  validator,
		Normalizer: normalize.New(),
		Store:      store,
		Detectors:  func() []detect.Detector { return detect.DefaultDetectors(detect.DefaultIDFunc) },
		Audit:      auditor,
	})
	runErr := orch.Run(ctx, matchID, src)

	var halted *match.IngestionError
	if runErr != nil && !errors.As(runErr, &halted) && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	return printJSON(map[string]interface{}{
		"status":  orch.Status(),
		"state":   store.GetState(matchID),
		"pending": gate.Queue(),
	})
}

// stream sends a packet file to a running server, paced like ingestion
func stream(ctx context.Context, cfg ingest.Config, matchID, path, socket string) error {
	src, err := ingest.OpenFileSource(path)
	if err != nil {
		return err
	}
	defer src.Close()

	client, err := feed.Dial(socket, matchID)
	if err != nil {
		return err
	}
	var pace <-chan time.Time
	if cfg.RatePerSecond > 0 {
		ticker := time.NewTicker(time.Duration(float64(time.Second) / cfg.RatePerSecond))
		defer ticker.Stop()
		pace = ticker.C
	}

	for {
		pkt, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			client.Close()
			return err
		}
		if pace != nil {
			select {
			case <-pace:
			case <-ctx.Done():
				client.Close()
				return ctx.Err()
			}
		}
		if err := client.Send(pkt); err != nil {
			client.Close()
			return err
		}
	}
	log.Printf("📡 Streamed %d packets for %s", client.Sent(), matchID)
	return client.End()
}

// rebuild folds the journaled canonical events of one match into a fresh store
func rebuild(matchID, path string) error {
	rec, err := bus.LoadJournal(path)
	if err != nil {
		return err
	}
	var events []match.CanonicalEvent
	for _, evt := range rec.Canonical {
		if evt.MatchID == matchID {
			events = append(events, evt)
		}
	}
	if len(events) == 0 {
		return fmt.Errorf("no journaled events for match %s", matchID)
	}

	st, err := state.NewStore().Rebuild(matchID, events)
	if err != nil {
		return fmt.Errorf("rebuild %s: %w", matchID, err)
	}
	var signals []match.AgentSignal
	for _, sig := range rec.Signals {
		if sig.MatchID == matchID {
			signals = append(signals, sig)
		}
	}
	return printJSON(map[string]interface{}{
		"events":  len(events),
		"state":   st,
		"signals": signals,
	})
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
