// Package audit is the persistence boundary for pipeline outcomes.
// Writes are fire-and-forget from the pipeline's point of view: a failed
// write is logged and counted, never propagated.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"esports-insights/internal/observability"
)

// Status values for audit records
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Actions written by the pipeline
const (
	ActionSummaryCompute = "summary.compute"
	ActionReviewApprove  = "review.approve"
	ActionReviewReject   = "review.reject"
)

const writeTimeout = 5 * time.Second

// ErrInvalidRecord is returned for a record missing a required field
var ErrInvalidRecord = errors.New("invalid audit record")

// Record is one audit tuple
type Record struct {
	Provider   string    `json:"provider"`
	ResourceID string    `json:"resourceId"`
	Action     string    `json:"action"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
}

// normalize trims fields, checks required ones and stamps CreatedAt
func (r Record) normalize() (Record, error) {
	r.Provider = strings.TrimSpace(r.Provider)
	r.ResourceID = strings.TrimSpace(r.ResourceID)
	r.Action = strings.TrimSpace(r.Action)
	r.Status = strings.TrimSpace(r.Status)
	r.Message = strings.TrimSpace(r.Message)
	switch {
	case r.Provider == "":
		return r, fmt.Errorf("%w: provider is required", ErrInvalidRecord)
	case r.ResourceID == "":
		return r, fmt.Errorf("%w: resource id is required", ErrInvalidRecord)
	case r.Action == "":
		return r, fmt.Errorf("%w: action is required", ErrInvalidRecord)
	case r.Status == "":
		return r, fmt.Errorf("%w: status is required", ErrInvalidRecord)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return r, nil
}

// Sink stores audit records
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// LogSink writes records to the process log
type LogSink struct{}

func (LogSink) Write(ctx context.Context, rec Record) error {
	rec, err := rec.normalize()
	if err != nil {
		return err
	}
	log.Printf("🧾 audit %s %s %s/%s: %s", rec.Action, rec.Status, rec.Provider, rec.ResourceID, rec.Message)
	return nil
}

func (LogSink) Close() error { return nil }

// MemorySink keeps records in memory
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Write(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, err := rec.normalize()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

// Records returns a copy of everything written so far
func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

func (m *MemorySink) Close() error { return nil }

// Async wraps a Sink so callers never block on or see its failures
type Async struct {
	sink Sink
	wg   sync.WaitGroup
}

// NewAsync wraps sink
func NewAsync(sink Sink) *Async {
	return &Async{sink: sink}
}

// Record writes rec in the background. Failures are logged and counted.
func (a *Async) Record(rec Record) {
	if a == nil || a.sink == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := a.sink.Write(ctx, rec); err != nil {
			observability.RecordAuditFailure()
			log.Printf("⚠️ Audit write failed (%s %s): %v", rec.Action, rec.ResourceID, err)
		}
	}()
}

// Flush waits for in-flight writes
func (a *Async) Flush() {
	if a == nil {
		return
	}
	a.wg.Wait()
}

// Close flushes and closes the underlying sink
func (a *Async) Close() error {
	if a == nil || a.sink == nil {
		return nil
	}
	a.Flush()
	return a.sink.Close()
}
