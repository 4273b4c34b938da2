package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"esports-insights/internal/match"
)

const (
	JournalBufferSize    = 1024                   // Pending records before Append blocks
	JournalFlushSize     = 64                     // Records per batch write
	JournalFlushInterval = 100 * time.Millisecond // How often to flush
)

// ErrJournalStopped is returned by Append once the writer has shut down
var ErrJournalStopped = errors.New("journal stopped")

// JournalKind tags which log a record belongs to
type JournalKind string

const (
	JournalRaw       JournalKind = "raw"
	JournalCanonical JournalKind = "canonical"
	JournalSignal    JournalKind = "signal"
)

// JournalRecord is one line of the journal file
type JournalRecord struct {
	Kind     JournalKind     `json:"kind"`
	MatchID  string          `json:"matchId"`
	LoggedAt time.Time       `json:"loggedAt"`
	Data     json.RawMessage `json:"data"`
}

// Journal appends bus records to a newline-delimited JSON file from a
// single writer goroutine. Append blocks when the buffer is full.
type Journal struct {
	records chan JournalRecord

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	appendMu sync.RWMutex // held shared by Append, exclusively by Stop

	filePath string
	file     *os.File
	fileMu   sync.Mutex

	totalCount   uint64 // atomic
	writtenCount uint64 // atomic
	failedCount  uint64 // atomic
}

// NewJournal creates a journal; call Start before appending
func NewJournal() *Journal {
	return &Journal{
		records:  make(chan JournalRecord, JournalBufferSize),
		stopChan: make(chan struct{}),
	}
}

// Start opens filePath for append and begins the async writer
func (j *Journal) Start(filePath string) error {
	if j.running.Load() {
		return nil
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	j.filePath = filePath
	j.file = file

	j.running.Store(true)
	j.writerWg.Add(1)
	go j.writerLoop()

	log.Printf("📝 Journal writing to %s", filePath)
	return nil
}

// Stop flushes pending records and closes the file
func (j *Journal) Stop() {
	j.stopOnce.Do(func() {
		// wait out in-flight appends; the writer then drains everything queued
		j.appendMu.Lock()
		j.running.Store(false)
		j.appendMu.Unlock()
		close(j.stopChan)
		j.writerWg.Wait()

		j.fileMu.Lock()
		if j.file != nil {
			j.file.Close()
		}
		j.fileMu.Unlock()
	})
}

// Append queues v for writing. It waits for buffer space, so a slow disk
// slows the publisher; ctx bounds the wait.
func (j *Journal) Append(ctx context.Context, kind JournalKind, matchID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", kind, err)
	}
	rec := JournalRecord{Kind: kind, MatchID: matchID, LoggedAt: time.Now().UTC(), Data: data}

	j.appendMu.RLock()
	defer j.appendMu.RUnlock()
	if !j.running.Load() {
		return ErrJournalStopped
	}
	select {
	case j.records <- rec:
		atomic.AddUint64(&j.totalCount, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writerLoop batches records and writes them to disk
func (j *Journal) writerLoop() {
	defer j.writerWg.Done()

	ticker := time.NewTicker(JournalFlushInterval)
	defer ticker.Stop()

	batch := make([]JournalRecord, 0, JournalFlushSize)

	for {
		select {
		case <-j.stopChan:
			// Final flush
			for {
				batch = j.collectBatch(batch)
				if len(batch) == 0 {
					return
				}
				j.flushBatch(batch)
				batch = batch[:0]
			}

		case rec := <-j.records:
			batch = append(batch, rec)
			if len(batch) >= JournalFlushSize {
				j.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			batch = j.collectBatch(batch)
			if len(batch) > 0 {
				j.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

// collectBatch drains whatever is already queued, up to the flush size
func (j *Journal) collectBatch(batch []JournalRecord) []JournalRecord {
	for len(batch) < JournalFlushSize {
		select {
		case rec := <-j.records:
			batch = append(batch, rec)
		default:
			return batch
		}
	}
	return batch
}

// flushBatch writes records to disk (append-only, newline-delimited JSON)
func (j *Journal) flushBatch(batch []JournalRecord) {
	j.fileMu.Lock()
	defer j.fileMu.Unlock()

	if j.file == nil {
		return
	}

	w := bufio.NewWriter(j.file)
	var written uint64
	for _, rec := range batch {
		data, err := json.Marshal(rec)
		if err != nil {
			atomic.AddUint64(&j.failedCount, 1)
			continue
		}
		w.Write(data)
		w.WriteByte('\n')
		written++
	}
	if err := w.Flush(); err != nil {
		atomic.AddUint64(&j.failedCount, written)
		log.Printf("⚠️ Journal flush to %s failed: %v", j.filePath, err)
		return
	}
	atomic.AddUint64(&j.writtenCount, written)
}

// GetStats returns journal counters
func (j *Journal) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"total":   atomic.LoadUint64(&j.totalCount),
		"written": atomic.LoadUint64(&j.writtenCount),
		"failed":  atomic.LoadUint64(&j.failedCount),
		"pending": len(j.records),
		"running": j.running.Load(),
	}
}

// Replay is the decoded content of a journal file
type Replay struct {
	Raw       []match.RawEventPacket
	Canonical []match.CanonicalEvent
	Signals   []match.AgentSignal
}

// LoadJournal reads a journal file back into typed logs, in file order.
func LoadJournal(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	out := &Replay{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec JournalRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("journal line %d: %w", line, err)
		}
		switch rec.Kind {
		case JournalRaw:
			var p match.RawEventPacket
			err = json.Unmarshal(rec.Data, &p)
			out.Raw = append(out.Raw, p)
		case JournalCanonical:
			var e match.CanonicalEvent
			err = json.Unmarshal(rec.Data, &e)
			out.Canonical = append(out.Canonical, e)
		case JournalSignal:
			var s match.AgentSignal
			err = json.Unmarshal(rec.Data, &s)
			out.Signals = append(out.Signals, s)
		default:
			err = fmt.Errorf("unknown record kind %q", rec.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("journal line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return out, nil
}
