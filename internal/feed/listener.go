package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"esports-insights/internal/ingest"
)

// Starter begins ingestion of a match from a packet source
type Starter interface {
	Start(ctx context.Context, matchID string, src ingest.PacketSource) error
}

// Listener accepts producer connections and hands each one to the
// orchestrator as a packet source
type Listener struct {
	socketPath string
	starter    Starter
	ctx        context.Context
	listener   net.Listener

	sources   map[*ConnSource]struct{}
	sourcesMu sync.Mutex

	// Stats
	accepted int64 // atomic
	rejected int64 // atomic

	// Control
	running int32 // atomic
	wg      sync.WaitGroup
}

// NewListener creates a feed listener. ctx supplies values to ingestion runs.
func NewListener(ctx context.Context, socketPath string, starter Starter) *Listener {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Listener{
		socketPath: socketPath,
		starter:    starter,
		ctx:        ctx,
		sources:    make(map[*ConnSource]struct{}),
	}
}

// Start listens and begins accepting producers
func (l *Listener) Start() error {
	if !atomic.CompareAndSwapInt32(&l.running, 0, 1) {
		return nil // Already running
	}

	listener, err := CreatePlatformListener(l.socketPath)
	if err != nil {
		atomic.StoreInt32(&l.running, 0)
		return err
	}
	l.listener = listener

	l.wg.Add(1)
	go l.acceptLoop()

	log.Printf("📡 Telemetry feed listening on %s", GetPlatformAddress(l.socketPath))
	return nil
}

// Stop closes the listener and every open feed connection
func (l *Listener) Stop() {
	if !atomic.CompareAndSwapInt32(&l.running, 1, 0) {
		return // Not running
	}

	l.listener.Close()

	l.sourcesMu.Lock()
	for src := range l.sources {
		src.Close()
	}
	l.sources = make(map[*ConnSource]struct{})
	l.sourcesMu.Unlock()

	l.wg.Wait()

	CleanupSocket(l.socketPath)
	log.Println("📡 Telemetry feed stopped")
}

// Addr returns the listening address, or nil before Start
func (l *Listener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// GetStats returns listener statistics
func (l *Listener) GetStats() (accepted int64, rejected int64) {
	return atomic.LoadInt64(&l.accepted), atomic.LoadInt64(&l.rejected)
}

// acceptLoop accepts new producer connections
func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for atomic.LoadInt32(&l.running) == 1 {
		conn, err := l.listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&l.running) == 0 {
				return // Expected during shutdown
			}
			log.Printf("⚠️ Feed accept error: %v", err)
			continue
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handshake(conn)
		}()
	}
}

// handshake reads the Hello and starts ingestion for the named match
func (l *Listener) handshake(conn net.Conn) {
	hello, err := readHello(conn)
	if err != nil {
		l.reject(conn, "", err.Error())
		return
	}

	src := NewConnSource(conn, hello.MatchID)
	if err := l.starter.Start(l.ctx, hello.MatchID, src); err != nil {
		l.reject(conn, hello.MatchID, err.Error())
		return
	}

	// a start for the match already being ingested is a no-op that closes src
	if src.closed.Load() {
		atomic.AddInt64(&l.rejected, 1)
		log.Printf("⚠️ Producer for %s dropped: match already ingesting", hello.MatchID)
		return
	}

	l.track(src)
	atomic.AddInt64(&l.accepted, 1)
	log.Printf("✅ Producer connected for %s", hello.MatchID)
	if err := src.reply(MsgAccept, Reply{MatchID: hello.MatchID}); err != nil {
		log.Printf("⚠️ Failed to acknowledge producer for %s: %v", hello.MatchID, err)
	}
}

func readHello(conn net.Conn) (Hello, error) {
	var hello Hello
	conn.SetReadDeadline(time.Now().Add(HelloTimeout))
	defer conn.SetReadDeadline(time.Time{})

	msgType, data, err := ReadMessage(conn)
	if err != nil {
		return hello, fmt.Errorf("read hello: %w", err)
	}
	if msgType != MsgHello {
		return hello, fmt.Errorf("expected hello, got message type 0x%02x", msgType)
	}
	if err := json.Unmarshal(data, &hello); err != nil {
		return hello, fmt.Errorf("decode hello: %w", err)
	}
	hello.MatchID = strings.TrimSpace(hello.MatchID)
	if hello.MatchID == "" {
		return hello, fmt.Errorf("hello is missing matchId")
	}
	return hello, nil
}

func (l *Listener) reject(conn net.Conn, matchID, reason string) {
	atomic.AddInt64(&l.rejected, 1)
	log.Printf("⚠️ Rejected producer for %q: %s", matchID, reason)
	conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	WriteMessage(conn, MsgReject, Reply{MatchID: matchID, Reason: reason})
	conn.Close()
}

// track remembers src so Stop can unblock it, forgetting sources the
// orchestrator has already closed
func (l *Listener) track(src *ConnSource) {
	l.sourcesMu.Lock()
	defer l.sourcesMu.Unlock()
	if atomic.LoadInt32(&l.running) == 0 {
		src.Close()
		return
	}
	for s := range l.sources {
		if s.closed.Load() {
			delete(l.sources, s)
		}
	}
	l.sources[src] = struct{}{}
}
