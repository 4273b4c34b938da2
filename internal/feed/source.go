package feed

import (
	"context"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"esports-insights/internal/match"
)

// ConnSource reads packets from one feed connection. It implements
// ingest.PacketSource; the stream ends with io.EOF on MsgEnd, when the
// producer disconnects or when the connection breaks.
type ConnSource struct {
	conn    net.Conn
	matchID string
	now     func() time.Time

	writeMu sync.Mutex
	closed  atomic.Bool

	received int64 // atomic
}

// NewConnSource wraps a connection whose Hello has already been read
func NewConnSource(conn net.Conn, matchID string) *ConnSource {
	return &ConnSource{conn: conn, matchID: matchID, now: time.Now}
}

// MatchID returns the match named in the Hello
func (s *ConnSource) MatchID() string { return s.matchID }

// Received returns the number of packets read so far
func (s *ConnSource) Received() int64 { return atomic.LoadInt64(&s.received) }

// Next blocks until the next packet arrives. Cancelling ctx unblocks the read.
func (s *ConnSource) Next(ctx context.Context) (match.RawEventPacket, error) {
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		msgType, data, err := ReadMessage(s.conn)
		if err != nil {
			if ctx.Err() != nil {
				return match.RawEventPacket{}, ctx.Err()
			}
			if err != io.EOF && !s.closed.Load() {
				log.Printf("⚠️ Feed connection for %s lost: %v", s.matchID, err)
			}
			return match.RawEventPacket{}, io.EOF
		}

		switch msgType {
		case MsgPacket:
			pkt, err := DecodePacket(data)
			if err != nil {
				return pkt, err
			}
			if pkt.ReceivedAt.IsZero() {
				pkt.ReceivedAt = s.now().UTC()
			}
			atomic.AddInt64(&s.received, 1)
			return pkt, nil

		case MsgEnd:
			log.Printf("✅ Feed for %s ended by producer after %d packets", s.matchID, s.Received())
			return match.RawEventPacket{}, io.EOF

		case MsgPing:
			s.reply(MsgPong, nil)

		default:
			log.Printf("⚠️ Ignoring feed message type 0x%02x for %s", msgType, s.matchID)
		}
	}
}

func (s *ConnSource) reply(msgType byte, v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	return WriteMessage(s.conn, msgType, v)
}

// Close closes the connection
func (s *ConnSource) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}
