// Package feed carries live telemetry from a local producer into the
// ingestion orchestrator over a Unix domain socket (TCP localhost on Windows).
//
// Every message is an 8-byte header followed by a JSON body. A connection
// opens with MsgHello naming the match, then streams MsgPacket messages and
// ends with MsgEnd or by closing.
package feed

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"esports-insights/internal/match"
)

const (
	// DefaultSocketPath is the Unix socket path for the feed
	DefaultSocketPath = "/tmp/esports-insights.sock"

	// DefaultTCPPort is used instead of a socket path on Windows
	DefaultTCPPort = "127.0.0.1:7070"

	// Message types
	MsgHello  byte = 0x01
	MsgPacket byte = 0x02
	MsgPing   byte = 0x03
	MsgPong   byte = 0x04
	MsgEnd    byte = 0x05
	MsgAccept byte = 0x06
	MsgReject byte = 0x07

	// Protocol version for compatibility checking
	ProtocolVersion uint16 = 1

	// Connection settings
	MaxMessageSize = 1024 * 1024 // 1MB max message
	WriteTimeout   = time.Second
	HelloTimeout   = 5 * time.Second
	ReconnectDelay = 500 * time.Millisecond
	MaxReconnects  = 20
)

// Hello opens a feed connection
type Hello struct {
	MatchID string `json:"matchId"`
	Game    string `json:"game,omitempty"`
}

// Reply answers a Hello with MsgAccept or MsgReject
type Reply struct {
	MatchID string `json:"matchId"`
	Reason  string `json:"reason,omitempty"`
}

// Header is the message header for framing
type Header struct {
	Version  uint16
	Type     byte
	Reserved byte
	Length   uint32
}

const HeaderSize = 8 // 2 + 1 + 1 + 4

// WriteMessage writes a framed message. A nil v sends an empty body.
func WriteMessage(w io.Writer, msgType byte, v interface{}) error {
	var body []byte
	if v != nil {
		var err error
		if body, err = json.Marshal(v); err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
	}
	if len(body) > MaxMessageSize {
		return fmt.Errorf("message too large: %d > %d", len(body), MaxMessageSize)
	}

	buf := make([]byte, HeaderSize+len(body))
	binary.LittleEndian.PutUint16(buf[0:2], ProtocolVersion)
	buf[2] = msgType
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(body)))
	copy(buf[HeaderSize:], body)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ReadMessage reads a framed message. A clean close before any header
// byte returns io.EOF unwrapped.
func ReadMessage(r io.Reader) (byte, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, fmt.Errorf("read header: %w", err)
	}

	header := Header{
		Version: binary.LittleEndian.Uint16(headerBuf[0:2]),
		Type:    headerBuf[2],
		Length:  binary.LittleEndian.Uint32(headerBuf[4:8]),
	}
	if header.Version != ProtocolVersion {
		return 0, nil, fmt.Errorf("version mismatch: got %d, want %d", header.Version, ProtocolVersion)
	}
	if header.Length > MaxMessageSize {
		return 0, nil, fmt.Errorf("message too large: %d > %d", header.Length, MaxMessageSize)
	}

	var body []byte
	if header.Length > 0 {
		body = make([]byte, header.Length)
		if _, err := io.ReadFull(r, body); err != nil {
			return 0, nil, fmt.Errorf("read body: %w", err)
		}
	}
	return header.Type, body, nil
}

// DecodePacket decodes a MsgPacket body
func DecodePacket(data []byte) (match.RawEventPacket, error) {
	var pkt match.RawEventPacket
	if err := json.Unmarshal(data, &pkt); err != nil {
		return pkt, fmt.Errorf("decode packet: %w", err)
	}
	return pkt, nil
}

// CleanupSocket removes the socket file if it exists
func CleanupSocket(path string) error {
	if _, err := os.Stat(path); err == nil {
		return os.Remove(path)
	}
	return nil
}
