package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"esports-insights/internal/match"
)

// ErrRejected is returned by Dial when the server refuses the match
var ErrRejected = errors.New("feed rejected")

// Client streams packets for one match to a running server
type Client struct {
	conn    net.Conn
	matchID string
	sent    int64
}

// Dial connects with retries, sends the Hello and waits for the answer
func Dial(socketPath, matchID string) (*Client, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	var conn net.Conn
	var lastErr error
	for i := 0; i < MaxReconnects; i++ {
		conn, lastErr = ConnectPlatform(socketPath)
		if lastErr == nil {
			break
		}
		time.Sleep(ReconnectDelay)
	}
	if lastErr != nil {
		return nil, fmt.Errorf("connect failed after %d attempts: %w", MaxReconnects, lastErr)
	}

	conn.SetDeadline(time.Now().Add(HelloTimeout))
	if err := WriteMessage(conn, MsgHello, Hello{MatchID: matchID}); err != nil {
		conn.Close()
		return nil, err
	}
	msgType, data, err := ReadMessage(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read reply: %w", err)
	}
	conn.SetDeadline(time.Time{})

	var reply Reply
	if len(data) > 0 {
		if err := json.Unmarshal(data, &reply); err != nil {
			conn.Close()
			return nil, fmt.Errorf("decode reply: %w", err)
		}
	}
	if msgType != MsgAccept {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrRejected, reply.Reason)
	}

	log.Printf("✅ Connected to feed at %s for %s", GetPlatformAddress(socketPath), matchID)
	return &Client{conn: conn, matchID: matchID}, nil
}

// Send writes one packet
func (c *Client) Send(pkt match.RawEventPacket) error {
	c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := WriteMessage(c.conn, MsgPacket, pkt); err != nil {
		return err
	}
	c.sent++
	return nil
}

// Sent returns the number of packets written
func (c *Client) Sent() int64 { return c.sent }

// End tells the server the match stream is complete and closes the connection
func (c *Client) End() error {
	c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	err := WriteMessage(c.conn, MsgEnd, nil)
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close closes the connection without sending MsgEnd
func (c *Client) Close() error {
	return c.conn.Close()
}
