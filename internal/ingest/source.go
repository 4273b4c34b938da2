package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"esports-insights/internal/match"
)

// PacketSource yields raw packets for one match. Next returns io.EOF when exhausted.
type PacketSource interface {
	Next(ctx context.Context) (match.RawEventPacket, error)
}

// maxLineSize bounds a single JSONL packet
const maxLineSize = 1 << 20

// FileSource reads one RawEventPacket per line from a JSONL file.
// Blank lines are skipped; a missing receivedAt is stamped with the read time.
type FileSource struct {
	file    *os.File
	scanner *bufio.Scanner
	line    int
	now     func() time.Time
}

// OpenFileSource opens path for reading
func OpenFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open packet file: %w", err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	return &FileSource{file: f, scanner: scanner, now: time.Now}, nil
}

func (s *FileSource) Next(ctx context.Context) (match.RawEventPacket, error) {
	for {
		if err := ctx.Err(); err != nil {
			return match.RawEventPacket{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return match.RawEventPacket{}, fmt.Errorf("read packet file: %w", err)
			}
			return match.RawEventPacket{}, io.EOF
		}
		s.line++
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var pkt match.RawEventPacket
		if err := json.Unmarshal(line, &pkt); err != nil {
			return match.RawEventPacket{}, fmt.Errorf("line %d: %w", s.line, err)
		}
		if pkt.ReceivedAt.IsZero() {
			pkt.ReceivedAt = s.now().UTC()
		}
		return pkt, nil
	}
}

// Close closes the underlying file
func (s *FileSource) Close() error {
	return s.file.Close()
}

// ChanSource adapts a channel of packets, e.g. a live provider feed.
// Closing the channel ends the source.
type ChanSource struct {
	C <-chan match.RawEventPacket
}

func (s ChanSource) Next(ctx context.Context) (match.RawEventPacket, error) {
	select {
	case <-ctx.Done():
		return match.RawEventPacket{}, ctx.Err()
	case pkt, ok := <-s.C:
		if !ok {
			return match.RawEventPacket{}, io.EOF
		}
		return pkt, nil
	}
}

// SliceSource replays a fixed list of packets
type SliceSource struct {
	Packets []match.RawEventPacket
	next    int
}

func (s *SliceSource) Next(ctx context.Context) (match.RawEventPacket, error) {
	if err := ctx.Err(); err != nil {
		return match.RawEventPacket{}, err
	}
	if s.next >= len(s.Packets) {
		return match.RawEventPacket{}, io.EOF
	}
	pkt := s.Packets[s.next]
	s.next++
	return pkt, nil
}
