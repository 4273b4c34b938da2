package match

import (
	"errors"
	"fmt"
)

// ValidationError is a structural failure on a raw packet.
// Path is a JSON pointer into the packet, e.g. "/payload/economy/A".
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed at %s: %s", e.Path, e.Reason)
}

// NormalizationError reports a packet that could not be mapped to a canonical event.
// It keeps the offending type and the original packet for offline diagnosis.
type NormalizationError struct {
	EventType string
	Field     string
	Reason    string
	Packet    RawEventPacket
}

func (e *NormalizationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("normalize %s: %s", e.EventType, e.Reason)
	}
	return fmt.Sprintf("normalize %s: field %q %s", e.EventType, e.Field, e.Reason)
}

// StateError is a well-formed event that violates a match-state invariant
type StateError struct {
	MatchID   string
	EventType EventType
	Reason    string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state error on %s for match %s: %s", e.EventType, e.MatchID, e.Reason)
}

// IngestionError is raised once when the circuit breaker halts a match's ingestion
type IngestionError struct {
	MatchID     string
	Consecutive int
	Last        error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion halted for match %s after %d consecutive errors: %v", e.MatchID, e.Consecutive, e.Last)
}

func (e *IngestionError) Unwrap() error {
	return e.Last
}

// IsPermanent reports whether retrying err cannot change the outcome
func IsPermanent(err error) bool {
	var ve *ValidationError
	var ne *NormalizationError
	var se *StateError
	return errors.As(err, &ve) || errors.As(err, &ne) || errors.As(err, &se)
}
