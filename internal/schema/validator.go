// Package schema performs structural checks on raw provider packets before
// any semantic interpretation. It fails closed: a packet either passes
// completely or is rejected with the path of the first violated field.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"esports-insights/internal/match"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed packet.schema.json
var packetSchema []byte

const packetSchemaURL = "https://esports-insights.local/schema/raw-packet.json"

var missingPropRe = regexp.MustCompile(`missing propert(?:y|ies):?\s*['"]([^'"]+)['"]`)

// Validator checks raw packets against the embedded packet schema.
// Safe for concurrent use.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded schema
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(packetSchemaURL, bytes.NewReader(packetSchema)); err != nil {
		return nil, fmt.Errorf("add packet schema: %w", err)
	}
	compiled, err := compiler.Compile(packetSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile packet schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// MustNewValidator panics if the embedded schema does not compile
func MustNewValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate returns nil or a *match.ValidationError naming the violated field
func (v *Validator) Validate(pkt match.RawEventPacket) error {
	doc, err := packetDocument(pkt)
	if err != nil {
		return err
	}

	if err := v.schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return leafError(ve)
		}
		return &match.ValidationError{Reason: err.Error()}
	}
	return nil
}

// packetDocument rebuilds the packet as a generic JSON value for the schema.
// Numbers stay json.Number so integer checks see the provider's exact value.
func packetDocument(pkt match.RawEventPacket) (map[string]any, error) {
	if len(bytes.TrimSpace(pkt.Payload)) == 0 {
		return nil, &match.ValidationError{Path: "/payload", Reason: "missing payload"}
	}

	dec := json.NewDecoder(bytes.NewReader(pkt.Payload))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, &match.ValidationError{Path: "/payload", Reason: "payload is not valid JSON: " + err.Error()}
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, &match.ValidationError{Path: "/payload", Reason: "unexpected trailing JSON in payload"}
	}

	doc := map[string]any{
		"ingestionId":     pkt.IngestionID,
		"providerEventId": pkt.ProviderEventID,
		"matchId":         pkt.MatchID,
		"game":            pkt.Game,
		"payload":         payload,
	}
	if !pkt.ReceivedAt.IsZero() {
		doc["receivedAt"] = pkt.ReceivedAt.UTC().Format(time.RFC3339Nano)
	}
	return doc, nil
}

// leafError descends to the most specific cause and converts it
func leafError(ve *jsonschema.ValidationError) *match.ValidationError {
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	path := leaf.InstanceLocation
	if m := missingPropRe.FindStringSubmatch(leaf.Message); m != nil {
		path = path + "/" + m[1]
	}
	if path == "" {
		path = "/"
	}
	return &match.ValidationError{Path: path, Reason: leaf.Message}
}
