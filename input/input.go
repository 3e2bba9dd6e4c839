// Package input defines the surface shared by the ingestion transports:
// the wire envelope records arrive in and the submission interface the
// engine exposes to them.
package input

import (
	"encoding/json"
	"fmt"

	"github.com/c360/timemerge/errors"
	"github.com/c360/timemerge/record"
)

// Submitter accepts one record from a named channel. It is satisfied by
// engine.Engine.
type Submitter interface {
	Submit(channel string, ts record.Timestamp, payload []byte) error
}

// Envelope is the wire format records arrive in on every transport. The
// payload is opaque; only channel and timestamp drive the merge.
type Envelope struct {
	Channel   string `json:"channel"`
	Timestamp uint64 `json:"timestamp"`
	Payload   []byte `json:"payload,omitempty"`
}

// ParseEnvelope decodes and validates a JSON envelope.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.WrapInvalid(err, "Envelope", "ParseEnvelope", "decode envelope")
	}
	if env.Channel == "" {
		return Envelope{}, errors.WrapInvalid(
			fmt.Errorf("envelope missing channel"),
			"Envelope", "ParseEnvelope", "validate envelope")
	}
	return env, nil
}
