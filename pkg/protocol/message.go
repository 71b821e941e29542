package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies the kind of message in an envelope.
type MessageType string

const (
	// Client -> server.
	MsgHello  MessageType = "hello"  // connection setup / resume request
	MsgEvent  MessageType = "event"  // UI event targeting a handler
	MsgAck    MessageType = "ack"    // acknowledges deltas up to a sequence
	MsgPong   MessageType = "pong"   // heartbeat response
	MsgResync MessageType = "resync" // request a fresh snapshot
	MsgBye    MessageType = "bye"    // orderly close

	// Server -> client.
	MsgWelcome MessageType = "welcome" // handshake result
	MsgDelta   MessageType = "delta"   // state changes (or snapshot)
	MsgPing    MessageType = "ping"    // heartbeat
	MsgError   MessageType = "error"   // reported failure
)

// MaxMessageSize is the default limit on a single encoded message.
const MaxMessageSize = 512 * 1024

// Decoding errors.
var (
	ErrEmptyMessage   = errors.New("protocol: empty message")
	ErrUnknownType    = errors.New("protocol: unknown message type")
	ErrMissingPayload = errors.New("protocol: missing payload")
)

// Envelope is the outer wrapper of every wire message.
type Envelope struct {
	Type MessageType     `json:"t"`
	Data json.RawMessage `json:"d,omitempty"`
}

// Encode wraps payload in an envelope of the given type and serializes it.
func Encode(t MessageType, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode %s: %w", t, err)
		}
		data = b
	}
	return json.Marshal(&Envelope{Type: t, Data: data})
}

// MustEncode is like Encode but panics on error. Valid for payload types
// this package defines, which are all marshalable by construction.
func MustEncode(t MessageType, payload any) []byte {
	b, err := Encode(t, payload)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses the envelope of a wire message. Payload decoding is left
// to the per-type Decode functions.
func Decode(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, ErrUnknownType
	}
	return &env, nil
}

// decodePayload unmarshals an envelope payload into v.
func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return ErrMissingPayload
	}
	return json.Unmarshal(raw, v)
}
