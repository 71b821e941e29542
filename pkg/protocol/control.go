package protocol

import "encoding/json"

// Hello is sent by the client immediately after the channel opens.
//
// An empty Token asks for a fresh session. A non-empty Token with LastSeq
// asks to resume: the server replays deltas after LastSeq if it can, or
// answers with a snapshot. Fresh forces a new session even when a token is
// presented (a brand-new tab that kept a stale cookie).
type Hello struct {
	Token   string `json:"session_token,omitempty"`
	LastSeq uint64 `json:"last_seq"`
	Fresh   bool   `json:"fresh,omitempty"`
}

// Welcome is the server's handshake answer. Seq is the session's current
// delta sequence; the client should expect Seq+1 next unless a snapshot
// follows. Resumed is false when the server issued a new session (including
// the stale-token case, where the client must discard its mirror).
type Welcome struct {
	Token      string `json:"session_token"`
	Seq        uint64 `json:"seq"`
	Resumed    bool   `json:"resumed,omitempty"`
	ServerTime int64  `json:"server_time"`
}

// Ack acknowledges receipt of deltas up to and including LastSeq, letting
// the server garbage-collect its replay history.
type Ack struct {
	LastSeq uint64 `json:"last_seq"`
}

// PingPong is the heartbeat payload, echoed back verbatim.
type PingPong struct {
	Timestamp int64 `json:"ts"`
}

// ResyncRequest asks the server for a fresh snapshot after the client
// observed a sequence gap.
type ResyncRequest struct {
	LastSeq uint64 `json:"last_seq"`
}

// Bye announces an orderly close.
type Bye struct {
	Reason string `json:"reason,omitempty"`
}

// DecodeHello decodes a hello payload.
func DecodeHello(raw json.RawMessage) (*Hello, error) {
	var h Hello
	if err := decodePayload(raw, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// DecodeWelcome decodes a welcome payload.
func DecodeWelcome(raw json.RawMessage) (*Welcome, error) {
	var w Welcome
	if err := decodePayload(raw, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// DecodeAck decodes an ack payload.
func DecodeAck(raw json.RawMessage) (*Ack, error) {
	var a Ack
	if err := decodePayload(raw, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// DecodePingPong decodes a ping or pong payload.
func DecodePingPong(raw json.RawMessage) (*PingPong, error) {
	var p PingPong
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeResyncRequest decodes a resync payload.
func DecodeResyncRequest(raw json.RawMessage) (*ResyncRequest, error) {
	var rr ResyncRequest
	if err := decodePayload(raw, &rr); err != nil {
		return nil, err
	}
	return &rr, nil
}

// DecodeBye decodes a bye payload.
func DecodeBye(raw json.RawMessage) (*Bye, error) {
	var b Bye
	if err := decodePayload(raw, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
