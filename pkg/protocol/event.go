package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

// Event is a client-originated message targeting one handler.
//
// Handler is a dotted path whose last segment names the handler and whose
// prefix addresses the state node it belongs to ("root.cart.add" invokes
// handler "add" on node "root.cart"). SentAt is the client-assigned
// delivery timestamp in Unix milliseconds; the server never reorders main
// queue events, so it is informational only.
type Event struct {
	Token   string `json:"session_token,omitempty"`
	Handler string `json:"handler_path"`
	Args    []any  `json:"args,omitempty"`
	SentAt  int64  `json:"ts,omitempty"`
}

// ErrBadHandlerPath is returned for events without a usable handler path.
var ErrBadHandlerPath = errors.New("protocol: bad handler path")

// NodePath returns the state node the handler belongs to, and the handler
// name ("root.cart.add" -> "root.cart", "add").
func (ev *Event) NodePath() (node, handler string) {
	i := strings.LastIndex(ev.Handler, ".")
	if i < 0 {
		return "", ev.Handler
	}
	return ev.Handler[:i], ev.Handler[i+1:]
}

// DecodeEvent decodes and validates an event payload.
func DecodeEvent(raw json.RawMessage) (*Event, error) {
	var ev Event
	if err := decodePayload(raw, &ev); err != nil {
		return nil, err
	}
	if ev.Handler == "" || strings.HasPrefix(ev.Handler, ".") || strings.HasSuffix(ev.Handler, ".") {
		return nil, ErrBadHandlerPath
	}
	return &ev, nil
}

// EncodeEvent serializes an event into its envelope.
func EncodeEvent(ev *Event) []byte {
	return MustEncode(MsgEvent, ev)
}
