package protocol

import (
	"encoding/json"
	"fmt"
)

// Delta describes what changed in a session's state tree since the previous
// delta. Nodes maps node path -> changed field -> new value; only fields
// whose values actually changed appear.
//
// Seq is monotonically increasing and gap-free per session. A snapshot
// carries every field of every node, is marked with Snapshot, and is tagged
// with the session's current sequence number, which is zero for a session
// that has emitted nothing yet. Applying deltas in sequence order to a
// mirror reproduces the exact backend tree.
//
// Ordered-sequence (List) fields always carry the full replacement value,
// never a positional patch.
type Delta struct {
	Token    string                    `json:"session_token,omitempty"`
	Seq      uint64                    `json:"seq"`
	Snapshot bool                      `json:"snapshot,omitempty"`
	Nodes    map[string]map[string]any `json:"nodes"`
}

// IsSnapshot reports whether this delta is a full-state snapshot.
func (d *Delta) IsSnapshot() bool {
	return d.Snapshot || d.Seq == 0
}

// FieldCount returns the number of field values the delta carries.
func (d *Delta) FieldCount() int {
	n := 0
	for _, fields := range d.Nodes {
		n += len(fields)
	}
	return n
}

// DecodeDelta decodes and validates a delta payload.
func DecodeDelta(raw json.RawMessage) (*Delta, error) {
	var d Delta
	if err := decodePayload(raw, &d); err != nil {
		return nil, err
	}
	if d.Nodes == nil {
		return nil, fmt.Errorf("protocol: delta %d has no nodes", d.Seq)
	}
	return &d, nil
}

// EncodeDelta serializes a delta into its envelope.
func EncodeDelta(d *Delta) []byte {
	return MustEncode(MsgDelta, d)
}
