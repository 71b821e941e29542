package state

import (
	"encoding/json"
	"fmt"
)

// refKey is the wire tag for node references.
const refKey = "__ref"

// Ref is a pointer to another node in the tree, stored as its path.
// References serialize as {"__ref": "root.child"} rather than embedding the
// referenced node, preserving single-owner semantics on the wire.
type Ref string

// Path returns the referenced node path.
func (r Ref) Path() string {
	return string(r)
}

// IsZero reports whether the reference is empty.
func (r Ref) IsZero() bool {
	return r == ""
}

// MarshalJSON encodes the reference in its tagged-pointer wire form.
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{refKey: string(r)})
}

// UnmarshalJSON decodes the tagged-pointer wire form.
func (r *Ref) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	p, ok := m[refKey]
	if !ok {
		return fmt.Errorf("state: not a reference: %s", data)
	}
	*r = Ref(p)
	return nil
}
