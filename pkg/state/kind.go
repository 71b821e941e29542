package state

import "math"

// Kind is the declared semantic type of a field.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindInt
	KindFloat
	KindBool
	KindList // ordered sequence, serialized as a JSON array
	KindMap  // string-keyed mapping, serialized as a JSON object
	KindRef  // pointer to another node, serialized as {"__ref": path}
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindBool:
		return "Bool"
	case KindList:
		return "List"
	case KindMap:
		return "Map"
	case KindRef:
		return "Ref"
	default:
		return "Unknown"
	}
}

// zero returns the kind's zero value, used when a field declares no default.
func (k Kind) zero() any {
	switch k {
	case KindString:
		return ""
	case KindInt:
		return int64(0)
	case KindFloat:
		return float64(0)
	case KindBool:
		return false
	case KindList:
		return []any{}
	case KindMap:
		return map[string]any{}
	case KindRef:
		return Ref("")
	default:
		return nil
	}
}

// normalize validates v against the kind and converts it to the canonical
// in-memory representation (int64 for Int, float64 for Float, etc.).
// Returns false if v is not representable as this kind.
//
// Numeric coercions mirror what a JSON round-trip produces: integers arrive
// as float64 after decoding, so integral floats are accepted for Int fields.
func (k Kind) normalize(v any) (any, bool) {
	switch k {
	case KindString:
		s, ok := v.(string)
		return s, ok

	case KindInt:
		switch n := v.(type) {
		case int:
			return int64(n), true
		case int8:
			return int64(n), true
		case int16:
			return int64(n), true
		case int32:
			return int64(n), true
		case int64:
			return n, true
		case uint:
			return int64(n), true
		case uint8:
			return int64(n), true
		case uint16:
			return int64(n), true
		case uint32:
			return int64(n), true
		case float64:
			if n == math.Trunc(n) && !math.IsInf(n, 0) {
				return int64(n), true
			}
			return nil, false
		default:
			return nil, false
		}

	case KindFloat:
		switch n := v.(type) {
		case float32:
			f := float64(n)
			return f, !math.IsNaN(f) && !math.IsInf(f, 0)
		case float64:
			return n, !math.IsNaN(n) && !math.IsInf(n, 0)
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		default:
			return nil, false
		}

	case KindBool:
		b, ok := v.(bool)
		return b, ok

	case KindList:
		l, ok := v.([]any)
		if !ok {
			return nil, false
		}
		for _, item := range l {
			if !wireSafe(item) {
				return nil, false
			}
		}
		return l, true

	case KindMap:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		for _, item := range m {
			if !wireSafe(item) {
				return nil, false
			}
		}
		return m, true

	case KindRef:
		switch r := v.(type) {
		case Ref:
			return r, true
		case map[string]any:
			// Decoded wire form: {"__ref": "path"}.
			if p, ok := r[refKey].(string); ok && len(r) == 1 {
				return Ref(p), true
			}
			return nil, false
		default:
			return nil, false
		}

	default:
		return nil, false
	}
}

// wireSafe reports whether v survives the wire serialization format:
// JSON primitives, []any sequences, string-keyed maps, and Ref pointers.
// NaN and infinities are rejected since JSON has no encoding for them.
func wireSafe(v any) bool {
	switch t := v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32,
		Ref:
		return true
	case float32:
		f := float64(t)
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	case float64:
		return !math.IsNaN(t) && !math.IsInf(t, 0)
	case []any:
		for _, item := range t {
			if !wireSafe(item) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, item := range t {
			if !wireSafe(item) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
