package store

import (
	"testing"
	"time"
)

func TestSerializeRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	ss := &SerializedSession{
		Token:      "tok-1",
		Seq:        42,
		CreatedAt:  now,
		LastActive: now,
		Nodes: map[string]map[string]any{
			"root":       {"title": "hello"},
			"root.items": {"count": int64(3)},
		},
	}

	data, err := Marshal(ss)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.Token != "tok-1" {
		t.Errorf("Token = %q, want %q", got.Token, "tok-1")
	}
	if got.Seq != 42 {
		t.Errorf("Seq = %d, want 42", got.Seq)
	}
	if got.Version != SerializationVersion {
		t.Errorf("Version = %d, want %d", got.Version, SerializationVersion)
	}
	if got.Nodes["root"]["title"] != "hello" {
		t.Errorf("Nodes[root][title] = %v, want %q", got.Nodes["root"]["title"], "hello")
	}
}

func TestUnmarshalRejectsBadJSON(t *testing.T) {
	if _, err := Unmarshal([]byte("{not json")); err == nil {
		t.Error("expected error for malformed data")
	}
}

func TestUnmarshalRejectsFutureVersion(t *testing.T) {
	// Marshal restamps the current version, so craft the payload directly.
	raw := []byte(`{"token":"t","version":99}`)
	if _, err := Unmarshal(raw); err == nil {
		t.Error("expected error for unsupported version")
	}
}
