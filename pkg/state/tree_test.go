package state

import (
	"encoding/json"
	"testing"
)

func TestFlushDirtyExactChanges(t *testing.T) {
	tree := NewTree(counterSchema(t))
	root := tree.Root()

	root.MustSet("count", 1)
	root.MustSet("name", "ada")

	flush := tree.FlushDirty()
	if flush == nil {
		t.Fatal("expected dirty fields")
	}
	changed := flush["root"]
	if changed["count"] != int64(1) || changed["name"] != "ada" {
		t.Errorf("flush = %v", changed)
	}
	// double depends on count and changed with it.
	if changed["double"] != int64(2) {
		t.Errorf("double = %v, want 2", changed["double"])
	}

	// Second flush with no changes is empty.
	if again := tree.FlushDirty(); again != nil {
		t.Errorf("second flush = %v, want nil", again)
	}
}

func TestFlushDirtyNoFalsePositives(t *testing.T) {
	tree := NewTree(counterSchema(t))
	root := tree.Root()
	root.MustSet("count", 5)
	tree.FlushDirty()

	// A -> B -> A between flushes must not report the field.
	root.MustSet("count", 9)
	root.MustSet("count", 5)
	if flush := tree.FlushDirty(); flush != nil {
		t.Errorf("round-trip set reported changes: %v", flush)
	}

	// Setting the current value is a no-op.
	root.MustSet("count", 5)
	if tree.HasDirty() {
		t.Error("equal-value Set dirtied the tree")
	}
}

func TestFlushDirtyComputedSuppressed(t *testing.T) {
	// A computed whose recomputed value is unchanged is excluded from flush.
	s, err := NewSchema(&NodeSpec{
		Fields: []FieldSpec{{Name: "n", Kind: KindInt}},
		Computed: []ComputedSpec{
			{Name: "parity", Deps: []string{"n"}, Compute: func(v View) any {
				return v.Get("n").(int64) % 2
			}},
		},
	})
	if err != nil {
		t.Fatalf("NewSchema failed: %v", err)
	}
	tree := NewTree(s)
	root := tree.Root()

	root.MustSet("n", 1)
	first := tree.FlushDirty()
	if first["root"]["parity"] != int64(1) {
		t.Fatalf("first flush = %v", first)
	}

	// 1 -> 3: n changed, parity did not.
	root.MustSet("n", 3)
	second := tree.FlushDirty()
	if _, ok := second["root"]["parity"]; ok {
		t.Errorf("unchanged parity reported: %v", second)
	}
	if second["root"]["n"] != int64(3) {
		t.Errorf("n missing from flush: %v", second)
	}

	// 3 -> 2: the last flushed parity is 1, so 0 is a real change even
	// though it matches the default-derived baseline.
	root.MustSet("n", 2)
	third := tree.FlushDirty()
	if third["root"]["parity"] != int64(0) {
		t.Errorf("parity change missing: %v", third)
	}
}

func TestFlushDirtyComputedPreSnapshotRoundTrip(t *testing.T) {
	// Before any flush or snapshot, an input round trip back to its
	// default must not report the dependent computed field.
	tree := NewTree(counterSchema(t))
	root := tree.Root()

	root.MustSet("count", 5)
	root.MustSet("count", 0)
	if flush := tree.FlushDirty(); flush != nil {
		t.Errorf("pre-snapshot round trip reported changes: %v", flush)
	}

	// The window where computed inputs moved and moved back still
	// recomputes against the default-derived baseline, not zero state.
	root.MustSet("count", 3)
	flush := tree.FlushDirty()
	if flush["root"]["double"] != int64(6) {
		t.Errorf("double = %v, want 6", flush["root"]["double"])
	}
}

func TestRollback(t *testing.T) {
	tree := NewTree(counterSchema(t))
	root := tree.Root()
	root.MustSet("count", 3)
	tree.FlushDirty()

	root.MustSet("count", 99)
	root.MustSet("name", "mallory")
	tree.Rollback()

	if got := root.Int("count"); got != 3 {
		t.Errorf("count = %d after rollback, want 3", got)
	}
	if got := root.String("name"); got != "anonymous" {
		t.Errorf("name = %q after rollback, want anonymous", got)
	}
	if tree.HasDirty() {
		t.Error("tree still dirty after rollback")
	}
	// Memo observed the discarded value; rollback must invalidate it.
	if got := root.MustGet("double"); got != int64(6) {
		t.Errorf("double = %v after rollback, want 6", got)
	}
}

func TestSnapshotResetsTracking(t *testing.T) {
	tree := NewTree(counterSchema(t))
	root := tree.Root()
	root.MustSet("count", 2)

	snap := tree.Snapshot()
	rootSnap := snap["root"]
	if rootSnap["count"] != int64(2) || rootSnap["double"] != int64(4) {
		t.Errorf("snapshot = %v", rootSnap)
	}
	if rootSnap["name"] != "anonymous" {
		t.Errorf("snapshot missing defaults: %v", rootSnap)
	}

	// Snapshot resets dirty tracking: nothing left to flush.
	if flush := tree.FlushDirty(); flush != nil {
		t.Errorf("flush after snapshot = %v, want nil", flush)
	}
}

func TestMarshalRestoreState(t *testing.T) {
	tree := NewTree(counterSchema(t))
	root := tree.Root()
	root.MustSet("count", 42)
	root.MustSet("log", []any{"x", "y"})

	// Round-trip through JSON, the persistence format.
	data, err := json.Marshal(tree.MarshalState())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	restored := NewTree(counterSchema(t))
	if err := restored.RestoreState(decoded); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if got := restored.Root().Int("count"); got != 42 {
		t.Errorf("restored count = %d, want 42", got)
	}
	if got := restored.Root().List("log"); len(got) != 2 || got[1] != "y" {
		t.Errorf("restored log = %v", got)
	}
	// Computed fields come back derivable.
	if got := restored.Root().MustGet("double"); got != int64(84) {
		t.Errorf("restored double = %v, want 84", got)
	}
}

func TestFlushIsolatesNodes(t *testing.T) {
	s, err := NewSchema(&NodeSpec{
		Fields: []FieldSpec{{Name: "a", Kind: KindInt}},
		Children: map[string]*NodeSpec{
			"left":  {Fields: []FieldSpec{{Name: "b", Kind: KindInt}}},
			"right": {Fields: []FieldSpec{{Name: "c", Kind: KindInt}}},
		},
	})
	if err != nil {
		t.Fatalf("NewSchema failed: %v", err)
	}
	tree := NewTree(s)
	tree.MustNode("root.left").MustSet("b", 1)

	flush := tree.FlushDirty()
	if len(flush) != 1 {
		t.Errorf("flush touched %d nodes, want 1: %v", len(flush), flush)
	}
	if flush["root.left"]["b"] != int64(1) {
		t.Errorf("flush = %v", flush)
	}
}
