package state

import (
	"errors"
	"math"
	"testing"
)

func counterSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema(&NodeSpec{
		Fields: []FieldSpec{
			{Name: "count", Kind: KindInt},
			{Name: "name", Kind: KindString, Default: "anonymous"},
			{Name: "log", Kind: KindList},
		},
		Computed: []ComputedSpec{
			{
				Name: "double",
				Deps: []string{"count"},
				Compute: func(v View) any {
					return v.Get("count").(int64) * 2
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("NewSchema failed: %v", err)
	}
	return s
}

func TestNodeDefaults(t *testing.T) {
	tree := NewTree(counterSchema(t))
	root := tree.Root()

	if got := root.Int("count"); got != 0 {
		t.Errorf("count default = %d, want 0", got)
	}
	if got := root.String("name"); got != "anonymous" {
		t.Errorf("name default = %q, want %q", got, "anonymous")
	}
	if got := root.List("log"); len(got) != 0 {
		t.Errorf("log default = %v, want empty", got)
	}
}

func TestNodeSetAndGet(t *testing.T) {
	tree := NewTree(counterSchema(t))
	root := tree.Root()

	if err := root.Set("count", 5); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got := root.Int("count"); got != 5 {
		t.Errorf("count = %d, want 5", got)
	}
}

func TestNodeSetTypeMismatch(t *testing.T) {
	tree := NewTree(counterSchema(t))
	root := tree.Root()

	err := root.Set("count", "not a number")
	var tm *TypeMismatchError
	if !errors.As(err, &tm) {
		t.Fatalf("expected TypeMismatchError, got %v", err)
	}
	if tm.Field != "count" || tm.Kind != KindInt {
		t.Errorf("error context = %s/%s, want count/Int", tm.Field, tm.Kind)
	}

	// Field keeps its previous value after a failed Set.
	if got := root.Int("count"); got != 0 {
		t.Errorf("count = %d after failed Set, want 0", got)
	}
	if tree.HasDirty() {
		t.Error("failed Set should not dirty the tree")
	}
}

func TestFloatRejectsNonFinite(t *testing.T) {
	s, err := NewSchema(&NodeSpec{
		Fields: []FieldSpec{{Name: "ratio", Kind: KindFloat}},
	})
	if err != nil {
		t.Fatalf("NewSchema failed: %v", err)
	}
	tree := NewTree(s)
	root := tree.Root()
	root.MustSet("ratio", 2.5)
	tree.FlushDirty()

	// NaN and infinities have no JSON encoding and must never enter the
	// tree.
	for _, bad := range []any{math.NaN(), math.Inf(1), math.Inf(-1), float32(math.NaN())} {
		err := root.Set("ratio", bad)
		var tm *TypeMismatchError
		if !errors.As(err, &tm) {
			t.Errorf("Set(%v): expected TypeMismatchError, got %v", bad, err)
		}
	}

	if got := root.MustGet("ratio"); got != 2.5 {
		t.Errorf("ratio = %v after rejected Sets, want 2.5", got)
	}
	if tree.HasDirty() {
		t.Error("rejected Set dirtied the tree")
	}
}

func TestContainersRejectNonFinite(t *testing.T) {
	s, err := NewSchema(&NodeSpec{
		Fields: []FieldSpec{
			{Name: "points", Kind: KindList},
			{Name: "attrs", Kind: KindMap},
		},
	})
	if err != nil {
		t.Fatalf("NewSchema failed: %v", err)
	}
	tree := NewTree(s)
	root := tree.Root()

	if err := root.Set("points", []any{1.0, math.NaN()}); err == nil {
		t.Error("list containing NaN accepted")
	}
	if err := root.Set("points", []any{[]any{math.Inf(1)}}); err == nil {
		t.Error("nested list containing Inf accepted")
	}
	if err := root.Set("attrs", map[string]any{"x": math.Inf(-1)}); err == nil {
		t.Error("map containing -Inf accepted")
	}
	if err := root.Append("points", math.NaN()); err == nil {
		t.Error("Append of NaN accepted")
	}

	if err := root.Set("points", []any{1.0, 2.0}); err != nil {
		t.Errorf("finite list rejected: %v", err)
	}
	if err := root.Set("attrs", map[string]any{"x": 0.5}); err != nil {
		t.Errorf("finite map rejected: %v", err)
	}
}

func TestNodeSetUnknownField(t *testing.T) {
	tree := NewTree(counterSchema(t))
	root := tree.Root()

	if err := root.Set("missing", 1); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
	if err := root.Set("double", 1); !errors.Is(err, ErrComputedField) {
		t.Errorf("expected ErrComputedField, got %v", err)
	}
}

func TestNodeIntCoercion(t *testing.T) {
	tree := NewTree(counterSchema(t))
	root := tree.Root()

	// JSON decoding produces float64 for integers; integral floats coerce.
	if err := root.Set("count", float64(7)); err != nil {
		t.Fatalf("integral float should coerce: %v", err)
	}
	if got := root.Int("count"); got != 7 {
		t.Errorf("count = %d, want 7", got)
	}

	if err := root.Set("count", 7.5); err == nil {
		t.Error("fractional float should not coerce to Int")
	}
}

func TestComputedLazyAndMemoized(t *testing.T) {
	computeCalls := 0
	s, err := NewSchema(&NodeSpec{
		Fields: []FieldSpec{{Name: "count", Kind: KindInt}},
		Computed: []ComputedSpec{
			{
				Name: "double",
				Deps: []string{"count"},
				Compute: func(v View) any {
					computeCalls++
					return v.Get("count").(int64) * 2
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("NewSchema failed: %v", err)
	}
	tree := NewTree(s)
	root := tree.Root()

	// Construction evaluates each computed field once to record its
	// default-derived baseline, and the memo caches that value.
	if computeCalls != 1 {
		t.Errorf("construction compute calls = %d, want 1", computeCalls)
	}

	if got := root.MustGet("double"); got != int64(0) {
		t.Errorf("double = %v, want 0", got)
	}
	root.MustGet("double")
	if computeCalls != 1 {
		t.Errorf("memo should cache: %d calls, want 1", computeCalls)
	}

	// Invalidation does not recompute eagerly.
	root.MustSet("count", 3)
	if computeCalls != 1 {
		t.Errorf("Set should not recompute: %d calls, want 1", computeCalls)
	}

	if got := root.MustGet("double"); got != int64(6) {
		t.Errorf("double = %v, want 6", got)
	}
	if computeCalls != 2 {
		t.Errorf("compute calls = %d, want 2", computeCalls)
	}
}

func TestComputedChain(t *testing.T) {
	s, err := NewSchema(&NodeSpec{
		Fields: []FieldSpec{{Name: "base", Kind: KindInt}},
		Computed: []ComputedSpec{
			{
				Name: "double",
				Deps: []string{"base"},
				Compute: func(v View) any {
					return v.Get("base").(int64) * 2
				},
			},
			{
				Name: "quad",
				Deps: []string{"double"},
				Compute: func(v View) any {
					return v.Get("double").(int64) * 2
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("NewSchema failed: %v", err)
	}
	tree := NewTree(s)
	root := tree.Root()

	root.MustSet("base", 2)
	if got := root.MustGet("quad"); got != int64(8) {
		t.Errorf("quad = %v, want 8", got)
	}

	// Transitive invalidation through the chain.
	root.MustSet("base", 5)
	if got := root.MustGet("quad"); got != int64(20) {
		t.Errorf("quad = %v after change, want 20", got)
	}
}

func TestComputedCrossNodeDep(t *testing.T) {
	s, err := NewSchema(&NodeSpec{
		Fields: []FieldSpec{{Name: "first", Kind: KindString}},
		Computed: []ComputedSpec{
			{
				Name: "greeting",
				Deps: []string{"first", "root.profile.last"},
				Compute: func(v View) any {
					return "hello " + v.Get("first").(string) + " " + v.At("root.profile").Get("last").(string)
				},
			},
		},
		Children: map[string]*NodeSpec{
			"profile": {
				Fields: []FieldSpec{{Name: "last", Kind: KindString}},
			},
		},
	})
	if err != nil {
		t.Fatalf("NewSchema failed: %v", err)
	}
	tree := NewTree(s)
	root := tree.Root()
	root.MustSet("first", "ada")
	tree.MustNode("root.profile").MustSet("last", "lovelace")

	if got := root.MustGet("greeting"); got != "hello ada lovelace" {
		t.Errorf("greeting = %v", got)
	}

	// Change on the other node invalidates the memo here.
	tree.MustNode("root.profile").MustSet("last", "byron")
	if got := root.MustGet("greeting"); got != "hello ada byron" {
		t.Errorf("greeting = %v after cross-node change", got)
	}
}

func TestNodeAppend(t *testing.T) {
	tree := NewTree(counterSchema(t))
	root := tree.Root()

	if err := root.Append("log", "a", "b"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := root.Append("log", "c"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	got := root.List("log")
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("log = %v, want [a b c]", got)
	}
}

func TestRefRoundTrip(t *testing.T) {
	s, err := NewSchema(&NodeSpec{
		Fields: []FieldSpec{{Name: "selected", Kind: KindRef}},
		Children: map[string]*NodeSpec{
			"items": {Fields: []FieldSpec{{Name: "label", Kind: KindString}}},
		},
	})
	if err != nil {
		t.Fatalf("NewSchema failed: %v", err)
	}
	tree := NewTree(s)
	root := tree.Root()

	root.MustSet("selected", Ref("root.items"))

	ref := root.MustGet("selected").(Ref)
	target := tree.Deref(ref)
	if target == nil || target.Path() != "root.items" {
		t.Fatalf("Deref failed for %v", ref)
	}

	// Decoded wire form is accepted too.
	if err := root.Set("selected", map[string]any{"__ref": "root.items"}); err != nil {
		t.Errorf("wire-form ref rejected: %v", err)
	}
}
