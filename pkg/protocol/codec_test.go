package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEventRoundTrip(t *testing.T) {
	ev := &Event{
		Token:   "tok123",
		Handler: "root.cart.add",
		Args:    []any{"sku-9", float64(2)},
		SentAt:  1700000000000,
	}

	data := EncodeEvent(ev)
	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Type != MsgEvent {
		t.Errorf("type = %s, want event", env.Type)
	}

	got, err := DecodeEvent(env.Data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	if got.Token != ev.Token || got.Handler != ev.Handler || got.SentAt != ev.SentAt {
		t.Errorf("event = %+v, want %+v", got, ev)
	}
	if len(got.Args) != 2 || got.Args[0] != "sku-9" {
		t.Errorf("args = %v", got.Args)
	}
}

func TestEventNodePath(t *testing.T) {
	cases := []struct {
		handler, node, name string
	}{
		{"root.cart.add", "root.cart", "add"},
		{"root.increment", "root", "increment"},
		{"increment", "", "increment"},
	}
	for _, c := range cases {
		ev := &Event{Handler: c.handler}
		node, name := ev.NodePath()
		if node != c.node || name != c.name {
			t.Errorf("NodePath(%q) = %q/%q, want %q/%q", c.handler, node, name, c.node, c.name)
		}
	}
}

func TestDecodeEventBadPath(t *testing.T) {
	for _, handler := range []string{"", ".leading", "trailing."} {
		raw, _ := json.Marshal(&Event{Handler: handler})
		if _, err := DecodeEvent(raw); !errors.Is(err, ErrBadHandlerPath) {
			t.Errorf("handler %q: expected ErrBadHandlerPath, got %v", handler, err)
		}
	}
}

func TestDeltaRoundTrip(t *testing.T) {
	d := &Delta{
		Token: "tok123",
		Seq:   7,
		Nodes: map[string]map[string]any{
			"root":      {"count": float64(3)},
			"root.cart": {"items": []any{"a"}, "selected": map[string]any{"__ref": "root.cart"}},
		},
	}

	env, err := Decode(EncodeDelta(d))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	got, err := DecodeDelta(env.Data)
	if err != nil {
		t.Fatalf("DecodeDelta failed: %v", err)
	}
	if got.Seq != 7 || got.IsSnapshot() {
		t.Errorf("seq/snapshot = %d/%v", got.Seq, got.IsSnapshot())
	}
	if got.Nodes["root"]["count"] != float64(3) {
		t.Errorf("nodes = %v", got.Nodes)
	}
	ref, ok := got.Nodes["root.cart"]["selected"].(map[string]any)
	if !ok || ref["__ref"] != "root.cart" {
		t.Errorf("ref did not survive: %v", got.Nodes["root.cart"]["selected"])
	}
	if got.FieldCount() != 3 {
		t.Errorf("FieldCount = %d, want 3", got.FieldCount())
	}
}

func TestSnapshotDelta(t *testing.T) {
	d := &Delta{Seq: 0, Nodes: map[string]map[string]any{"root": {}}}
	if !d.IsSnapshot() {
		t.Error("seq 0 should be a snapshot")
	}
	d = &Delta{Seq: 12, Snapshot: true, Nodes: map[string]map[string]any{"root": {}}}
	if !d.IsSnapshot() {
		t.Error("flagged delta should be a snapshot")
	}
}

func TestHelloWelcome(t *testing.T) {
	env, err := Decode(MustEncode(MsgHello, &Hello{Token: "old", LastSeq: 41}))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	h, err := DecodeHello(env.Data)
	if err != nil {
		t.Fatalf("DecodeHello failed: %v", err)
	}
	if h.Token != "old" || h.LastSeq != 41 || h.Fresh {
		t.Errorf("hello = %+v", h)
	}

	env, _ = Decode(MustEncode(MsgWelcome, &Welcome{Token: "new", Seq: 0, ServerTime: 99}))
	w, err := DecodeWelcome(env.Data)
	if err != nil {
		t.Fatalf("DecodeWelcome failed: %v", err)
	}
	if w.Token != "new" || w.Resumed {
		t.Errorf("welcome = %+v", w)
	}
}

func TestErrorMessageRoundTrip(t *testing.T) {
	em := NewError(ErrCodeHandlerNotFound, "no handler at root.missing")
	env, err := Decode(EncodeErrorMessage(em))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	got, err := DecodeErrorMessage(env.Data)
	if err != nil {
		t.Fatalf("DecodeErrorMessage failed: %v", err)
	}
	if got.Code != ErrCodeHandlerNotFound || got.Fatal {
		t.Errorf("error = %+v", got)
	}
	if got.Error() == "" {
		t.Error("Error() should not be empty")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode(nil); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("nil: %v", err)
	}
	if _, err := Decode([]byte("{")); err == nil {
		t.Error("truncated JSON should fail")
	}
	if _, err := Decode([]byte(`{"d":{}}`)); !errors.Is(err, ErrUnknownType) {
		t.Errorf("missing type: %v", err)
	}
}
