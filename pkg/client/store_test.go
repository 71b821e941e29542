package client

import (
	"errors"
	"fmt"
	"testing"

	"github.com/syncline-dev/syncline/pkg/protocol"
)

func snapshot(seq uint64, nodes map[string]map[string]any) *protocol.Delta {
	return &protocol.Delta{Seq: seq, Snapshot: true, Nodes: nodes}
}

func delta(seq uint64, nodes map[string]map[string]any) *protocol.Delta {
	return &protocol.Delta{Seq: seq, Nodes: nodes}
}

func counterSnapshot() *protocol.Delta {
	return snapshot(0, map[string]map[string]any{
		"root": {"count": float64(0), "title": "untitled"},
	})
}

func TestApplySnapshotEstablishesBaseline(t *testing.T) {
	s := New()
	if s.Synced() {
		t.Fatal("fresh store should not be synced")
	}

	if err := s.Apply(counterSnapshot()); err != nil {
		t.Fatalf("Apply snapshot failed: %v", err)
	}
	if !s.Synced() {
		t.Error("store not synced after snapshot")
	}
	if s.LastSeq() != 0 {
		t.Errorf("LastSeq = %d, want 0", s.LastSeq())
	}
	if got := s.Get("root", "title"); got != "untitled" {
		t.Errorf("title = %v, want %q", got, "untitled")
	}
}

func TestApplyDeltaBeforeSnapshot(t *testing.T) {
	s := New()
	err := s.Apply(delta(1, map[string]map[string]any{"root": {"count": 1}}))
	if !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("err = %v, want ErrNoSnapshot", err)
	}
}

func TestApplyInOrderMirrorsServerState(t *testing.T) {
	s := New()
	if err := s.Apply(counterSnapshot()); err != nil {
		t.Fatal(err)
	}

	// Three increments arrive as deltas 1, 2, 3; the mirror ends at 3.
	for i := 1; i <= 3; i++ {
		d := delta(uint64(i), map[string]map[string]any{"root": {"count": float64(i)}})
		if err := s.Apply(d); err != nil {
			t.Fatalf("Apply delta %d failed: %v", i, err)
		}
	}
	if got := fmt.Sprint(s.Get("root", "count")); got != "3" {
		t.Errorf("count = %s, want 3", got)
	}
	if s.LastSeq() != 3 {
		t.Errorf("LastSeq = %d, want 3", s.LastSeq())
	}
	// Untouched fields survive delta merges.
	if got := s.Get("root", "title"); got != "untitled" {
		t.Errorf("title = %v, want %q", got, "untitled")
	}
}

func TestApplyGapFailsAndTriggersResync(t *testing.T) {
	var resyncSeq uint64
	resyncCalled := false
	s := New(OnResync(func(lastSeq uint64) {
		resyncCalled = true
		resyncSeq = lastSeq
	}))
	if err := s.Apply(counterSnapshot()); err != nil {
		t.Fatal(err)
	}
	if err := s.Apply(delta(1, map[string]map[string]any{"root": {"count": 1}})); err != nil {
		t.Fatal(err)
	}

	// Seq 3 skips 2.
	err := s.Apply(delta(3, map[string]map[string]any{"root": {"count": 3}}))
	var gap *SequenceGapError
	if !errors.As(err, &gap) {
		t.Fatalf("err = %v, want SequenceGapError", err)
	}
	if gap.Expected != 2 || gap.Got != 3 {
		t.Errorf("gap = expected %d got %d, want expected 2 got 3", gap.Expected, gap.Got)
	}
	if !resyncCalled {
		t.Error("resync callback not fired")
	}
	if resyncSeq != 1 {
		t.Errorf("resync lastSeq = %d, want 1", resyncSeq)
	}
	// The mirror must be untouched by the rejected delta.
	if got := fmt.Sprint(s.Get("root", "count")); got != "1" {
		t.Errorf("count after gap = %s, want 1", got)
	}
	if s.LastSeq() != 1 {
		t.Errorf("LastSeq after gap = %d, want 1", s.LastSeq())
	}
}

func TestApplyDuplicateSeqIsAGap(t *testing.T) {
	s := New()
	if err := s.Apply(counterSnapshot()); err != nil {
		t.Fatal(err)
	}
	if err := s.Apply(delta(1, map[string]map[string]any{"root": {"count": 1}})); err != nil {
		t.Fatal(err)
	}
	err := s.Apply(delta(1, map[string]map[string]any{"root": {"count": 9}}))
	if !IsSequenceGap(err) {
		t.Errorf("replayed seq accepted: err = %v", err)
	}
}

func TestSnapshotResetsAfterGap(t *testing.T) {
	s := New()
	if err := s.Apply(counterSnapshot()); err != nil {
		t.Fatal(err)
	}
	if err := s.Apply(delta(1, map[string]map[string]any{"root": {"count": 1}})); err != nil {
		t.Fatal(err)
	}

	// A resync snapshot carries the server's current seq and replaces
	// everything.
	resync := snapshot(7, map[string]map[string]any{
		"root": {"count": float64(7), "title": "renamed"},
	})
	if err := s.Apply(resync); err != nil {
		t.Fatalf("Apply resync snapshot failed: %v", err)
	}
	if s.LastSeq() != 7 {
		t.Errorf("LastSeq = %d, want 7", s.LastSeq())
	}
	if got := s.Get("root", "title"); got != "renamed" {
		t.Errorf("title = %v, want %q", got, "renamed")
	}
	// Sequencing continues from the snapshot.
	if err := s.Apply(delta(8, map[string]map[string]any{"root": {"count": 8}})); err != nil {
		t.Errorf("delta after resync rejected: %v", err)
	}
}

func TestOptimisticOverwrittenNeverMerged(t *testing.T) {
	s := New()
	if err := s.Apply(counterSnapshot()); err != nil {
		t.Fatal(err)
	}

	s.SetOptimistic("root", "count", float64(99))
	if got := fmt.Sprint(s.Get("root", "count")); got != "99" {
		t.Errorf("optimistic count = %s, want 99", got)
	}
	// The authoritative mirror is not polluted.
	if got := fmt.Sprint(s.Authoritative("root", "count")); got != "0" {
		t.Errorf("authoritative count = %s, want 0", got)
	}

	// The real delta reports 1; the guess of 99 is discarded, not merged.
	if err := s.Apply(delta(1, map[string]map[string]any{"root": {"count": float64(1)}})); err != nil {
		t.Fatal(err)
	}
	if got := fmt.Sprint(s.Get("root", "count")); got != "1" {
		t.Errorf("count after authoritative delta = %s, want 1", got)
	}
}

func TestOptimisticSurvivesUnrelatedDelta(t *testing.T) {
	s := New()
	if err := s.Apply(counterSnapshot()); err != nil {
		t.Fatal(err)
	}
	s.SetOptimistic("root", "title", "draft")

	if err := s.Apply(delta(1, map[string]map[string]any{"root": {"count": float64(1)}})); err != nil {
		t.Fatal(err)
	}
	// count did not touch title; the overlay stays.
	if got := s.Get("root", "title"); got != "draft" {
		t.Errorf("title = %v, want %q", got, "draft")
	}
}

func TestDerivedViewRecomputesOnInputChange(t *testing.T) {
	s := New()
	if err := s.Apply(counterSnapshot()); err != nil {
		t.Fatal(err)
	}

	s.Bind("double", []string{"root.count"}, func(get func(string) any) any {
		n, _ := get("root.count").(float64)
		return n * 2
	})

	v, err := s.Derived("double")
	if err != nil {
		t.Fatal(err)
	}
	if v != float64(0) {
		t.Errorf("initial double = %v, want 0", v)
	}

	if err := s.Apply(delta(1, map[string]map[string]any{"root": {"count": float64(5)}})); err != nil {
		t.Fatal(err)
	}
	v, _ = s.Derived("double")
	if v != float64(10) {
		t.Errorf("double after delta = %v, want 10", v)
	}

	// An unrelated field change must not recompute.
	computes := 0
	s.Bind("titled", []string{"root.title"}, func(get func(string) any) any {
		computes++
		return get("root.title")
	})
	if err := s.Apply(delta(2, map[string]map[string]any{"root": {"count": float64(6)}})); err != nil {
		t.Fatal(err)
	}
	if computes != 1 {
		t.Errorf("titled computed %d times, want 1 (bind only)", computes)
	}
}

func TestDerivedUnknownView(t *testing.T) {
	s := New()
	if _, err := s.Derived("nope"); !errors.Is(err, ErrViewNotFound) {
		t.Errorf("err = %v, want ErrViewNotFound", err)
	}
}

func TestEmitStampsTokenAndQueues(t *testing.T) {
	s := New()
	s.ApplyWelcome(&protocol.Welcome{Token: "tok123"})

	if err := s.Emit("root.increment", 5); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	select {
	case ev := <-s.Outbound():
		if ev.Token != "tok123" {
			t.Errorf("token = %q, want %q", ev.Token, "tok123")
		}
		if ev.Handler != "root.increment" {
			t.Errorf("handler = %q, want root.increment", ev.Handler)
		}
		if len(ev.Args) != 1 || ev.Args[0] != 5 {
			t.Errorf("args = %v, want [5]", ev.Args)
		}
	default:
		t.Fatal("no event queued")
	}
}

func TestEmitQueueFull(t *testing.T) {
	s := New(WithOutboundBuffer(1))
	if err := s.Emit("root.a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Emit("root.b"); !errors.Is(err, ErrOutboundFull) {
		t.Errorf("err = %v, want ErrOutboundFull", err)
	}
}

func TestApplyWelcomeFreshClearsMirror(t *testing.T) {
	s := New()
	if err := s.Apply(counterSnapshot()); err != nil {
		t.Fatal(err)
	}
	s.ApplyWelcome(&protocol.Welcome{Token: "new", Resumed: false})

	if s.Synced() {
		t.Error("fresh welcome should reset the baseline")
	}
	if s.Node("root") != nil {
		t.Error("fresh welcome should clear the mirror")
	}
}

func TestApplyWelcomeResumedKeepsMirror(t *testing.T) {
	s := New()
	if err := s.Apply(counterSnapshot()); err != nil {
		t.Fatal(err)
	}
	if err := s.Apply(delta(1, map[string]map[string]any{"root": {"count": float64(1)}})); err != nil {
		t.Fatal(err)
	}
	s.ApplyWelcome(&protocol.Welcome{Token: "same", Resumed: true, Seq: 1})

	if !s.Synced() {
		t.Error("resumed welcome must keep the baseline")
	}
	if s.LastSeq() != 1 {
		t.Errorf("LastSeq = %d, want 1", s.LastSeq())
	}
	if got := fmt.Sprint(s.Get("root", "count")); got != "1" {
		t.Errorf("count = %s, want 1", got)
	}
}
