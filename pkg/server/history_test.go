package server

import (
	"fmt"
	"testing"
)

func TestDeltaHistoryAddAndFrames(t *testing.T) {
	h := NewDeltaHistory(10)

	for seq := uint64(1); seq <= 5; seq++ {
		h.Add(seq, []byte(fmt.Sprintf("delta-%d", seq)))
	}

	if h.Count() != 5 {
		t.Errorf("Count = %d, want 5", h.Count())
	}
	if h.MinSeq() != 1 || h.MaxSeq() != 5 {
		t.Errorf("range = [%d, %d], want [1, 5]", h.MinSeq(), h.MaxSeq())
	}

	frames := h.Frames(2)
	if len(frames) != 3 {
		t.Fatalf("Frames(2) returned %d frames, want 3", len(frames))
	}
	for i, want := range []string{"delta-3", "delta-4", "delta-5"} {
		if string(frames[i]) != want {
			t.Errorf("frames[%d] = %q, want %q", i, frames[i], want)
		}
	}
}

func TestDeltaHistoryFramesUpToDate(t *testing.T) {
	h := NewDeltaHistory(10)
	h.Add(1, []byte("a"))

	if frames := h.Frames(1); frames != nil {
		t.Errorf("Frames(1) with maxSeq 1 = %v, want nil", frames)
	}
}

func TestDeltaHistoryWraparound(t *testing.T) {
	h := NewDeltaHistory(3)
	for seq := uint64(1); seq <= 5; seq++ {
		h.Add(seq, []byte(fmt.Sprintf("d%d", seq)))
	}

	if h.Count() != 3 {
		t.Errorf("Count = %d, want 3", h.Count())
	}
	if h.MinSeq() != 3 {
		t.Errorf("MinSeq = %d, want 3", h.MinSeq())
	}

	// Sequences 1 and 2 were overwritten; a client at 1 has a gap.
	if h.Frames(1) != nil {
		t.Error("Frames(1) should be nil after overwrite")
	}
	if h.CanRecover(1) {
		t.Error("CanRecover(1) should be false after overwrite")
	}

	frames := h.Frames(3)
	if len(frames) != 2 || string(frames[0]) != "d4" || string(frames[1]) != "d5" {
		t.Errorf("Frames(3) = %q, want [d4 d5]", frames)
	}
}

func TestDeltaHistoryCanRecover(t *testing.T) {
	h := NewDeltaHistory(10)
	if h.CanRecover(0) {
		t.Error("empty history should not recover anything")
	}

	h.Add(1, []byte("a"))
	h.Add(2, []byte("b"))

	if !h.CanRecover(0) {
		t.Error("CanRecover(0) should be true with full history")
	}
	if !h.CanRecover(2) {
		t.Error("CanRecover at maxSeq should be true (nothing missed)")
	}
	if h.CanRecover(5) {
		t.Error("CanRecover beyond maxSeq should be false")
	}
}

func TestDeltaHistoryFrameCopied(t *testing.T) {
	h := NewDeltaHistory(4)
	buf := []byte("original")
	h.Add(1, buf)
	copy(buf, "mutated!")

	frames := h.Frames(0)
	if len(frames) != 1 || string(frames[0]) != "original" {
		t.Errorf("stored frame aliased caller buffer: %q", frames)
	}
}

func TestDeltaHistoryAckAndClear(t *testing.T) {
	h := NewDeltaHistory(4)
	h.Add(1, []byte("a"))
	h.Add(2, []byte("b"))

	h.GarbageCollect(2)
	if h.Acked() != 2 {
		t.Errorf("Acked = %d, want 2", h.Acked())
	}
	h.GarbageCollect(1) // Watermark never regresses
	if h.Acked() != 2 {
		t.Errorf("Acked after stale GC = %d, want 2", h.Acked())
	}

	h.Clear()
	if h.Count() != 0 || h.MinSeq() != 0 || h.MaxSeq() != 0 {
		t.Error("Clear did not reset the buffer")
	}
	if h.Frames(0) != nil {
		t.Error("Frames after Clear should be nil")
	}
}
