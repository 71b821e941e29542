package server

import (
	"sync"
	"time"
)

// historyEntry stores one sent delta frame for potential replay.
type historyEntry struct {
	seq    uint64
	frame  []byte
	sentAt time.Time
}

// DeltaHistory is a thread-safe ring buffer of recently emitted delta
// frames. It maintains a sliding window so a reconnecting client that
// missed some deltas can have them replayed instead of receiving a full
// snapshot. Snapshots are never recorded here; they are a baseline, not a
// replayable increment.
type DeltaHistory struct {
	mu       sync.RWMutex
	entries  []*historyEntry
	head     int    // Next write position (circular)
	count    int    // Current number of entries
	capacity int    // Max entries
	minSeq   uint64 // Lowest sequence in buffer
	maxSeq   uint64 // Highest sequence in buffer
	ackSeq   uint64 // Highest client-acknowledged sequence
}

// NewDeltaHistory creates a delta history ring buffer with the given capacity.
func NewDeltaHistory(capacity int) *DeltaHistory {
	if capacity <= 0 {
		capacity = 100
	}
	return &DeltaHistory{
		entries:  make([]*historyEntry, capacity),
		capacity: capacity,
	}
}

// Add stores a delta frame. Call only after the delta's sequence has been
// assigned; frames must arrive in sequence order. The frame bytes are
// copied so later buffer reuse cannot corrupt the history.
func (h *DeltaHistory) Add(seq uint64, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	frameCopy := make([]byte, len(frame))
	copy(frameCopy, frame)

	h.entries[h.head] = &historyEntry{
		seq:    seq,
		frame:  frameCopy,
		sentAt: time.Now(),
	}
	h.head = (h.head + 1) % h.capacity

	if h.count < h.capacity {
		h.count++
	}

	h.maxSeq = seq
	if h.count == 1 {
		h.minSeq = seq
	} else if h.count == h.capacity {
		// Buffer full; the oldest surviving entry is at head.
		if oldest := h.entries[h.head]; oldest != nil {
			h.minSeq = oldest.seq
		}
	}
}

// Frames returns the frames for every sequence after afterSeq, in order.
// Returns nil if any sequence in (afterSeq, maxSeq] is unavailable.
func (h *DeltaHistory) Frames(afterSeq uint64) [][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 || afterSeq >= h.maxSeq {
		return nil
	}
	if afterSeq+1 < h.minSeq {
		return nil // Gap: oldest needed frame already overwritten
	}

	var frames [][]byte
	for i := 0; i < h.count; i++ {
		idx := (h.head - h.count + i + h.capacity) % h.capacity
		entry := h.entries[idx]
		if entry != nil && entry.seq > afterSeq {
			frames = append(frames, entry.frame)
		}
	}
	return frames
}

// CanRecover reports whether the buffer can bring a client at lastSeq up to
// date without a snapshot. True also when lastSeq equals the newest
// sequence (nothing missed).
func (h *DeltaHistory) CanRecover(lastSeq uint64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return false
	}
	if lastSeq > h.maxSeq {
		return false // Client claims deltas this session never sent
	}
	return lastSeq+1 >= h.minSeq
}

// GarbageCollect records the client's acknowledged sequence. Entries at or
// below the ack are dead weight; the ring overwrites them naturally, so
// this only tracks the watermark.
func (h *DeltaHistory) GarbageCollect(ackSeq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ackSeq > h.ackSeq {
		h.ackSeq = ackSeq
	}
}

// Acked returns the highest acknowledged sequence.
func (h *DeltaHistory) Acked() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ackSeq
}

// MinSeq returns the minimum recoverable sequence.
func (h *DeltaHistory) MinSeq() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.minSeq
}

// MaxSeq returns the maximum sequence in the buffer.
func (h *DeltaHistory) MaxSeq() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.maxSeq
}

// Count returns the number of entries in the buffer.
func (h *DeltaHistory) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Clear removes all entries.
func (h *DeltaHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.entries {
		h.entries[i] = nil
	}
	h.head = 0
	h.count = 0
	h.minSeq = 0
	h.maxSeq = 0
	h.ackSeq = 0
}
