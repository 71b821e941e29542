package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-memory Store, the default for single-process
// deployments. Expired sessions are swept by a background loop.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryRecord
	closed   bool
	done     chan struct{}
}

type memoryRecord struct {
	data      []byte
	expiresAt time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	cleanupInterval time.Duration
}

// WithCleanupInterval sets how often expired sessions are swept.
// Default: 1 minute.
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(c *memoryConfig) {
		c.cleanupInterval = d
	}
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	cfg := &memoryConfig{cleanupInterval: time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &MemoryStore{
		sessions: make(map[string]*memoryRecord),
		done:     make(chan struct{}),
	}
	go s.cleanupLoop(cfg.cleanupInterval)
	return s
}

// Save stores a session snapshot.
func (s *MemoryStore) Save(ctx context.Context, token string, data []byte, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	// Copy, so later mutation of the caller's buffer cannot corrupt the store.
	cp := make([]byte, len(data))
	copy(cp, data)
	s.sessions[token] = &memoryRecord{data: cp, expiresAt: expiresAt}
	return nil
}

// Load returns a session snapshot, or (nil, nil) if absent or expired.
func (s *MemoryStore) Load(ctx context.Context, token string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rec, ok := s.sessions[token]
	if !ok || time.Now().After(rec.expiresAt) {
		return nil, nil
	}
	cp := make([]byte, len(rec.data))
	copy(cp, rec.data)
	return cp, nil
}

// Delete removes a session.
func (s *MemoryStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.sessions, token)
	return nil
}

// Touch extends a session's expiry.
func (s *MemoryStore) Touch(ctx context.Context, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if rec, ok := s.sessions[token]; ok {
		rec.expiresAt = expiresAt
	}
	return nil
}

// SaveAll stores multiple session snapshots.
func (s *MemoryStore) SaveAll(ctx context.Context, sessions map[string]Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for token, rec := range sessions {
		cp := make([]byte, len(rec.Data))
		copy(cp, rec.Data)
		s.sessions[token] = &memoryRecord{data: cp, expiresAt: rec.ExpiresAt}
	}
	return nil
}

// Close stops the cleanup loop and drops all sessions.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	s.sessions = nil
	return nil
}

// Len returns the number of stored sessions, expired included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for token, rec := range s.sessions {
				if now.After(rec.expiresAt) {
					delete(s.sessions, token)
				}
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}
