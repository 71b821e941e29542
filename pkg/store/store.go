// Package store provides pluggable persistence backends for sessions,
// letting state trees survive process restarts. The engine only touches the
// Store interface; memory, Redis, and S3 implementations are provided.
package store

import (
	"context"
	"errors"
	"time"
)

// Store is the persistence backend for serialized sessions.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save persists a session snapshot, overwriting any previous one.
	Save(ctx context.Context, token string, data []byte, expiresAt time.Time) error

	// Load retrieves a session snapshot by token.
	// Returns (nil, nil) when the session doesn't exist or has expired.
	Load(ctx context.Context, token string) ([]byte, error)

	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, token string) error

	// Touch extends a session's expiry without rewriting its data.
	// Touching a missing session is not an error.
	Touch(ctx context.Context, token string, expiresAt time.Time) error

	// SaveAll persists multiple sessions, used during graceful shutdown.
	// Backends without atomic multi-write save sequentially.
	SaveAll(ctx context.Context, sessions map[string]Record) error

	// Close releases backend resources.
	Close() error
}

// Record is one session snapshot with its expiry.
type Record struct {
	Data      []byte
	ExpiresAt time.Time
}

// ErrClosed is returned for operations on a closed store.
var ErrClosed = errors.New("store: closed")
