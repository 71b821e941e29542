package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// RedisStore persists sessions in Redis, for deployments where sessions
// must survive a process restart or be shared across replicas.
type RedisStore struct {
	client *backend.Client
	prefix string
	closed atomic.Bool
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix. Default: "syncline:session:".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a store backed by a new Redis client.
func NewRedisStore(addr, password string, db int, opts ...RedisOption) *RedisStore {
	client := backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(client, opts...)
}

// NewRedisStoreFromClient creates a store from an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "syncline:session:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(token string) string {
	return s.prefix + token
}

// Save stores a session snapshot with a TTL derived from expiresAt.
func (s *RedisStore) Save(ctx context.Context, token string, data []byte, expiresAt time.Time) error {
	if s.closed.Load() {
		return ErrClosed
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		// Already expired; make sure no stale copy lingers.
		return s.Delete(ctx, token)
	}
	if err := s.client.Set(ctx, s.key(token), data, ttl).Err(); err != nil {
		return fmt.Errorf("store: redis save %s: %w", token, err)
	}
	return nil
}

// Load returns a session snapshot, or (nil, nil) if absent. Redis enforces
// expiry via TTL, so a hit is never stale.
func (s *RedisStore) Load(ctx context.Context, token string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	data, err := s.client.Get(ctx, s.key(token)).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: redis load %s: %w", token, err)
	}
	return data, nil
}

// Delete removes a session.
func (s *RedisStore) Delete(ctx context.Context, token string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("store: redis delete %s: %w", token, err)
	}
	return nil
}

// Touch extends a session's TTL without rewriting its data.
func (s *RedisStore) Touch(ctx context.Context, token string, expiresAt time.Time) error {
	if s.closed.Load() {
		return ErrClosed
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Expire(ctx, s.key(token), ttl).Err(); err != nil {
		return fmt.Errorf("store: redis touch %s: %w", token, err)
	}
	return nil
}

// SaveAll pipelines multiple session writes.
func (s *RedisStore) SaveAll(ctx context.Context, sessions map[string]Record) error {
	if s.closed.Load() {
		return ErrClosed
	}
	pipe := s.client.Pipeline()
	for token, rec := range sessions {
		ttl := time.Until(rec.ExpiresAt)
		if ttl <= 0 {
			continue
		}
		pipe.Set(ctx, s.key(token), rec.Data, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: redis save all: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.client.Close()
}
