// Package redisstore keeps history lists in Redis. Each key maps to a Redis
// list of JSON-encoded entries, newest at the head, so that prepending is a
// single atomic LPUSH.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/tutorlive/internal/history"
)

var _ history.Store = (*Store)(nil)

// Option configures a [Store].
type Option func(*Store)

// WithTTL expires a user's history this long after the last write. Zero
// keeps it forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithPrefix namespaces every Redis key.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithLimit caps each list at n entries, dropping the oldest.
func WithLimit(n int) Option {
	return func(s *Store) { s.limit = n }
}

// Store is a Redis-backed [history.Store].
type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	limit  int
}

// New wraps an existing client. The caller owns the client's lifetime.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: "tutorlive:"}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) key(k string) string { return s.prefix + k }

// List implements [history.Store].
func (s *Store) List(ctx context.Context, key string) ([]history.Entry, error) {
	if key == "" {
		return nil, history.ErrInvalidKey
	}
	raw, err := s.client.LRange(ctx, s.key(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list %s: %w", key, err)
	}
	out := make([]history.Entry, 0, len(raw))
	for _, r := range raw {
		var e history.Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("redisstore: decode entry in %s: %w", key, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Add implements [history.Store].
func (s *Store) Add(ctx context.Context, key string, e history.Entry) error {
	if key == "" {
		return history.ErrInvalidKey
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redisstore: encode entry: %w", err)
	}

	k := s.key(key)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, k, data)
		if s.limit > 0 {
			pipe.LTrim(ctx, k, 0, int64(s.limit-1))
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: add to %s: %w", key, err)
	}
	return nil
}

// Clear implements [history.Store].
func (s *Store) Clear(ctx context.Context, key string) error {
	if key == "" {
		return history.ErrInvalidKey
	}
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redisstore: clear %s: %w", key, err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisstore: ping: %w", err)
	}
	return nil
}
