// Package redis implements every replicated-state contract on Redis:
// partition leases, shard-range claims, the cross-partition status cache,
// the high-water mark and the worker-capacity table.
//
// Redis serializes writers, so the conflict-free merge the contracts
// assume holds trivially: range claims are disjoint SETNX keys, the cursor
// and watermark are monotonic max-writes, statuses and capacities are
// last-writer-wins overwrites. Values are msgpack-encoded.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	r := redisstore.New(client)
package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/SunnyX6/Datapillar-sub003/replica"
)

// Compile-time interface check.
var _ replica.Set = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements replica.Set backed by Redis.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
}

// New creates a Redis-backed replica set. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op — the caller owns the Redis client lifecycle.
func (s *Store) Close(_ context.Context) error { return nil }
