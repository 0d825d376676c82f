// Package redis implements Pendulum's persistence contracts on Redis for
// deployments where orchestration state must survive a process restart.
// Jobs and workflows are stored as Hashes with Set indexes for
// enumeration and a Sorted Set per record type, scored by terminal time,
// for retention sweeps. Idempotency entries are plain values written with
// SetNX so first-writer-wins holds across processes.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/pendulum"
	"github.com/xraph/pendulum/idempotency"
	"github.com/xraph/pendulum/job"
	"github.com/xraph/pendulum/workflow"
)

// Compile-time interface checks.
var (
	_ pendulum.Store    = (*Store)(nil)
	_ job.Store         = (*Store)(nil)
	_ workflow.Store    = (*Store)(nil)
	_ idempotency.Store = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithEntryTTL sets the native expiry on idempotency entries. This is a
// backstop behind the cache's own lazy expiry, so it should be generous.
func WithEntryTTL(d time.Duration) Option {
	return func(s *Store) { s.entryTTL = d }
}

// Store implements the Pendulum persistence contracts backed by Redis.
type Store struct {
	client   redis.Cmdable
	logger   *slog.Logger
	entryTTL time.Duration
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:   client,
		logger:   slog.Default(),
		entryTTL: 48 * time.Hour,
	}
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

// Close is a no-op. The caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
