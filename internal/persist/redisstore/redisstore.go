// Package redisstore is a persist.Backend on Redis. Writes are published on a
// per-key channel so every process sharing the Redis instance observes them.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"cartsync/internal/persist"
)

// Config holds Redis backend configuration.
type Config struct {
	Addr   string
	Prefix string
	TTL    time.Duration // 0 = entries never expire
}

// DefaultConfig returns the default Redis backend configuration.
func DefaultConfig() Config {
	return Config{
		Addr:   "localhost:6379",
		Prefix: "cartsync:",
		TTL:    30 * 24 * time.Hour,
	}
}

// Store implements persist.Backend using Redis strings and pub/sub.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pubsubs map[*redis.PubSub]struct{}
}

// New creates a backend on an existing client.
func New(client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		logger:  logger,
		pubsubs: make(map[*redis.PubSub]struct{}),
	}
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return New(client, cfg.Prefix, cfg.TTL, logger), nil
}

func (s *Store) dataKey(key string) string {
	return s.prefix + key
}

func (s *Store) channel(key string) string {
	return s.prefix + "changed:" + key
}

// Read implements persist.Backend.
func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.dataKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, persist.ErrAbsent
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Write implements persist.Backend. The value and the change notification go
// out in one MULTI/EXEC so subscribers never read the previous value.
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.dataKey(key), data, s.ttl)
	pipe.Publish(ctx, s.channel(key), "write")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Remove implements persist.Backend.
func (s *Store) Remove(ctx context.Context, key string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.dataKey(key))
	pipe.Publish(ctx, s.channel(key), "remove")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Subscribe implements persist.Backend.
func (s *Store) Subscribe(key string, fn func()) func() {
	pubsub := s.client.Subscribe(context.Background(), s.channel(key))

	s.mu.Lock()
	s.pubsubs[pubsub] = struct{}{}
	s.mu.Unlock()

	go func() {
		for range pubsub.Channel() {
			fn()
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.pubsubs, pubsub)
			s.mu.Unlock()
			if err := pubsub.Close(); err != nil {
				s.logger.Warn("closing redis subscription", slog.String("error", err.Error()))
			}
		})
	}
}

// Ping checks if the Redis connection is healthy.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes open subscriptions and the client.
func (s *Store) Close() error {
	s.mu.Lock()
	for ps := range s.pubsubs {
		_ = ps.Close()
	}
	s.pubsubs = make(map[*redis.PubSub]struct{})
	s.mu.Unlock()
	return s.client.Close()
}

var _ persist.Backend = (*Store)(nil)
