// Package rediscache implements the cache store port on Redis.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/toolgate/toolgate/internal/port/outbound"
)

// Store implements outbound.CacheStore using go-redis.
type Store struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a Store and verifies connectivity with a ping.
func New(ctx context.Context, addr, password string, db int, logger *slog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	logger.Info("connected to redis", "addr", addr, "db", db)
	return &Store{client: client, logger: logger}, nil
}

// NewFromClient wraps an existing client. Used in tests with miniredis.
func NewFromClient(client *redis.Client, logger *slog.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// Get returns the value for key; the second return is false on miss.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

// Set stores value under key with the given TTL.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Increment atomically adds amount to the counter at key. The expiry is set
// only when the increment created the counter (new value equals amount), so
// later increments within a window never refresh the boundary.
func (s *Store) Increment(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	val, err := s.client.IncrBy(ctx, key, amount).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incrby %s: %w", key, err)
	}
	if val == amount && ttl > 0 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			// The counter exists without a TTL now; surface the error so
			// the limiter can fail open rather than count forever.
			return val, fmt.Errorf("redis expire %s: %w", key, err)
		}
	}
	return val, nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// DeletePattern removes all keys matching a glob-style pattern using SCAN,
// returning the number removed.
func (s *Store) DeletePattern(ctx context.Context, pattern string) (int, error) {
	var removed int
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, fmt.Errorf("redis del %s: %w", iter.Val(), err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	return removed, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Compile-time interface verification.
var _ outbound.CacheStore = (*Store)(nil)
