// Package outbound defines outbound ports shared across adapters.
package outbound

import (
	"context"
	"time"
)

// CacheStore is the networked key-value cache behind the rate limiter, the
// idempotency store, and the exposure cache.
//
// All mutation happens through atomic set-with-expiry and
// increment-with-expiry primitives; callers never do read-modify-write, so
// no external locking is needed.
type CacheStore interface {
	// Get returns the value for key. The second return is false on miss.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Increment atomically adds amount to the counter at key and returns
	// the new value. The TTL is applied only when this increment created
	// the counter, fixing the window boundary at first use.
	Increment(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error)

	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// DeletePattern removes all keys matching a glob-style pattern and
	// returns how many were removed.
	DeletePattern(ctx context.Context, pattern string) (int, error)
}
