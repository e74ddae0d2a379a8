package ratelimit

import "context"

// Limiter is the interface for rate limiting operations.
//
// Implementations use a fixed-window counter backed by a shared cache
// store: the counter for a key is incremented atomically, and its expiry
// is set exactly once, on the first increment within a window, so the
// window boundary is fixed at first use rather than refreshed by later
// increments.
//
// On cache-store failure implementations fail open: the request is
// allowed and full remaining quota is reported. Availability is
// prioritized over strict quota enforcement.
type Limiter interface {
	// Allow checks whether a request identified by key is allowed under
	// the given config, consuming one unit of quota if so.
	Allow(ctx context.Context, key string, config Config) (Result, error)
}
