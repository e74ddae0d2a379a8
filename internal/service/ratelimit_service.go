package service

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/toolgate/toolgate/internal/domain/ratelimit"
	"github.com/toolgate/toolgate/internal/port/outbound"
)

// RateLimitService is a fixed-window rate limiter over the shared cache
// store. The counter's TTL is set exactly once, on its first increment, so
// the window boundary is fixed at first use and never refreshed by later
// requests. On cache-store failure the limiter fails open: the request is
// allowed with full remaining quota reported.
type RateLimitService struct {
	cache  outbound.CacheStore
	logger *slog.Logger
	now    func() time.Time
}

// RateLimitServiceOption configures RateLimitService.
type RateLimitServiceOption func(*RateLimitService)

// WithRateLimitClock overrides the clock, for tests.
func WithRateLimitClock(now func() time.Time) RateLimitServiceOption {
	return func(s *RateLimitService) { s.now = now }
}

// NewRateLimitService creates a limiter over the given cache store.
func NewRateLimitService(cache outbound.CacheStore, logger *slog.Logger, opts ...RateLimitServiceOption) *RateLimitService {
	s := &RateLimitService{
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow consumes one unit of quota for key under the given config.
func (s *RateLimitService) Allow(ctx context.Context, key string, config ratelimit.Config) (ratelimit.Result, error) {
	count, err := s.cache.Increment(ctx, key, 1, config.Window)
	if err != nil {
		// Fail open: availability over strict quota enforcement.
		s.logger.WarnContext(ctx, "rate limit store failed, allowing request",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return ratelimit.Result{
			Allowed:   true,
			Remaining: config.Limit,
			ResetAt:   s.now().Add(config.Window),
		}, nil
	}

	now := s.now()
	if count > int64(config.Limit) {
		retryAfter := timeToWindowBoundary(now, config.Window)
		return ratelimit.Result{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    now.Add(retryAfter),
			RetryAfter: retryAfter,
		}, nil
	}

	remaining := config.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return ratelimit.Result{
		Allowed:   true,
		Remaining: remaining,
		ResetAt:   now.Add(config.Window),
	}, nil
}

// timeToWindowBoundary returns the time left until the next modular window
// boundary, used as retry-after on denials.
func timeToWindowBoundary(now time.Time, window time.Duration) time.Duration {
	seconds := int64(window.Seconds())
	if seconds <= 0 {
		return window
	}
	left := seconds - now.Unix()%seconds
	return time.Duration(left) * time.Second
}

// EffectiveLimit scales a nominal limit by a risk-tier multiplier, rounding
// up so a positive nominal limit never collapses to zero.
func EffectiveLimit(nominal int, multiplier float64) int {
	if multiplier <= 0 {
		return nominal
	}
	scaled := int(math.Ceil(float64(nominal) * multiplier))
	if scaled < 1 && nominal > 0 {
		return 1
	}
	return scaled
}

// Compile-time interface verification.
var _ ratelimit.Limiter = (*RateLimitService)(nil)
