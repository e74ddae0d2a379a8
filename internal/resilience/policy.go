package resilience

import (
	"context"
	"time"
)

// RetryConfig configures the retry wrapper.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry; it doubles on
	// each subsequent retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff growth.
	MaxBackoff time.Duration
}

// DefaultRetryConfig retries 3 times total with 2s, 4s, 8s backoff capped
// at 10s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     10 * time.Second,
	}
}

// Policy wraps a call function with retry-with-backoff inside a circuit
// breaker. The breaker counts one failure per exhausted call sequence, not
// per attempt.
type Policy struct {
	retry   RetryConfig
	breaker *Breaker

	// retryable classifies errors: only transient transport failures are
	// retried. Nil means nothing is retryable.
	retryable func(error) bool

	// sleep is injectable for tests. Defaults to a context-aware wait.
	sleep func(ctx context.Context, d time.Duration) error
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithSleep replaces the backoff wait function. Used in tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) PolicyOption {
	return func(p *Policy) {
		p.sleep = sleep
	}
}

// NewPolicy creates a resilience policy from retry config, a breaker, and
// an error classifier.
func NewPolicy(retry RetryConfig, breaker *Breaker, retryable func(error) bool, opts ...PolicyOption) *Policy {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	p := &Policy{
		retry:     retry,
		breaker:   breaker,
		retryable: retryable,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Do executes fn under the policy. It returns ErrCircuitOpen without
// calling fn when the breaker is open; otherwise it retries transient
// failures up to the attempt budget and records the final outcome on the
// breaker.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.breaker != nil {
		if err := p.breaker.Allow(); err != nil {
			return err
		}
	}

	var lastErr error
	backoff := p.retry.InitialBackoff

	for attempt := 1; attempt <= p.retry.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			if p.breaker != nil {
				p.breaker.RecordSuccess()
			}
			return nil
		}

		if p.retryable == nil || !p.retryable(lastErr) || attempt == p.retry.MaxAttempts {
			break
		}

		if backoff > p.retry.MaxBackoff {
			backoff = p.retry.MaxBackoff
		}
		if err := p.sleep(ctx, backoff); err != nil {
			lastErr = err
			break
		}
		backoff *= 2
	}

	if p.breaker != nil {
		p.breaker.RecordFailure()
	}
	return lastErr
}

// sleepContext waits for d or until the context is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
