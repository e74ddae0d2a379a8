// Package ratelimit provides rate limiting domain types.
package ratelimit

import (
	"fmt"
	"time"
)

// Config defines the rate limiting parameters for one check.
type Config struct {
	// Limit is the number of allowed requests per window.
	Limit int

	// Window is the fixed-window length.
	Window time.Duration
}

// Result contains the result of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Remaining is the number of remaining requests in the current window.
	Remaining int

	// ResetAt is when the current window ends and the counter resets.
	ResetAt time.Time

	// RetryAfter is the duration until the next request will be allowed.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration
}

// LimitExceededError is returned by the pipeline when a caller is over quota.
type LimitExceededError struct {
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Error implements the error interface.
func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limited: retry after %d seconds", int(e.RetryAfter.Seconds()))
}

// KeyType identifies the subject of a rate limit key.
type KeyType string

const (
	// KeyTypeUser is for per-caller rate limiting.
	KeyTypeUser KeyType = "user"

	// KeyTypeTool is for per-tool rate limiting.
	KeyTypeTool KeyType = "tool"
)

// keyPrefix is the base prefix for all rate limit keys in the cache store.
const keyPrefix = "ratelimit"

// FormatKey returns a structured rate limit key.
// Format: "ratelimit:{type}:{value}"
func FormatKey(keyType KeyType, value string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, keyType, value)
}
