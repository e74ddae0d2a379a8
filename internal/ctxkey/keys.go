// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Used by HTTP middleware to store and retrieve the logger with correlation_id fields.
type LoggerKey struct{}

// RequestContextKey is the context key type for the resolved request context.
// Set once at request entry by the inbound adapter and read-only downstream.
type RequestContextKey struct{}
