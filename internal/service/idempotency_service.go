package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/toolgate/toolgate/internal/port/outbound"
)

const defaultIdempotencyTTL = 24 * time.Hour

// IdempotencyService deduplicates completed write operations. Records are
// namespaced by caller, so a second caller reusing the same literal key
// string never sees another caller's stored response.
//
// Deduplication is best-effort: store failures are logged and swallowed,
// never failing the write they were deduplicating, and two concurrent
// in-flight requests with the same key can both execute.
type IdempotencyService struct {
	cache  outbound.CacheStore
	ttl    time.Duration
	logger *slog.Logger
}

// IdempotencyServiceOption configures IdempotencyService.
type IdempotencyServiceOption func(*IdempotencyService)

// WithIdempotencyTTL overrides the default 24h record TTL.
func WithIdempotencyTTL(ttl time.Duration) IdempotencyServiceOption {
	return func(s *IdempotencyService) { s.ttl = ttl }
}

// NewIdempotencyService creates an idempotency store over the given cache.
func NewIdempotencyService(cache outbound.CacheStore, logger *slog.Logger, opts ...IdempotencyServiceOption) *IdempotencyService {
	s := &IdempotencyService{
		cache:  cache,
		ttl:    defaultIdempotencyTTL,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetResponse returns the stored response for (userID, key), or false when
// no live record exists. Store errors read as a miss.
func (s *IdempotencyService) GetResponse(ctx context.Context, userID, key string) (json.RawMessage, bool) {
	raw, found, err := s.cache.Get(ctx, recordKey(userID, key))
	if err != nil {
		s.logger.WarnContext(ctx, "idempotency lookup failed",
			slog.String("key", truncateKey(key)),
			slog.String("error", err.Error()))
		return nil, false
	}
	if !found {
		return nil, false
	}
	s.logger.InfoContext(ctx, "idempotent replay served from store",
		slog.String("key", truncateKey(key)))
	return json.RawMessage(raw), true
}

// StoreResponse records the response for (userID, key). Failures are logged
// and swallowed.
func (s *IdempotencyService) StoreResponse(ctx context.Context, userID, key string, response any) {
	encoded, err := json.Marshal(response)
	if err != nil {
		s.logger.ErrorContext(ctx, "idempotency response not serializable",
			slog.String("key", truncateKey(key)),
			slog.String("error", err.Error()))
		return
	}
	if err := s.cache.Set(ctx, recordKey(userID, key), string(encoded), s.ttl); err != nil {
		s.logger.WarnContext(ctx, "idempotency store failed",
			slog.String("key", truncateKey(key)),
			slog.String("error", err.Error()))
	}
}

// Delete removes one record, for administrative cleanup.
func (s *IdempotencyService) Delete(ctx context.Context, userID, key string) {
	if err := s.cache.Delete(ctx, recordKey(userID, key)); err != nil {
		s.logger.WarnContext(ctx, "idempotency delete failed",
			slog.String("key", truncateKey(key)),
			slog.String("error", err.Error()))
	}
}

// GenerateKey derives a deterministic key from the request payload, for
// clients that send no explicit key. The payload is put into JSON canonical
// form (RFC 8785) before hashing so key order and whitespace never change
// the derived key.
func GenerateKey(payload any) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	canonical, err := jcs.Transform(encoded)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func recordKey(userID, idempotencyKey string) string {
	return "idempotency:" + userID + ":" + idempotencyKey
}

// truncateKey shortens keys for logging; full keys can embed payload hashes.
func truncateKey(key string) string {
	if len(key) > 8 {
		return key[:8] + "..."
	}
	return key
}
