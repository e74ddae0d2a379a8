// Package worm writes audit events to an S3-compatible object store as
// immutable, date-partitioned JSON objects. The bucket is expected to be
// configured with object-lock so that written events cannot be modified
// or deleted before their retention period expires.
package worm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/toolgate/toolgate/internal/domain/audit"
)

// Config holds connection settings for the object store.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Retention time.Duration
	KeyPrefix string
}

// Store is an audit.Sink backed by an object store.
type Store struct {
	client    *minio.Client
	bucket    string
	prefix    string
	retention time.Duration
	logger    *slog.Logger
}

// New connects to the object store and verifies the bucket exists.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store %s: %w", cfg.Endpoint, err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("audit bucket %s does not exist", cfg.Bucket)
	}
	return newStore(client, cfg, logger), nil
}

func newStore(client *minio.Client, cfg Config, logger *slog.Logger) *Store {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "audit-logs"
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 7 * 365 * 24 * time.Hour
	}
	return &Store{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    prefix,
		retention: retention,
		logger:    logger,
	}
}

// Write stores one event under a date-partitioned key. The object carries a
// SHA-256 checksum and a retain-until timestamp in its user metadata so the
// record can be verified and lifecycle rules applied downstream.
func (s *Store) Write(ctx context.Context, event audit.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event %s: %w", event.EventID, err)
	}

	key := s.objectKey(event)
	sum := sha256.Sum256(body)
	retainUntil := event.Timestamp.Add(s.retention)

	_, err = s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{
			ContentType: "application/json",
			UserMetadata: map[string]string{
				"checksum-sha256": hex.EncodeToString(sum[:]),
				"retain-until":    retainUntil.UTC().Format(time.RFC3339),
				"event-type":      event.EventType,
			},
		})
	if err != nil {
		return fmt.Errorf("put audit object %s: %w", key, err)
	}

	s.logger.DebugContext(ctx, "audit event archived",
		slog.String("key", key),
		slog.Int("bytes", len(body)))
	return nil
}

// objectKey partitions events by UTC date so queries and lifecycle rules can
// prune by prefix: <prefix>/year=YYYY/month=MM/day=DD/<event_id>.json.
func (s *Store) objectKey(event audit.Event) string {
	ts := event.Timestamp.UTC()
	return fmt.Sprintf("%s/year=%04d/month=%02d/day=%02d/%s.json",
		s.prefix, ts.Year(), int(ts.Month()), ts.Day(), event.EventID)
}

// Compile-time interface verification.
var _ audit.Sink = (*Store)(nil)
