// Package sqlite implements relational outbound ports on SQLite: the
// exposure permission source and the queryable audit sink.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Open opens (creating if needed) the SQLite database at path and applies
// the schema.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite allows one writer; serialize access through a single conn.
	db.SetMaxOpenConns(1)

	if err := applySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS role_permissions (
			role       TEXT NOT NULL,
			permission TEXT NOT NULL,
			PRIMARY KEY (role, permission)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			event_id       TEXT PRIMARY KEY,
			timestamp      TEXT NOT NULL,
			event_type     TEXT NOT NULL,
			correlation_id TEXT NOT NULL,
			user_id        TEXT,
			tool_name      TEXT,
			action         TEXT NOT NULL,
			status         TEXT NOT NULL,
			latency_ms     REAL,
			request_size   INTEGER,
			response_size  INTEGER,
			error_message  TEXT,
			metadata       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs (timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_tool ON audit_logs (tool_name)`,
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
