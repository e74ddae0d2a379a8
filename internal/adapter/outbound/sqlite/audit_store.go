package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/toolgate/toolgate/internal/domain/audit"
)

// AuditStore implements audit.QueryableSink on the relational audit_logs
// table. Rows are insert-only; no update or delete paths exist.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore wraps an open database.
func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Write inserts one audit event. Metadata is stored as serialized JSON.
func (s *AuditStore) Write(ctx context.Context, event audit.Event) error {
	var metadata any
	if len(event.Metadata) > 0 {
		b, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		metadata = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (
			event_id, timestamp, event_type, correlation_id,
			user_id, tool_name, action, status, latency_ms,
			request_size, response_size, error_message, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID,
		event.Timestamp.UTC().Format(time.RFC3339Nano),
		event.EventType,
		event.CorrelationID,
		nullable(event.UserID),
		nullable(event.ToolName),
		event.Action,
		event.Status,
		event.LatencyMS,
		event.RequestSize,
		event.ResponseSize,
		nullable(event.ErrorMessage),
		metadata,
	)
	if err != nil {
		return fmt.Errorf("insert audit event %s: %w", event.EventID, err)
	}
	return nil
}

// Query returns events matching the filter, newest first.
func (s *AuditStore) Query(ctx context.Context, filter audit.Filter) (audit.Page, error) {
	where, args := buildWhere(filter)

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_logs" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return audit.Page{}, fmt.Errorf("count audit events: %w", err)
	}

	query := `SELECT event_id, timestamp, event_type, correlation_id,
		COALESCE(user_id, ''), COALESCE(tool_name, ''), action, status,
		COALESCE(latency_ms, 0), COALESCE(request_size, 0),
		COALESCE(response_size, 0), COALESCE(error_message, ''),
		COALESCE(metadata, '')
		FROM audit_logs` + where + ` ORDER BY timestamp DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, filter.Offset)...)
	if err != nil {
		return audit.Page{}, fmt.Errorf("query audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	page := audit.Page{Total: total, Limit: limit, Offset: filter.Offset}
	for rows.Next() {
		var e audit.Event
		var ts, metadata string
		if err := rows.Scan(
			&e.EventID, &ts, &e.EventType, &e.CorrelationID,
			&e.UserID, &e.ToolName, &e.Action, &e.Status,
			&e.LatencyMS, &e.RequestSize, &e.ResponseSize,
			&e.ErrorMessage, &metadata,
		); err != nil {
			return audit.Page{}, fmt.Errorf("scan audit row: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if metadata != "" {
			_ = json.Unmarshal([]byte(metadata), &e.Metadata)
		}
		page.Events = append(page.Events, e)
	}
	if err := rows.Err(); err != nil {
		return audit.Page{}, fmt.Errorf("iterate audit rows: %w", err)
	}
	return page, nil
}

// buildWhere translates a filter into a WHERE clause and its arguments.
func buildWhere(filter audit.Filter) (string, []any) {
	var conds []string
	var args []any

	if !filter.StartTime.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.StartTime.UTC().Format(time.RFC3339Nano))
	}
	if !filter.EndTime.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, filter.EndTime.UTC().Format(time.RFC3339Nano))
	}
	if filter.ToolName != "" {
		conds = append(conds, "tool_name = ?")
		args = append(args, filter.ToolName)
	}
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, filter.EventType)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Compile-time interface verification.
var _ audit.QueryableSink = (*AuditStore)(nil)
