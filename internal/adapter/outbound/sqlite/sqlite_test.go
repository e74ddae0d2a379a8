package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/toolgate/toolgate/internal/domain/audit"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "toolgate.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPermissionStoreGrantAndFetch(t *testing.T) {
	db := openTestDB(t)
	store := NewPermissionStore(db)
	ctx := context.Background()

	grants := []string{
		"expose:bundle:billing",
		"expose:tool:get_invoice",
		"invoke:allowed_tools", // not an exposure ref, must be excluded
	}
	for _, p := range grants {
		if err := store.Grant(ctx, "analyst", p); err != nil {
			t.Fatalf("Grant(%q) error = %v", p, err)
		}
	}

	perms, err := store.ExposurePermissions(ctx, "analyst")
	if err != nil {
		t.Fatalf("ExposurePermissions() error = %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("ExposurePermissions() = %v, want 2 exposure refs", perms)
	}
	for _, p := range perms {
		if p == "invoke:allowed_tools" {
			t.Errorf("non-exposure permission leaked into result: %v", perms)
		}
	}
}

func TestPermissionStoreGrantIdempotent(t *testing.T) {
	db := openTestDB(t)
	store := NewPermissionStore(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.Grant(ctx, "operator", "expose:all"); err != nil {
			t.Fatalf("Grant() attempt %d error = %v", i, err)
		}
	}
	perms, err := store.ExposurePermissions(ctx, "operator")
	if err != nil {
		t.Fatalf("ExposurePermissions() error = %v", err)
	}
	if len(perms) != 1 || perms[0] != "expose:all" {
		t.Errorf("ExposurePermissions() = %v, want [expose:all]", perms)
	}
}

func TestPermissionStoreRevoke(t *testing.T) {
	db := openTestDB(t)
	store := NewPermissionStore(db)
	ctx := context.Background()

	if err := store.Grant(ctx, "user", "expose:tool:echo"); err != nil {
		t.Fatalf("Grant() error = %v", err)
	}
	if err := store.Revoke(ctx, "user", "expose:tool:echo"); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	perms, err := store.ExposurePermissions(ctx, "user")
	if err != nil {
		t.Fatalf("ExposurePermissions() error = %v", err)
	}
	if len(perms) != 0 {
		t.Errorf("ExposurePermissions() after revoke = %v, want empty", perms)
	}
}

func TestAuditStoreWriteAndQuery(t *testing.T) {
	db := openTestDB(t)
	store := NewAuditStore(db)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	events := []audit.Event{
		{
			EventID:       "evt-1",
			Timestamp:     base,
			EventType:     audit.EventTypeToolCall,
			CorrelationID: "corr-1",
			UserID:        "al***ce",
			ToolName:      "get_invoice",
			Action:        "invoke",
			Status:        audit.StatusSuccess,
			LatencyMS:     12.5,
			RequestSize:   128,
			ResponseSize:  512,
			Metadata:      map[string]any{"bundle": "billing"},
		},
		{
			EventID:       "evt-2",
			Timestamp:     base.Add(time.Minute),
			EventType:     audit.EventTypePolicyDecision,
			CorrelationID: "corr-2",
			UserID:        "bo***ob",
			ToolName:      "delete_customer",
			Action:        "invoke",
			Status:        audit.StatusDenied,
			ErrorMessage:  "Insufficient role",
		},
	}
	for _, e := range events {
		if err := store.Write(ctx, e); err != nil {
			t.Fatalf("Write(%s) error = %v", e.EventID, err)
		}
	}

	page, err := store.Query(ctx, audit.Filter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if page.Total != 2 || len(page.Events) != 2 {
		t.Fatalf("Query() total = %d, events = %d, want 2 each", page.Total, len(page.Events))
	}
	// Newest first.
	if page.Events[0].EventID != "evt-2" {
		t.Errorf("Query() first event = %s, want evt-2", page.Events[0].EventID)
	}
	got := page.Events[1]
	if got.UserID != "al***ce" || got.ToolName != "get_invoice" || got.LatencyMS != 12.5 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Metadata["bundle"] != "billing" {
		t.Errorf("metadata round trip = %v, want bundle=billing", got.Metadata)
	}
}

func TestAuditStoreQueryFilters(t *testing.T) {
	db := openTestDB(t)
	store := NewAuditStore(db)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, status := range []string{audit.StatusSuccess, audit.StatusDenied, audit.StatusSuccess} {
		e := audit.NewEvent(audit.EventTypeToolCall)
		e.Timestamp = base.Add(time.Duration(i) * time.Hour)
		e.CorrelationID = "corr"
		e.Action = "invoke"
		e.Status = status
		e.ToolName = "echo"
		if err := store.Write(ctx, e); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	page, err := store.Query(ctx, audit.Filter{Status: audit.StatusDenied})
	if err != nil {
		t.Fatalf("Query(status) error = %v", err)
	}
	if page.Total != 1 {
		t.Errorf("Query(status=denied) total = %d, want 1", page.Total)
	}

	page, err = store.Query(ctx, audit.Filter{StartTime: base.Add(30 * time.Minute)})
	if err != nil {
		t.Fatalf("Query(start) error = %v", err)
	}
	if page.Total != 2 {
		t.Errorf("Query(start) total = %d, want 2", page.Total)
	}
}

func TestAuditStoreQueryPagination(t *testing.T) {
	db := openTestDB(t)
	store := NewAuditStore(db)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := audit.NewEvent(audit.EventTypeToolCall)
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		e.CorrelationID = "corr"
		e.Action = "invoke"
		e.Status = audit.StatusSuccess
		if err := store.Write(ctx, e); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	page, err := store.Query(ctx, audit.Filter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if page.Total != 5 {
		t.Errorf("Total = %d, want 5", page.Total)
	}
	if len(page.Events) != 2 {
		t.Errorf("len(Events) = %d, want 2", len(page.Events))
	}
	if page.Limit != 2 || page.Offset != 2 {
		t.Errorf("page limit/offset = %d/%d, want 2/2", page.Limit, page.Offset)
	}
}
