package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/toolgate/toolgate/internal/domain/exposure"
)

// PermissionStore implements exposure.PermissionSource on the relational
// role_permissions table.
type PermissionStore struct {
	db *sql.DB
}

// NewPermissionStore wraps an open database.
func NewPermissionStore(db *sql.DB) *PermissionStore {
	return &PermissionStore{db: db}
}

// ExposurePermissions returns all expose:* permission strings for a role.
func (s *PermissionStore) ExposurePermissions(ctx context.Context, role string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT permission FROM role_permissions WHERE role = ? AND permission LIKE 'expose:%'`,
		role,
	)
	if err != nil {
		return nil, fmt.Errorf("query exposure permissions for role %q: %w", role, err)
	}
	defer func() { _ = rows.Close() }()

	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan permission row: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permission rows: %w", err)
	}
	return perms, nil
}

// Grant adds a permission to a role. Idempotent.
func (s *PermissionStore) Grant(ctx context.Context, role, permission string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO role_permissions (role, permission) VALUES (?, ?)`,
		role, permission,
	)
	if err != nil {
		return fmt.Errorf("grant %q to role %q: %w", permission, role, err)
	}
	return nil
}

// Revoke removes a permission from a role.
func (s *PermissionStore) Revoke(ctx context.Context, role, permission string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM role_permissions WHERE role = ? AND permission = ?`,
		role, permission,
	)
	if err != nil {
		return fmt.Errorf("revoke %q from role %q: %w", permission, role, err)
	}
	return nil
}

// Compile-time interface verification.
var _ exposure.PermissionSource = (*PermissionStore)(nil)
