package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/toolgate/toolgate/internal/domain/exposure"
)

// PermissionSource implements exposure.PermissionSource from a static
// role→permissions map. Thread-safe. For development and testing; production
// deployments query the relational store.
type PermissionSource struct {
	mu    sync.RWMutex
	perms map[string][]string
}

// NewPermissionSource creates a source seeded from the given map. Only
// expose:* permissions are retained.
func NewPermissionSource(perms map[string][]string) *PermissionSource {
	filtered := make(map[string][]string, len(perms))
	for role, list := range perms {
		for _, p := range list {
			if strings.HasPrefix(p, "expose:") {
				filtered[role] = append(filtered[role], p)
			}
		}
	}
	return &PermissionSource{perms: filtered}
}

// ExposurePermissions returns the expose:* permissions for a role.
func (s *PermissionSource) ExposurePermissions(_ context.Context, role string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.perms[role]...), nil
}

// SetRole replaces a role's permissions. Used by tests and local config.
func (s *PermissionSource) SetRole(role string, perms []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perms[role] = append([]string(nil), perms...)
}

// Compile-time interface verification.
var _ exposure.PermissionSource = (*PermissionSource)(nil)
