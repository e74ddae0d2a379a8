package policy

import (
	"fmt"
	"sync"
)

// FallbackTable is the in-process role→permission table consulted when the
// external policy service is unreachable or disabled. Permissions are
// "action:resource" strings, "action:*" action wildcards, or the global "*".
//
// Evaluation checks each role in order; within a role, an exact
// "action:resource" match takes precedence over "action:*", which takes
// precedence over "*". The first role with any match wins.
type FallbackTable struct {
	mu    sync.RWMutex
	rules map[string][]string
}

// NewFallbackTable returns a table seeded with the default role rules.
func NewFallbackTable() *FallbackTable {
	return &FallbackTable{
		rules: map[string][]string{
			"admin": {"*"},
			"developer": {
				"invoke:*",
				"read:*",
				"write:tool",
				"write:config",
			},
			"operator": {
				"invoke:*",
				"read:*",
			},
			"user": {
				"invoke:allowed_tools",
				"read:tool",
			},
		},
	}
}

// Evaluate applies the table to an action/resource pair for the given roles.
func (t *FallbackTable) Evaluate(action, resource string, roles []string) Decision {
	if len(roles) == 0 {
		return Decision{
			Allowed:           false,
			Reason:            "No roles assigned to user",
			PoliciesEvaluated: []string{"fallback_rbac"},
		}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	exact := action + ":" + resource
	actionWildcard := action + ":*"

	for _, role := range roles {
		perms := t.rules[role]
		if matched, perm := matchPermission(perms, exact, actionWildcard); matched {
			return Decision{
				Allowed:           true,
				Reason:            fmt.Sprintf("Role %q has permission %q", role, perm),
				PoliciesEvaluated: []string{"fallback_rbac"},
			}
		}
	}

	return Decision{
		Allowed:           false,
		Reason:            fmt.Sprintf("No matching permission for action %q on resource %q", action, resource),
		PoliciesEvaluated: []string{"fallback_rbac"},
	}
}

// matchPermission checks one role's permissions in precedence order:
// exact, action wildcard, global wildcard.
func matchPermission(perms []string, exact, actionWildcard string) (bool, string) {
	var hasActionWildcard, hasGlobal bool
	for _, p := range perms {
		switch p {
		case exact:
			return true, exact
		case actionWildcard:
			hasActionWildcard = true
		case "*":
			hasGlobal = true
		}
	}
	if hasActionWildcard {
		return true, actionWildcard
	}
	if hasGlobal {
		return true, "*"
	}
	return false, ""
}

// Permissions returns a copy of one role's permission list.
func (t *FallbackTable) Permissions(role string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.rules[role]...)
}

// SetPermissions replaces one role's permission list, creating the role if
// needed. Used by administrative configuration.
func (t *FallbackTable) SetPermissions(role string, perms []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules[role] = append([]string(nil), perms...)
}

// Roles lists the configured role names.
func (t *FallbackTable) Roles() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	roles := make([]string, 0, len(t.rules))
	for r := range t.rules {
		roles = append(roles, r)
	}
	return roles
}
