// Package reqctx defines the per-request context value passed through the
// governance pipeline.
package reqctx

import (
	"strings"
)

// RequestContext is the normalized caller context resolved once at request
// entry. It is never mutated after construction: every downstream governance
// decision sees the same snapshot.
type RequestContext struct {
	// UserID identifies the caller. Empty for anonymous callers.
	UserID string

	// Roles is the caller's role set.
	Roles []string

	// Scopes is the caller's OAuth-style scope set.
	Scopes []string

	// ClientID identifies the calling application.
	ClientID string

	// CorrelationID ties together all audit events for one request.
	CorrelationID string

	// SourceIP is the caller's remote address.
	SourceIP string

	// IsElevated is true when the caller's token carried a currently
	// valid elevation claim. The elevation checker may additionally
	// consult PAM and its local grant cache.
	IsElevated bool

	// TokenClaims holds the raw claims of the presented token, if any.
	// Used by the elevation checker to validate embedded elevation.
	TokenClaims map[string]any
}

// PrimaryRole returns the first role, or "user" when the caller has none.
// Risk-tier evaluation uses the primary role for the hierarchy check.
func (c *RequestContext) PrimaryRole() string {
	if len(c.Roles) == 0 {
		return "user"
	}
	return c.Roles[0]
}

// HasRole reports whether the caller holds the given role.
func (c *RequestContext) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ParseListClaim normalizes a claim value that may be a list, a
// comma-separated string, or a space-separated string into a string slice.
func ParseListClaim(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		parts := strings.Split(strings.ReplaceAll(v, " ", ","), ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	default:
		return nil
	}
}
