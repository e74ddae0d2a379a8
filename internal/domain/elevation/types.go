// Package elevation contains domain types for time-bounded privilege grants.
package elevation

import (
	"context"
	"time"
)

// Status describes one elevation grant. Validity is a pure function of the
// elevated flag and the expiry timestamp and must be recomputed on every
// read; it is never cached as a boolean.
type Status struct {
	Elevated   bool      `json:"elevated"`
	ElevatedAt time.Time `json:"elevated_at,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	ApprovedBy string    `json:"approved_by,omitempty"`
}

// ValidAt reports whether the grant is live at the given instant.
func (s Status) ValidAt(now time.Time) bool {
	if !s.Elevated {
		return false
	}
	if !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt) {
		return false
	}
	return true
}

// Request is one just-in-time elevation request and its outcome.
type Request struct {
	UserID           string    `json:"user_id"`
	ToolName         string    `json:"tool_name"`
	Reason           string    `json:"reason"`
	RequestedAt      time.Time `json:"requested_at"`
	RequiresApproval bool      `json:"requires_approval"`
	ApprovalURL      string    `json:"approval_url,omitempty"`
}

// Checker resolves a caller's current elevation state and handles
// just-in-time elevation requests.
//
// Resolution order: token claims, then the external PAM endpoint when
// configured, then the local grant cache. The first source yielding a
// valid, unexpired elevation wins.
type Checker interface {
	IsElevated(ctx context.Context, userID, toolName string, tokenClaims map[string]any) bool
	RequestElevation(ctx context.Context, userID, toolName, reason string, requiresApproval bool) (Request, error)
	Revoke(userID, toolName string)
}

// PAMClient is the outbound port for the external privileged-access-management
// service.
type PAMClient interface {
	// CheckElevation asks PAM whether the user currently holds elevation
	// for the resource.
	CheckElevation(ctx context.Context, userID, resource string) (bool, error)

	// RequestElevation asks PAM to grant elevation. The response reports
	// whether manual approval is required and, if so, where.
	RequestElevation(ctx context.Context, userID, resource, reason string, duration time.Duration) (PAMGrant, error)
}

// PAMGrant is the PAM service's response to an elevation request.
type PAMGrant struct {
	RequiresApproval bool   `json:"requires_approval"`
	ApprovalURL      string `json:"approval_url,omitempty"`
}
