package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/toolgate/toolgate/internal/domain/elevation"
)

const defaultElevationDuration = time.Hour

// ElevationService resolves whether a caller currently holds elevated
// privilege. Sources are consulted in order: token claims, the external PAM
// service when configured, then the local grant cache. Validity is always
// recomputed from the expiry timestamp, never cached as a boolean.
type ElevationService struct {
	pam      elevation.PAMClient // nil in local mode
	duration time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	grants map[string]elevation.Status // "userID:toolName"
}

// ElevationServiceOption configures ElevationService.
type ElevationServiceOption func(*ElevationService)

// WithPAM attaches an external PAM client. Without it the service runs in
// local mode: elevation requests are auto-approved and cached in process.
func WithPAM(client elevation.PAMClient) ElevationServiceOption {
	return func(s *ElevationService) { s.pam = client }
}

// WithElevationDuration overrides the default 1h grant duration.
func WithElevationDuration(d time.Duration) ElevationServiceOption {
	return func(s *ElevationService) { s.duration = d }
}

// WithElevationClock overrides the clock, for tests.
func WithElevationClock(now func() time.Time) ElevationServiceOption {
	return func(s *ElevationService) { s.now = now }
}

// NewElevationService creates an elevation service.
func NewElevationService(logger *slog.Logger, opts ...ElevationServiceOption) *ElevationService {
	s := &ElevationService{
		duration: defaultElevationDuration,
		logger:   logger,
		now:      time.Now,
		grants:   make(map[string]elevation.Status),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsElevated reports whether the user currently holds elevation for the
// tool. PAM failures degrade to the local grant cache.
func (s *ElevationService) IsElevated(ctx context.Context, userID, toolName string, tokenClaims map[string]any) bool {
	now := s.now()

	if status, ok := statusFromClaims(tokenClaims); ok && status.ValidAt(now) {
		s.logger.InfoContext(ctx, "caller elevated via token claim",
			slog.String("user_id", userID),
			slog.String("tool", toolName))
		return true
	}

	if s.pam != nil {
		elevated, err := s.pam.CheckElevation(ctx, userID, toolName)
		if err != nil {
			s.logger.WarnContext(ctx, "pam elevation check failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
		} else if elevated {
			s.logger.InfoContext(ctx, "caller elevated via pam",
				slog.String("user_id", userID),
				slog.String("tool", toolName))
			return true
		}
	}

	key := grantKey(userID, toolName)
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.grants[key]; ok {
		if status.ValidAt(now) {
			return true
		}
		delete(s.grants, key)
	}
	return false
}

// RequestElevation grants just-in-time elevation. In PAM mode the request
// is forwarded; when PAM auto-approves, or in local mode, the grant is
// cached in process until it expires.
func (s *ElevationService) RequestElevation(ctx context.Context, userID, toolName, reason string, requiresApproval bool) (elevation.Request, error) {
	req := elevation.Request{
		UserID:           userID,
		ToolName:         toolName,
		Reason:           reason,
		RequestedAt:      s.now().UTC(),
		RequiresApproval: requiresApproval,
	}

	if s.pam == nil {
		s.grantLocal(userID, toolName, reason)
		return req, nil
	}

	grant, err := s.pam.RequestElevation(ctx, userID, toolName, reason, s.duration)
	if err != nil {
		s.logger.ErrorContext(ctx, "pam elevation request failed",
			slog.String("user_id", userID),
			slog.String("tool", toolName),
			slog.String("error", err.Error()))
		return req, err
	}
	if grant.RequiresApproval {
		req.RequiresApproval = true
		req.ApprovalURL = grant.ApprovalURL
	} else {
		s.grantLocal(userID, toolName, reason)
	}
	return req, nil
}

// Revoke drops any local grant for the user and tool.
func (s *ElevationService) Revoke(userID, toolName string) {
	key := grantKey(userID, toolName)
	s.mu.Lock()
	_, existed := s.grants[key]
	delete(s.grants, key)
	s.mu.Unlock()
	if existed {
		s.logger.Info("elevation revoked",
			slog.String("user_id", userID),
			slog.String("tool", toolName))
	}
}

func (s *ElevationService) grantLocal(userID, toolName, reason string) {
	now := s.now().UTC()
	status := elevation.Status{
		Elevated:   true,
		ElevatedAt: now,
		ExpiresAt:  now.Add(s.duration),
		Reason:     reason,
		ApprovedBy: "auto",
	}
	s.mu.Lock()
	s.grants[grantKey(userID, toolName)] = status
	s.mu.Unlock()
	s.logger.Info("elevation granted",
		slog.String("user_id", userID),
		slog.String("tool", toolName),
		slog.Time("expires_at", status.ExpiresAt))
}

func grantKey(userID, toolName string) string {
	return userID + ":" + toolName
}

// statusFromClaims decodes the elevation_status token claim:
//
//	{"elevation_status": {"elevated": true, "expires_at": "2026-01-31T11:00:00Z", ...}}
func statusFromClaims(claims map[string]any) (elevation.Status, bool) {
	raw, ok := claims["elevation_status"].(map[string]any)
	if !ok {
		return elevation.Status{}, false
	}
	status := elevation.Status{}
	if v, ok := raw["elevated"].(bool); ok {
		status.Elevated = v
	}
	if v, ok := raw["elevated_at"].(string); ok {
		status.ElevatedAt, _ = time.Parse(time.RFC3339, v)
	}
	if v, ok := raw["expires_at"].(string); ok {
		status.ExpiresAt, _ = time.Parse(time.RFC3339, v)
	}
	if v, ok := raw["reason"].(string); ok {
		status.Reason = v
	}
	if v, ok := raw["approved_by"].(string); ok {
		status.ApprovedBy = v
	}
	return status, true
}

// Compile-time interface verification.
var _ elevation.Checker = (*ElevationService)(nil)
