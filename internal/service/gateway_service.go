package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/toolgate/toolgate/internal/domain/audit"
	"github.com/toolgate/toolgate/internal/domain/elevation"
	"github.com/toolgate/toolgate/internal/domain/execute"
	"github.com/toolgate/toolgate/internal/domain/policy"
	"github.com/toolgate/toolgate/internal/domain/ratelimit"
	"github.com/toolgate/toolgate/internal/domain/reqctx"
	"github.com/toolgate/toolgate/internal/domain/tool"
	"github.com/toolgate/toolgate/internal/metrics"
)

// Default per-window quotas, scaled by the tool's risk-tier multiplier.
const (
	defaultUserLimit = 100
	defaultToolLimit = 50
	defaultWindow    = time.Minute
)

// GatewayService orchestrates the governance pipeline for one tool call:
// exposure, policy, rate limit, idempotency, then execution, with an audit
// event for every decision along the way. Stages run strictly in that
// order and each may short-circuit the rest.
type GatewayService struct {
	catalog     tool.Catalog
	exposure    *ExposureService
	policy      policy.Engine
	elevation   elevation.Checker
	limiter     ratelimit.Limiter
	idempotency *IdempotencyService
	executor    execute.Executor
	audit       *AuditService
	risk        *policy.RiskTable
	metrics     *metrics.Metrics
	logger      *slog.Logger

	userLimit        int
	toolLimit        int
	window           time.Duration
	batchConcurrency int
}

// GatewayOption configures GatewayService.
type GatewayOption func(*GatewayService)

// WithQuotas overrides the nominal per-user and per-tool window quotas.
func WithQuotas(userLimit, toolLimit int, window time.Duration) GatewayOption {
	return func(s *GatewayService) {
		s.userLimit = userLimit
		s.toolLimit = toolLimit
		s.window = window
	}
}

// WithGatewayBatchConcurrency overrides the batch fan-out limit.
func WithGatewayBatchConcurrency(n int) GatewayOption {
	return func(s *GatewayService) { s.batchConcurrency = n }
}

// NewGatewayService wires the pipeline stages together.
func NewGatewayService(
	catalog tool.Catalog,
	exposureSvc *ExposureService,
	policyEngine policy.Engine,
	elevationChecker elevation.Checker,
	limiter ratelimit.Limiter,
	idempotencySvc *IdempotencyService,
	executor execute.Executor,
	auditSvc *AuditService,
	riskTable *policy.RiskTable,
	m *metrics.Metrics,
	logger *slog.Logger,
	opts ...GatewayOption,
) *GatewayService {
	s := &GatewayService{
		catalog:          catalog,
		exposure:         exposureSvc,
		policy:           policyEngine,
		elevation:        elevationChecker,
		limiter:          limiter,
		idempotency:      idempotencySvc,
		executor:         executor,
		audit:            auditSvc,
		risk:             riskTable,
		metrics:          m,
		logger:           logger,
		userLimit:        defaultUserLimit,
		toolLimit:        defaultToolLimit,
		window:           defaultWindow,
		batchConcurrency: defaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListTools returns the catalog filtered to the caller's exposed set.
func (s *GatewayService) ListTools(ctx context.Context, rc *reqctx.RequestContext) ([]tool.Tool, error) {
	all, err := s.catalog.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	return s.exposure.FilterTools(ctx, all, rc.Roles), nil
}

// CallTool runs the full governance pipeline for one invocation. A
// non-empty idempotencyKey makes completed responses replayable for the
// record's lifetime.
func (s *GatewayService) CallTool(ctx context.Context, rc *reqctx.RequestContext, toolName string, arguments map[string]any, idempotencyKey string) (execute.Result, error) {
	started := time.Now()

	t, err := s.catalog.GetTool(ctx, toolName)
	if err != nil || t == nil {
		return execute.Result{}, execute.ErrToolNotFound
	}

	// Stage 1: exposure. A caller who cannot see the tool is turned away
	// before any policy evaluation or quota spend.
	if !s.exposure.IsExposed(ctx, *t, rc.Roles) {
		s.logger.InfoContext(ctx, "tool not exposed to caller",
			slog.String("tool", toolName),
			slog.String("correlation_id", rc.CorrelationID))
		return execute.Result{}, &execute.NotExposedError{ToolName: toolName}
	}

	// Stage 2: policy, with the caller's live elevation state.
	isElevated := rc.IsElevated
	if !isElevated {
		isElevated = s.elevation.IsElevated(ctx, rc.UserID, toolName, rc.TokenClaims)
	}
	decision, err := s.policy.Evaluate(ctx, policy.EvaluationContext{
		Action:     "invoke",
		Resource:   toolName,
		Request:    rc,
		Tool:       t,
		IsElevated: isElevated,
		Timestamp:  started.UTC(),
	})
	if err != nil {
		return execute.Result{}, err
	}
	s.audit.LogPolicyDecision(ctx, decision, toolName, "invoke", rc.CorrelationID, rc.UserID)
	s.recordPolicyMetric(decision.Allowed)
	if !decision.Allowed {
		return execute.Result{}, &execute.DeniedError{
			ToolName:          toolName,
			Reason:            decision.Reason,
			RequiresElevation: decision.RequiresElevation,
		}
	}

	// Stage 3: rate limits, scaled by the tool's risk tier.
	if limitErr := s.checkLimits(ctx, rc, t); limitErr != nil {
		return execute.Result{}, limitErr
	}

	// Stage 4: idempotency replay of completed writes. Mutating tiers
	// without an explicit key get one derived from the canonical payload,
	// so blind client retries of the same write still replay.
	if idempotencyKey == "" && t.RiskTier != tool.RiskTierRead {
		if derived, derr := GenerateKey(map[string]any{"tool": toolName, "arguments": arguments}); derr == nil {
			idempotencyKey = derived
		}
	}
	if idempotencyKey != "" {
		if stored, found := s.idempotency.GetResponse(ctx, rc.UserID, idempotencyKey); found {
			return s.replay(ctx, rc, toolName, stored)
		}
	}

	// Stage 5: execution.
	result, execErr := s.executor.Execute(ctx, toolName, arguments, rc.CorrelationID)
	latency := float64(time.Since(started).Milliseconds())
	if execErr != nil {
		s.audit.LogToolCall(ctx, toolName, arguments, nil, latency,
			rc.CorrelationID, rc.UserID, "failure", execErr.Error())
		return execute.Result{}, execErr
	}

	s.audit.LogToolCall(ctx, toolName, arguments, result.Data, latency,
		rc.CorrelationID, rc.UserID, "success", "")
	if idempotencyKey != "" {
		s.idempotency.StoreResponse(ctx, rc.UserID, idempotencyKey, result)
	}
	return result, nil
}

// CallBatch runs every item through the full governance pipeline, fanned
// out under the batch concurrency limit. Sequential mode preserves strict
// request order for dependent invocations; stopOnError additionally skips
// the rest of a sequence after its first failure.
func (s *GatewayService) CallBatch(ctx context.Context, rc *reqctx.RequestContext, requests []execute.BatchRequest, sequential, stopOnError bool) ([]execute.BatchResult, execute.BatchStats) {
	batch := NewBatchService(
		&governedExecutor{gateway: s, rc: rc},
		s.logger,
		WithBatchConcurrency(s.batchConcurrency),
	)
	var results []execute.BatchResult
	if sequential {
		results = batch.ExecuteSequential(ctx, requests, rc.CorrelationID, stopOnError)
	} else {
		results = batch.ExecuteBatch(ctx, requests, rc.CorrelationID)
	}
	return results, execute.Statistics(results)
}

// GetAuditLogs exposes the audit query surface to administrative callers.
func (s *GatewayService) GetAuditLogs(ctx context.Context, filter audit.Filter) (audit.Page, error) {
	return s.audit.GetLogs(ctx, filter)
}

// RiskPolicyUpdate carries the mutable fields of a tier profile. Nil
// fields are left unchanged.
type RiskPolicyUpdate struct {
	MinRole           *string `json:"min_role,omitempty"`
	RequiresElevation *bool   `json:"requires_elevation,omitempty"`
	RequiresApproval  *bool   `json:"requires_approval,omitempty"`
	RateLimitTier     *string `json:"rate_limit_tier,omitempty"`
	MaxConcurrency    *int    `json:"max_concurrency,omitempty"`
	PIIMode           *string `json:"pii_mode,omitempty"`
}

func (u RiskPolicyUpdate) validate() error {
	if u.MinRole != nil && policy.RoleLevel(*u.MinRole) < 0 {
		return fmt.Errorf("unknown role %q", *u.MinRole)
	}
	if u.RateLimitTier != nil {
		switch *u.RateLimitTier {
		case "permissive", "standard", "strict":
		default:
			return fmt.Errorf("unknown rate limit tier %q", *u.RateLimitTier)
		}
	}
	if u.MaxConcurrency != nil && *u.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1")
	}
	if u.PIIMode != nil {
		switch policy.PIIMode(*u.PIIMode) {
		case policy.PIIModeMask, policy.PIIModeRedact:
		default:
			return fmt.Errorf("unknown pii mode %q", *u.PIIMode)
		}
	}
	return nil
}

func (u RiskPolicyUpdate) details() map[string]any {
	details := make(map[string]any)
	if u.MinRole != nil {
		details["min_role"] = *u.MinRole
	}
	if u.RequiresElevation != nil {
		details["requires_elevation"] = *u.RequiresElevation
	}
	if u.RequiresApproval != nil {
		details["requires_approval"] = *u.RequiresApproval
	}
	if u.RateLimitTier != nil {
		details["rate_limit_tier"] = *u.RateLimitTier
	}
	if u.MaxConcurrency != nil {
		details["max_concurrency"] = *u.MaxConcurrency
	}
	if u.PIIMode != nil {
		details["pii_mode"] = *u.PIIMode
	}
	return details
}

// UpdateRiskPolicy applies an administrative change to one tier's
// enforcement profile. The change is recorded as a config_change audit
// event and the exposure cache is invalidated so the new profile takes
// effect on the next request.
func (s *GatewayService) UpdateRiskPolicy(ctx context.Context, rc *reqctx.RequestContext, tier tool.RiskTier, update RiskPolicyUpdate) error {
	if err := update.validate(); err != nil {
		return err
	}
	err := s.risk.Update(tier, func(p *policy.RiskPolicy) {
		if update.MinRole != nil {
			p.MinRole = *update.MinRole
		}
		if update.RequiresElevation != nil {
			p.RequiresElevation = *update.RequiresElevation
		}
		if update.RequiresApproval != nil {
			p.RequiresApproval = *update.RequiresApproval
		}
		if update.RateLimitTier != nil {
			p.RateLimitTier = *update.RateLimitTier
		}
		if update.MaxConcurrency != nil {
			p.MaxConcurrency = *update.MaxConcurrency
		}
		if update.PIIMode != nil {
			p.PIIMode = policy.PIIMode(*update.PIIMode)
		}
	})
	if err != nil {
		return err
	}

	s.exposure.Invalidate()

	details := update.details()
	details["tier"] = string(tier)
	s.audit.LogConfigChange(ctx, "update_risk_policy", rc.CorrelationID, rc.UserID, details)
	s.logger.InfoContext(ctx, "risk policy updated",
		slog.String("tier", string(tier)),
		slog.String("user_id", rc.UserID))
	return nil
}

func (s *GatewayService) checkLimits(ctx context.Context, rc *reqctx.RequestContext, t *tool.Tool) error {
	riskPolicy := s.risk.Policy(t.RiskTier)
	multiplier := s.risk.RateLimitMultiplier(riskPolicy.RateLimitTier)

	checks := []struct {
		keyType ratelimit.KeyType
		value   string
		limit   int
	}{
		{ratelimit.KeyTypeUser, rc.UserID, EffectiveLimit(s.userLimit, multiplier)},
		{ratelimit.KeyTypeTool, t.Name, EffectiveLimit(s.toolLimit, multiplier)},
	}
	for _, check := range checks {
		result, err := s.limiter.Allow(ctx, ratelimit.FormatKey(check.keyType, check.value), ratelimit.Config{
			Limit:  check.limit,
			Window: s.window,
		})
		if err != nil {
			// The limiter itself fails open; an error here is a
			// programming bug, not a quota decision.
			return err
		}
		if !result.Allowed {
			if s.metrics != nil {
				s.metrics.RateLimitDenials.WithLabelValues(string(check.keyType)).Inc()
			}
			s.logger.InfoContext(ctx, "rate limit exceeded",
				slog.String("key_type", string(check.keyType)),
				slog.String("tool", t.Name),
				slog.String("correlation_id", rc.CorrelationID))
			return &ratelimit.LimitExceededError{
				RetryAfter: result.RetryAfter,
				ResetAt:    result.ResetAt,
			}
		}
	}
	return nil
}

func (s *GatewayService) replay(ctx context.Context, rc *reqctx.RequestContext, toolName string, stored json.RawMessage) (execute.Result, error) {
	var result execute.Result
	if err := json.Unmarshal(stored, &result); err != nil {
		s.logger.WarnContext(ctx, "stored idempotent response unreadable, re-executing not attempted",
			slog.String("tool", toolName),
			slog.String("error", err.Error()))
		return execute.Result{}, err
	}
	if result.Metadata == nil {
		result.Metadata = make(map[string]any)
	}
	result.Metadata["idempotent_replay"] = true
	if s.metrics != nil {
		s.metrics.IdempotentReplays.Inc()
	}
	s.logger.InfoContext(ctx, "idempotent replay",
		slog.String("tool", toolName),
		slog.String("correlation_id", rc.CorrelationID))
	return result, nil
}

func (s *GatewayService) recordPolicyMetric(allowed bool) {
	if s.metrics == nil {
		return
	}
	label := "deny"
	if allowed {
		label = "allow"
	}
	s.metrics.PolicyEvaluations.WithLabelValues(label).Inc()
}

// governedExecutor routes batch items through the full pipeline instead of
// the raw executor, so batch calls get the same exposure, policy, and
// quota treatment as single calls.
type governedExecutor struct {
	gateway *GatewayService
	rc      *reqctx.RequestContext
}

func (e *governedExecutor) Execute(ctx context.Context, toolName string, arguments map[string]any, _ string) (execute.Result, error) {
	return e.gateway.CallTool(ctx, e.rc, toolName, arguments, "")
}

// Compile-time interface verification.
var _ execute.Executor = (*governedExecutor)(nil)
