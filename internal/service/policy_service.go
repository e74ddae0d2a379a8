package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/toolgate/toolgate/internal/domain/policy"
)

// PolicyService combines the risk-tier table, the external policy service,
// and the in-process fallback table into one allow/deny decision. Decisions
// are produced fresh for every call and never cached, so they always
// reflect the caller's current elevation state.
type PolicyService struct {
	risk     *policy.RiskTable
	fallback *policy.FallbackTable
	external policy.ExternalClient // nil when no external service is configured
	logger   *slog.Logger
}

// PolicyServiceOption configures PolicyService.
type PolicyServiceOption func(*PolicyService)

// WithExternalPolicy attaches an external policy service client.
func WithExternalPolicy(client policy.ExternalClient) PolicyServiceOption {
	return func(s *PolicyService) { s.external = client }
}

// NewPolicyService creates a policy engine over the given tables.
func NewPolicyService(risk *policy.RiskTable, fallback *policy.FallbackTable, logger *slog.Logger, opts ...PolicyServiceOption) *PolicyService {
	s := &PolicyService{
		risk:     risk,
		fallback: fallback,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate runs the policy layers in order. When the resource is a tool
// with a declared risk tier, the risk check runs first and a risk denial
// short-circuits without consulting the external service: privileged-tool
// protection never depends on an external dependency being reachable.
func (s *PolicyService) Evaluate(ctx context.Context, evalCtx policy.EvaluationContext) (policy.Decision, error) {
	evaluated := make([]string, 0, 2)

	if evalCtx.Tool != nil && evalCtx.Tool.RiskTier.IsValid() {
		assessment := s.risk.EvaluateAccess(
			evalCtx.Tool.RiskTier,
			evalCtx.Request.PrimaryRole(),
			evalCtx.IsElevated,
		)
		evaluated = append(evaluated, "risk_policy")
		if !assessment.Allowed {
			s.logger.InfoContext(ctx, "risk policy denied access",
				slog.String("resource", evalCtx.Resource),
				slog.String("tier", string(evalCtx.Tool.RiskTier)),
				slog.String("reason", assessment.Reason))
			return policy.Decision{
				Allowed:           false,
				Reason:            assessment.Reason,
				PoliciesEvaluated: evaluated,
				RequiresElevation: assessment.NeedsElevation,
				Metadata:          assessment.Metadata(),
			}, nil
		}
	}

	if s.external != nil {
		decision, err := s.evaluateExternal(ctx, evalCtx, evaluated)
		if err == nil {
			return decision, nil
		}
		s.logger.WarnContext(ctx, "external policy service failed, using fallback table",
			slog.String("action", evalCtx.Action),
			slog.String("resource", evalCtx.Resource),
			slog.String("error", err.Error()))
	}

	decision := s.fallback.Evaluate(evalCtx.Action, evalCtx.Resource, evalCtx.Request.Roles)
	decision.PoliciesEvaluated = append(evaluated, decision.PoliciesEvaluated...)
	return decision, nil
}

func (s *PolicyService) evaluateExternal(ctx context.Context, evalCtx policy.EvaluationContext, evaluated []string) (policy.Decision, error) {
	timestamp := evalCtx.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	result, err := s.external.Evaluate(ctx, policy.ExternalInput{
		Action:    evalCtx.Action,
		Resource:  evalCtx.Resource,
		User:      evalCtx.Request.UserID,
		Roles:     evalCtx.Request.Roles,
		Timestamp: timestamp.UTC().Format(time.RFC3339),
		Metadata:  evalCtx.Metadata,
	})
	if err != nil {
		return policy.Decision{}, err
	}

	reason := result.Reason
	if reason == "" {
		if result.Result {
			reason = "Allowed by external policy"
		} else {
			reason = "Denied by external policy"
		}
	}
	evaluated = append(evaluated, "external_policy")
	evaluated = append(evaluated, result.Policies...)
	return policy.Decision{
		Allowed:           result.Result,
		Reason:            reason,
		PoliciesEvaluated: evaluated,
	}, nil
}

// Compile-time interface verification.
var _ policy.Engine = (*PolicyService)(nil)
