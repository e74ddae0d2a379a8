// Package policy contains domain types for tool-call authorization.
package policy

import (
	"context"
	"time"

	"github.com/toolgate/toolgate/internal/domain/reqctx"
	"github.com/toolgate/toolgate/internal/domain/tool"
)

// Decision is the immutable result of one policy evaluation. Decisions are
// produced fresh for every call and never cached: authorization must reflect
// the caller's current elevation and risk state.
type Decision struct {
	// Allowed is the final allow/deny outcome.
	Allowed bool `json:"allowed"`

	// Reason is a human-readable explanation suitable for callers,
	// including LLM agents deciding whether to retry or request elevation.
	Reason string `json:"reason"`

	// PoliciesEvaluated names the policy layers consulted, in order.
	PoliciesEvaluated []string `json:"policies_evaluated,omitempty"`

	// RequiresElevation is set on denials where a valid elevation would
	// flip the outcome, so callers can request just-in-time access.
	RequiresElevation bool `json:"requires_elevation,omitempty"`

	// Metadata carries evaluation details for auditing.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EvaluationContext carries the inputs for one policy evaluation.
type EvaluationContext struct {
	// Action being performed: invoke, read, write, delete.
	Action string

	// Resource being accessed: a tool name or resource identifier.
	Resource string

	// Request is the resolved caller context.
	Request *reqctx.RequestContext

	// Tool is set when the resource is a governed tool; its risk tier
	// is evaluated before any external policy call.
	Tool *tool.Tool

	// IsElevated is the caller's current elevation state, resolved by
	// the elevation checker before evaluation.
	IsElevated bool

	// Timestamp of the request, forwarded to the external policy service.
	Timestamp time.Time

	// Metadata carries extra inputs for external policy rules.
	Metadata map[string]any
}

// Engine evaluates one action/resource pair against all policy layers:
// the risk-tier table, the external policy service, and the in-process
// fallback table.
//
// The engine returns the decision but does not audit it; the request
// pipeline logs exactly one policy_decision audit event per evaluation.
type Engine interface {
	Evaluate(ctx context.Context, evalCtx EvaluationContext) (Decision, error)
}

// ExternalClient is the outbound port for the external policy service.
type ExternalClient interface {
	// Evaluate posts the evaluation input and returns the service's
	// decision. Errors (timeout, non-2xx, unreachable) trigger the
	// engine's in-process fallback.
	Evaluate(ctx context.Context, input ExternalInput) (ExternalResult, error)
}

// ExternalInput is the wire input for the external policy service.
type ExternalInput struct {
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	User      string         `json:"user"`
	Roles     []string       `json:"roles"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ExternalResult is the external policy service's decision.
type ExternalResult struct {
	Result   bool     `json:"result"`
	Reason   string   `json:"reason,omitempty"`
	Policies []string `json:"policies,omitempty"`
}
