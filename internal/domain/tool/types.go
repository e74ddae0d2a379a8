// Package tool contains domain types for governed backend tools.
package tool

import (
	"context"
	"encoding/json"
)

// RiskTier classifies a tool's operational danger. It drives the minimum
// role, elevation, and rate-limit requirements applied before execution.
type RiskTier string

const (
	// RiskTierRead covers read-only, informational operations.
	RiskTierRead RiskTier = "read"

	// RiskTierWrite covers operations that mutate backend state.
	RiskTierWrite RiskTier = "write"

	// RiskTierPrivileged covers destructive or administrative operations
	// that additionally require elevation.
	RiskTierPrivileged RiskTier = "privileged"
)

// IsValid returns true if the risk tier is a known valid tier.
func (r RiskTier) IsValid() bool {
	switch r {
	case RiskTierRead, RiskTierWrite, RiskTierPrivileged:
		return true
	default:
		return false
	}
}

// AuthType selects how the backend call is authenticated.
type AuthType string

const (
	// AuthTypeAPIKey sends a simple X-API-Key header.
	AuthTypeAPIKey AuthType = "api_key"

	// AuthTypeSubscriptionKey sends an Ocp-Apim-Subscription-Key header.
	AuthTypeSubscriptionKey AuthType = "subscription_key"
)

// Tool describes one governed backend operation. Tools are owned by the
// external catalog and read-only to the governance core; administrative
// updates go through the catalog, never through this code.
type Tool struct {
	// Name is the unique identifier for this tool.
	Name string `json:"name"`

	// BundleName groups related tools for exposure rules.
	BundleName string `json:"bundle_name,omitempty"`

	// Description is an optional human-readable description.
	Description string `json:"description,omitempty"`

	// RiskTier is the declared risk classification.
	RiskTier RiskTier `json:"risk_tier"`

	// RateLimitTier selects the nominal per-tool rate limit bucket.
	RateLimitTier string `json:"rate_limit_tier,omitempty"`

	// HTTPMethod and Endpoint describe the backend call. Endpoint may
	// contain {param} placeholders substituted from call arguments.
	HTTPMethod string `json:"http_method"`
	Endpoint   string `json:"endpoint"`

	// AuthType selects the backend auth header mode.
	AuthType AuthType `json:"auth_type,omitempty"`

	// InputSchema is the declared JSON Schema for the tool's arguments.
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Catalog is the read-only view of the external tool registry.
// Interface owned by the domain per hexagonal architecture.
type Catalog interface {
	// GetTool returns the tool with the given name, or nil if unknown.
	GetTool(ctx context.Context, name string) (*Tool, error)

	// ListTools returns all active tools.
	ListTools(ctx context.Context) ([]Tool, error)
}
