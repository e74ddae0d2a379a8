package policy

import (
	"fmt"
	"sync"

	"github.com/toolgate/toolgate/internal/domain/tool"
)

// Role hierarchy levels. "Meets minimum" is always >=, never >.
const (
	RoleLevelUser      = 0
	RoleLevelOperator  = 1
	RoleLevelDeveloper = 2
	RoleLevelAdmin     = 3
)

// roleLevels maps role names to hierarchy levels. Unknown roles get -1 so
// they never satisfy any minimum.
var roleLevels = map[string]int{
	"user":      RoleLevelUser,
	"operator":  RoleLevelOperator,
	"developer": RoleLevelDeveloper,
	"admin":     RoleLevelAdmin,
}

// RoleLevel returns the hierarchy level for a role, or -1 for unknown roles.
func RoleLevel(role string) int {
	if level, ok := roleLevels[role]; ok {
		return level
	}
	return -1
}

// PIIMode selects how tool results are masked before auditing.
type PIIMode string

const (
	// PIIModeMask partially masks recognized PII patterns.
	PIIModeMask PIIMode = "mask"

	// PIIModeRedact fully redacts recognized PII.
	PIIModeRedact PIIMode = "redact"
)

// RiskPolicy is the enforcement profile for one risk tier.
type RiskPolicy struct {
	Tier              tool.RiskTier
	MinRole           string
	RequiresElevation bool
	RequiresApproval  bool
	RateLimitTier     string
	MaxConcurrency    int
	PIIMode           PIIMode
}

// AllowsRole reports whether userRole meets the policy's minimum role.
// Unknown minimum roles are unsatisfiable.
func (p RiskPolicy) AllowsRole(userRole string) bool {
	userLevel := RoleLevel(userRole)
	requiredLevel, ok := roleLevels[p.MinRole]
	if !ok {
		return false
	}
	return userLevel >= requiredLevel
}

// RiskAssessment is the result of evaluating a tool's risk tier against a
// caller's role and elevation state.
type RiskAssessment struct {
	Allowed           bool
	HasRequiredRole   bool
	RequiresElevation bool
	IsElevated        bool
	NeedsElevation    bool
	RequiresApproval  bool
	RateLimitTier     string
	MaxConcurrency    int
	PIIMode           PIIMode
	Reason            string
}

// Metadata renders the assessment as audit metadata.
func (a RiskAssessment) Metadata() map[string]any {
	return map[string]any{
		"allowed":            a.Allowed,
		"has_required_role":  a.HasRequiredRole,
		"requires_elevation": a.RequiresElevation,
		"is_elevated":        a.IsElevated,
		"needs_elevation":    a.NeedsElevation,
		"requires_approval":  a.RequiresApproval,
		"rate_limit_tier":    a.RateLimitTier,
		"pii_mode":           string(a.PIIMode),
	}
}

// RiskTable holds the per-tier enforcement profiles. It is static
// configuration, mutable only through administrative updates.
// Safe for concurrent reads and administrative writes.
type RiskTable struct {
	mu       sync.RWMutex
	policies map[tool.RiskTier]RiskPolicy
}

// NewRiskTable returns a table seeded with the default tier profiles.
func NewRiskTable() *RiskTable {
	return &RiskTable{
		policies: map[tool.RiskTier]RiskPolicy{
			tool.RiskTierRead: {
				Tier:              tool.RiskTierRead,
				MinRole:           "user",
				RequiresElevation: false,
				RequiresApproval:  false,
				RateLimitTier:     "permissive",
				MaxConcurrency:    50,
				PIIMode:           PIIModeMask,
			},
			tool.RiskTierWrite: {
				Tier:              tool.RiskTierWrite,
				MinRole:           "operator",
				RequiresElevation: false,
				RequiresApproval:  false,
				RateLimitTier:     "standard",
				MaxConcurrency:    20,
				PIIMode:           PIIModeMask,
			},
			tool.RiskTierPrivileged: {
				Tier:              tool.RiskTierPrivileged,
				MinRole:           "developer",
				RequiresElevation: true,
				RequiresApproval:  true,
				RateLimitTier:     "strict",
				MaxConcurrency:    5,
				PIIMode:           PIIModeRedact,
			},
		},
	}
}

// Policy returns the profile for a tier. Unknown tiers fall back to read,
// the least permissive default for discovery-only callers.
func (t *RiskTable) Policy(tier tool.RiskTier) RiskPolicy {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.policies[tier]; ok {
		return p
	}
	return t.policies[tool.RiskTierRead]
}

// EvaluateAccess checks a caller's role and elevation state against the
// profile for the given tier.
func (t *RiskTable) EvaluateAccess(tier tool.RiskTier, userRole string, isElevated bool) RiskAssessment {
	p := t.Policy(tier)

	hasRole := p.AllowsRole(userRole)
	needsElevation := p.RequiresElevation && !isElevated
	allowed := hasRole && !needsElevation

	a := RiskAssessment{
		Allowed:           allowed,
		HasRequiredRole:   hasRole,
		RequiresElevation: p.RequiresElevation,
		IsElevated:        isElevated,
		NeedsElevation:    needsElevation,
		RequiresApproval:  p.RequiresApproval,
		RateLimitTier:     p.RateLimitTier,
		MaxConcurrency:    p.MaxConcurrency,
		PIIMode:           p.PIIMode,
	}

	switch {
	case allowed:
		a.Reason = "Access granted"
	case !hasRole:
		a.Reason = fmt.Sprintf("Insufficient role. Requires at least %q role", p.MinRole)
	case needsElevation:
		a.Reason = "Elevation required for privileged operation"
	default:
		a.Reason = "Access denied"
	}

	return a
}

// RateLimitMultiplier scales a nominal rate limit for the tier's bucket:
// permissive doubles it, strict halves it.
func (t *RiskTable) RateLimitMultiplier(rateTier string) float64 {
	switch rateTier {
	case "permissive":
		return 2.0
	case "strict":
		return 0.5
	default:
		return 1.0
	}
}

// Update applies an administrative mutation to one tier's profile.
// Returns an error for unknown tiers.
func (t *RiskTable) Update(tier tool.RiskTier, mutate func(*RiskPolicy)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.policies[tier]
	if !ok {
		return fmt.Errorf("unknown risk tier %q", tier)
	}
	mutate(&p)
	p.Tier = tier
	t.policies[tier] = p
	return nil
}
