// Package exposure contains domain types for the tool visibility layer.
//
// Exposure (Layer B) decides which tools a caller may discover at all.
// Authorization (Layer A), whether an exposed tool may be executed, is
// handled separately by the policy engine.
package exposure

import (
	"context"
	"fmt"
	"strings"
)

// RefKind discriminates the exposure reference variants.
type RefKind int

const (
	// RefAll exposes every tool. Granted by the expose:all permission.
	RefAll RefKind = iota

	// RefBundle exposes all tools in a named bundle.
	RefBundle

	// RefTool exposes one specific tool by name.
	RefTool
)

// Ref is one decoded exposure reference. Permission strings are decoded
// into Refs exactly once, at the data boundary; the rest of the system
// never parses prefixed strings.
type Ref struct {
	Kind RefKind
	Name string // bundle or tool name; empty for RefAll
}

// String renders the ref in permission-string form, for logs.
func (r Ref) String() string {
	switch r.Kind {
	case RefAll:
		return "expose:all"
	case RefBundle:
		return "expose:bundle:" + r.Name
	default:
		return "expose:tool:" + r.Name
	}
}

// ParseRef decodes a single permission string. Supported forms:
//
//	expose:all
//	expose:bundle:<name>
//	expose:tool:<name>
func ParseRef(permission string) (Ref, error) {
	switch {
	case permission == "expose:all":
		return Ref{Kind: RefAll}, nil
	case strings.HasPrefix(permission, "expose:bundle:"):
		name := strings.TrimPrefix(permission, "expose:bundle:")
		if name == "" {
			return Ref{}, fmt.Errorf("empty bundle name in permission %q", permission)
		}
		return Ref{Kind: RefBundle, Name: name}, nil
	case strings.HasPrefix(permission, "expose:tool:"):
		name := strings.TrimPrefix(permission, "expose:tool:")
		if name == "" {
			return Ref{}, fmt.Errorf("empty tool name in permission %q", permission)
		}
		return Ref{Kind: RefTool, Name: name}, nil
	default:
		return Ref{}, fmt.Errorf("unknown exposure permission format %q", permission)
	}
}

// RefSet is the resolved set of exposure references for one role set.
type RefSet struct {
	// All short-circuits every other reference when true.
	All bool

	// Bundles holds exposed bundle names.
	Bundles map[string]struct{}

	// Tools holds directly exposed tool names.
	Tools map[string]struct{}
}

// NewRefSet returns an empty RefSet.
func NewRefSet() RefSet {
	return RefSet{
		Bundles: make(map[string]struct{}),
		Tools:   make(map[string]struct{}),
	}
}

// Add merges one reference into the set.
func (s *RefSet) Add(ref Ref) {
	switch ref.Kind {
	case RefAll:
		s.All = true
	case RefBundle:
		s.Bundles[ref.Name] = struct{}{}
	case RefTool:
		s.Tools[ref.Name] = struct{}{}
	}
}

// Contains reports whether a tool with the given name and bundle is exposed.
func (s *RefSet) Contains(toolName, toolBundle string) bool {
	if s.All {
		return true
	}
	if _, ok := s.Tools[toolName]; ok {
		return true
	}
	if toolBundle != "" {
		if _, ok := s.Bundles[toolBundle]; ok {
			return true
		}
	}
	return false
}

// Size returns the number of distinct references (0 when All is set alone).
func (s *RefSet) Size() int {
	return len(s.Bundles) + len(s.Tools)
}

// PermissionSource supplies exposure permission strings per role.
// Interface owned by the domain; implementations query a relational store.
type PermissionSource interface {
	// ExposurePermissions returns all expose:* permission strings attached
	// to the given role.
	ExposurePermissions(ctx context.Context, role string) ([]string, error)
}
