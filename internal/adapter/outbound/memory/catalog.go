package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/toolgate/toolgate/internal/domain/tool"
)

// Catalog implements tool.Catalog from an in-process map, loaded from
// configuration at startup. The external tool registry owns tool
// definitions; this adapter is the read-only local view of them.
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]tool.Tool
}

// NewCatalog creates a catalog from the given tools.
func NewCatalog(tools []tool.Tool) *Catalog {
	m := make(map[string]tool.Tool, len(tools))
	for _, t := range tools {
		m[t.Name] = t
	}
	return &Catalog{tools: m}
}

// GetTool returns the tool with the given name, or nil if unknown.
func (c *Catalog) GetTool(_ context.Context, name string) (*tool.Tool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t, ok := c.tools[name]; ok {
		return &t, nil
	}
	return nil, nil
}

// ListTools returns all tools sorted by name.
func (c *Catalog) ListTools(_ context.Context) ([]tool.Tool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]tool.Tool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Compile-time interface verification.
var _ tool.Catalog = (*Catalog)(nil)
