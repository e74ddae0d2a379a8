// Package service contains application services.
package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/toolgate/toolgate/internal/domain/exposure"
	"github.com/toolgate/toolgate/internal/domain/tool"
)

const defaultExposureTTL = time.Hour

// exposureEntry is one cached resolution for a distinct sorted role set.
type exposureEntry struct {
	refs     exposure.RefSet
	cachedAt time.Time
}

// ExposureService resolves which tools a role set may discover. Results are
// cached per distinct sorted role set; an entry older than its TTL is never
// served. Source failures are swallowed per role, so an unreachable
// permission store yields an empty exposed set, never an error that aborts
// discovery.
type ExposureService struct {
	source exposure.PermissionSource
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[uint64]exposureEntry
}

// ExposureServiceOption configures ExposureService.
type ExposureServiceOption func(*ExposureService)

// WithExposureTTL overrides the default 1h cache TTL.
func WithExposureTTL(ttl time.Duration) ExposureServiceOption {
	return func(s *ExposureService) { s.ttl = ttl }
}

// WithExposureClock overrides the clock, for tests.
func WithExposureClock(now func() time.Time) ExposureServiceOption {
	return func(s *ExposureService) { s.now = now }
}

// NewExposureService creates an exposure service over the given permission
// source.
func NewExposureService(source exposure.PermissionSource, logger *slog.Logger, opts ...ExposureServiceOption) *ExposureService {
	s := &ExposureService{
		source: source,
		ttl:    defaultExposureTTL,
		logger: logger,
		now:    time.Now,
		cache:  make(map[uint64]exposureEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExposedRefs returns the union of exposure references across all held
// roles. An expose:all permission on any role short-circuits the rest.
func (s *ExposureService) ExposedRefs(ctx context.Context, roles []string) exposure.RefSet {
	key := roleSetKey(roles)

	s.mu.Lock()
	if entry, ok := s.cache[key]; ok && s.now().Sub(entry.cachedAt) < s.ttl {
		s.mu.Unlock()
		return entry.refs
	}
	s.mu.Unlock()

	refs := s.resolve(ctx, roles)

	s.mu.Lock()
	s.cache[key] = exposureEntry{refs: refs, cachedAt: s.now()}
	s.mu.Unlock()
	return refs
}

// resolve queries the permission source for every role and merges the
// decoded references. A role whose query fails contributes nothing.
func (s *ExposureService) resolve(ctx context.Context, roles []string) exposure.RefSet {
	refs := exposure.NewRefSet()
	for _, role := range roles {
		perms, err := s.source.ExposurePermissions(ctx, role)
		if err != nil {
			// Fail closed: the role sees nothing, never everything.
			s.logger.WarnContext(ctx, "exposure lookup failed, role contributes no tools",
				slog.String("role", role),
				slog.String("error", err.Error()))
			continue
		}
		for _, perm := range perms {
			ref, err := exposure.ParseRef(perm)
			if err != nil {
				s.logger.WarnContext(ctx, "skipping malformed exposure permission",
					slog.String("role", role),
					slog.String("permission", perm))
				continue
			}
			refs.Add(ref)
			if refs.All {
				return refs
			}
		}
	}
	return refs
}

// IsExposed reports whether one tool is visible to the role set.
func (s *ExposureService) IsExposed(ctx context.Context, t tool.Tool, roles []string) bool {
	refs := s.ExposedRefs(ctx, roles)
	return refs.Contains(t.Name, t.BundleName)
}

// FilterTools returns the subset of tools visible to the role set, in the
// input order.
func (s *ExposureService) FilterTools(ctx context.Context, tools []tool.Tool, roles []string) []tool.Tool {
	refs := s.ExposedRefs(ctx, roles)
	if refs.All {
		return tools
	}
	visible := make([]tool.Tool, 0, len(tools))
	for _, t := range tools {
		if refs.Contains(t.Name, t.BundleName) {
			visible = append(visible, t)
		}
	}
	return visible
}

// Invalidate drops every cached resolution. Called whenever an administrator
// edits role exposure rules.
func (s *ExposureService) Invalidate() {
	s.mu.Lock()
	s.cache = make(map[uint64]exposureEntry)
	s.mu.Unlock()
	s.logger.Info("exposure cache invalidated")
}

// CacheSize returns the number of cached role-set resolutions.
func (s *ExposureService) CacheSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

// roleSetKey hashes the sorted role set so that role order never splits the
// cache.
func roleSetKey(roles []string) uint64 {
	sorted := make([]string, len(roles))
	copy(sorted, roles)
	sort.Strings(sorted)

	h := xxhash.New()
	_, _ = h.WriteString(strings.Join(sorted, "\x00"))
	return h.Sum64()
}
