// Package registry resolves a role to its ordered model fallback chain.
// Tenant overrides win over global entries, which win over the compiled
// defaults. Lookups are cached briefly so a stage fan-out does not hammer
// the database once per seat.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/roundtablehq/roundtable-backend/internal/config"
	"github.com/roundtablehq/roundtable-backend/internal/council/councilerr"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/pkg/dbctx"
	"github.com/roundtablehq/roundtable-backend/internal/platform/envutil"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
)

// ChainLink is one entry of a resolved fallback chain, ordered by Priority
// ascending. Priority 0 is the preferred model.
type ChainLink struct {
	ModelID  string
	Priority int
}

type Resolver interface {
	// Resolve returns the fallback chain for role, tenant overrides first.
	// Returns *councilerr.ConfigurationError when every level is empty.
	Resolve(ctx context.Context, tenantID uuid.UUID, role types.Role) ([]ChainLink, error)
	// Invalidate drops cached chains for one tenant.
	Invalidate(tenantID uuid.UUID)
	// InvalidateAll drops the whole cache. Used after global chain edits.
	InvalidateAll()
}

type cacheKey struct {
	tenantID uuid.UUID
	role     types.Role
}

type cacheEntry struct {
	links   []ChainLink
	expires time.Time
}

type resolver struct {
	entries repos.RoleEntryRepo
	cfg     *config.Council
	log     *logger.Logger
	ttl     time.Duration

	mu     sync.Mutex
	cache  map[cacheKey]cacheEntry
	flight singleflight.Group
}

func NewResolver(entries repos.RoleEntryRepo, cfg *config.Council, log *logger.Logger) Resolver {
	ttl := envutil.Duration("REGISTRY_CACHE_TTL", 30*time.Second)
	return &resolver{
		entries: entries,
		cfg:     cfg,
		log:     log.With("component", "registry_resolver"),
		ttl:     ttl,
		cache:   make(map[cacheKey]cacheEntry),
	}
}

func (r *resolver) Resolve(ctx context.Context, tenantID uuid.UUID, role types.Role) ([]ChainLink, error) {
	key := cacheKey{tenantID: tenantID, role: role}
	if links, ok := r.cached(key); ok {
		return links, nil
	}

	// A stage fan-out misses once per seat at the same instant; collapse
	// those into a single load.
	v, err, _ := r.flight.Do(tenantID.String()+"|"+string(role), func() (interface{}, error) {
		if links, ok := r.cached(key); ok {
			return links, nil
		}
		links, err := r.load(ctx, tenantID, role)
		if err != nil {
			return nil, err
		}
		r.store(key, links)
		return links, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneLinks(v.([]ChainLink)), nil
}

func (r *resolver) load(ctx context.Context, tenantID uuid.UUID, role types.Role) ([]ChainLink, error) {
	dbc := dbctx.Context{Ctx: ctx}

	rows, err := r.entries.ListTenantChain(dbc, tenantID, role)
	if err != nil {
		return nil, err
	}
	source := "tenant"
	if len(rows) == 0 {
		rows, err = r.entries.ListGlobalChain(dbc, role)
		if err != nil {
			return nil, err
		}
		source = "global"
	}

	var links []ChainLink
	if len(rows) > 0 {
		links = make([]ChainLink, 0, len(rows))
		for _, row := range rows {
			links = append(links, ChainLink{ModelID: row.ModelID, Priority: row.Priority})
		}
	} else if defaults := r.cfg.DefaultChain(role); len(defaults) > 0 {
		source = "builtin"
		links = make([]ChainLink, 0, len(defaults))
		for i, modelID := range defaults {
			links = append(links, ChainLink{ModelID: modelID, Priority: i})
		}
	}

	if len(links) == 0 {
		r.log.Warn("role has no chain at any level", "role", string(role), "tenant_id", tenantID.String())
		return nil, &councilerr.ConfigurationError{Role: role}
	}

	r.log.Debug("resolved chain", "role", string(role), "source", source, "depth", len(links))
	return links, nil
}

func (r *resolver) Invalidate(tenantID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.cache {
		if key.tenantID == tenantID {
			delete(r.cache, key)
		}
	}
}

func (r *resolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[cacheKey]cacheEntry)
}

func (r *resolver) cached(key cacheKey) ([]ChainLink, bool) {
	if r.ttl <= 0 {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[key]
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return cloneLinks(entry.links), true
}

func (r *resolver) store(key cacheKey, links []ChainLink) {
	if r.ttl <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = cacheEntry{links: cloneLinks(links), expires: time.Now().Add(r.ttl)}
}

// Callers walk and slice chains freely, so hand out copies.
func cloneLinks(links []ChainLink) []ChainLink {
	out := make([]ChainLink, len(links))
	copy(out, links)
	return out
}
