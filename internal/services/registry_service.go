package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/roundtablehq/roundtable-backend/internal/config"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/pkg/dbctx"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
	"github.com/roundtablehq/roundtable-backend/internal/registry"
)

var (
	ErrUnknownRole    = errors.New("unknown role")
	ErrEmptyChain     = errors.New("chain must name at least one model")
	ErrBlankModelID   = errors.New("blank model id in chain")
	ErrDuplicateModel = errors.New("duplicate model id in chain")
	ErrChainTooLong   = errors.New("chain too long")
)

// maxChainDepth caps how many fallbacks a single seat may walk. Deeper
// chains only stretch the stage deadline for no extra signal.
const maxChainDepth = 10

type RoleChainModel struct {
	ModelID  string `json:"model_id"`
	Priority int    `json:"priority"`
}

// RoleChain is the effective fallback chain one tenant sees for a role,
// tagged with the level that supplied it.
type RoleChain struct {
	Role   types.Role       `json:"role"`
	Source string           `json:"source"`
	Models []RoleChainModel `json:"models"`
}

type RegistryService interface {
	// EffectiveChains reports, per role, the chain fan-out would use for the
	// tenant right now and which level (tenant, global, builtin) supplies it.
	EffectiveChains(ctx context.Context, tenantID uuid.UUID) ([]RoleChain, error)
	// ReplaceChain swaps the tenant's chain for one role. Priorities are
	// assigned from list order, 0 first.
	ReplaceChain(ctx context.Context, tenantID uuid.UUID, rawRole string, models []string) (*RoleChain, error)
}

type registryService struct {
	entries  repos.RoleEntryRepo
	resolver registry.Resolver
	cfg      *config.Council
	log      *logger.Logger
}

func NewRegistryService(entries repos.RoleEntryRepo, resolver registry.Resolver, cfg *config.Council, baseLog *logger.Logger) RegistryService {
	return &registryService{
		entries:  entries,
		resolver: resolver,
		cfg:      cfg,
		log:      baseLog.With("service", "RegistryService"),
	}
}

func (s *registryService) EffectiveChains(ctx context.Context, tenantID uuid.UUID) ([]RoleChain, error) {
	dbc := dbctx.Context{Ctx: ctx}
	out := make([]RoleChain, 0, len(types.AllRoles()))
	for _, role := range types.AllRoles() {
		chain, err := s.effectiveChain(dbc, tenantID, role)
		if err != nil {
			return nil, err
		}
		out = append(out, chain)
	}
	return out, nil
}

// effectiveChain reads through the same tenant > global > builtin order the
// resolver uses, but uncached and with the winning level named.
func (s *registryService) effectiveChain(dbc dbctx.Context, tenantID uuid.UUID, role types.Role) (RoleChain, error) {
	rows, err := s.entries.ListTenantChain(dbc, tenantID, role)
	if err != nil {
		return RoleChain{}, err
	}
	source := "tenant"
	if len(rows) == 0 {
		rows, err = s.entries.ListGlobalChain(dbc, role)
		if err != nil {
			return RoleChain{}, err
		}
		source = "global"
	}

	models := make([]RoleChainModel, 0, len(rows))
	for _, row := range rows {
		models = append(models, RoleChainModel{ModelID: row.ModelID, Priority: row.Priority})
	}
	if len(models) == 0 {
		if defaults := s.cfg.DefaultChain(role); len(defaults) > 0 {
			source = "builtin"
			for i, modelID := range defaults {
				models = append(models, RoleChainModel{ModelID: modelID, Priority: i})
			}
		} else {
			// Deliberations against this role would fail admission-to-run
			// with a configuration error; surfacing the gap here is the
			// operator's early warning.
			source = "none"
		}
	}

	return RoleChain{Role: role, Source: source, Models: models}, nil
}

func (s *registryService) ReplaceChain(ctx context.Context, tenantID uuid.UUID, rawRole string, models []string) (*RoleChain, error) {
	role, ok := types.ParseRole(strings.TrimSpace(rawRole))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, rawRole)
	}
	if len(models) == 0 {
		return nil, ErrEmptyChain
	}
	if len(models) > maxChainDepth {
		return nil, fmt.Errorf("%w: %d models, limit %d", ErrChainTooLong, len(models), maxChainDepth)
	}

	seen := make(map[string]bool, len(models))
	entries := make([]*types.ModelRoleEntry, 0, len(models))
	tenant := tenantID
	for i, raw := range models {
		modelID := strings.TrimSpace(raw)
		if modelID == "" {
			return nil, fmt.Errorf("%w: position %d", ErrBlankModelID, i)
		}
		if seen[modelID] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateModel, modelID)
		}
		seen[modelID] = true
		entries = append(entries, &types.ModelRoleEntry{
			Role:     role,
			ModelID:  modelID,
			Priority: i,
			IsActive: true,
			TenantID: &tenant,
		})
	}

	if err := s.entries.ReplaceChain(dbctx.Context{Ctx: ctx}, tenantID, role, entries); err != nil {
		return nil, err
	}
	s.resolver.Invalidate(tenantID)

	chain := RoleChain{Role: role, Source: "tenant", Models: make([]RoleChainModel, 0, len(entries))}
	for _, entry := range entries {
		chain.Models = append(chain.Models, RoleChainModel{ModelID: entry.ModelID, Priority: entry.Priority})
	}

	s.log.Info("tenant chain replaced",
		"tenant_id", tenantID.String(),
		"role", string(role),
		"depth", len(entries))
	return &chain, nil
}
