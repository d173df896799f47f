package services

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/roundtablehq/roundtable-backend/internal/config"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos/testutil"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/pkg/dbctx"
	"github.com/roundtablehq/roundtable-backend/internal/registry"
)

type registryEnv struct {
	ctx      context.Context
	dbc      dbctx.Context
	tx       *gorm.DB
	tenant   *types.Tenant
	entries  repos.RoleEntryRepo
	resolver registry.Resolver
	svc      RegistryService
	cfg      *config.Council
}

func newRegistryEnv(t *testing.T) *registryEnv {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)

	tenant := testutil.SeedTenant(t, ctx, tx, 5, 10000)
	entries := repos.NewRoleEntryRepo(tx, log)

	cfg := councilConfigForTests()
	cfg.DefaultChains = map[types.Role][]string{
		types.RoleChairman: {"builtin/chair-a", "builtin/chair-b"},
	}
	resolver := registry.NewResolver(entries, cfg, log)
	svc := NewRegistryService(entries, resolver, cfg, log)

	return &registryEnv{
		ctx:      ctx,
		dbc:      dbctx.Context{Ctx: ctx},
		tx:       tx,
		tenant:   tenant,
		entries:  entries,
		resolver: resolver,
		svc:      svc,
		cfg:      cfg,
	}
}

func chainByRole(t *testing.T, chains []RoleChain, role types.Role) RoleChain {
	t.Helper()
	for _, chain := range chains {
		if chain.Role == role {
			return chain
		}
	}
	t.Fatalf("no chain reported for role %s", role)
	return RoleChain{}
}

func TestEffectiveChainsNameTheirSource(t *testing.T) {
	env := newRegistryEnv(t)
	testutil.SeedChain(t, env.ctx, env.tx, nil, types.RolePrimaryDeliberator, "global/one", "global/two")
	testutil.SeedChain(t, env.ctx, env.tx, &env.tenant.ID, types.RoleReviewer, "tenant/review")

	chains, err := env.svc.EffectiveChains(env.ctx, env.tenant.ID)
	if err != nil {
		t.Fatalf("EffectiveChains: %v", err)
	}
	if len(chains) != 3 {
		t.Fatalf("chains = %d, want one per role", len(chains))
	}

	deliberator := chainByRole(t, chains, types.RolePrimaryDeliberator)
	if deliberator.Source != "global" || len(deliberator.Models) != 2 {
		t.Fatalf("deliberator = %+v", deliberator)
	}
	if deliberator.Models[0].ModelID != "global/one" || deliberator.Models[0].Priority != 0 {
		t.Fatalf("deliberator models = %+v", deliberator.Models)
	}

	reviewer := chainByRole(t, chains, types.RoleReviewer)
	if reviewer.Source != "tenant" || len(reviewer.Models) != 1 {
		t.Fatalf("reviewer = %+v", reviewer)
	}

	chairman := chainByRole(t, chains, types.RoleChairman)
	if chairman.Source != "builtin" || len(chairman.Models) != 2 {
		t.Fatalf("chairman = %+v", chairman)
	}
}

func TestEffectiveChainsReportUnconfiguredRole(t *testing.T) {
	env := newRegistryEnv(t)
	env.cfg.DefaultChains = map[types.Role][]string{}

	chains, err := env.svc.EffectiveChains(env.ctx, env.tenant.ID)
	if err != nil {
		t.Fatalf("EffectiveChains: %v", err)
	}
	for _, chain := range chains {
		if chain.Source != "none" || len(chain.Models) != 0 {
			t.Fatalf("chain = %+v, want empty with source none", chain)
		}
	}
}

func TestReplaceChainWritesAndInvalidates(t *testing.T) {
	env := newRegistryEnv(t)
	testutil.SeedChain(t, env.ctx, env.tx, nil, types.RoleReviewer, "global/review")

	// Warm the resolver on the global chain first, so a stale cache would be
	// caught below.
	links, err := env.resolver.Resolve(env.ctx, env.tenant.ID, types.RoleReviewer)
	if err != nil || len(links) != 1 || links[0].ModelID != "global/review" {
		t.Fatalf("warm resolve = %+v err=%v", links, err)
	}

	chain, err := env.svc.ReplaceChain(env.ctx, env.tenant.ID, "reviewer", []string{"tenant/primary", "tenant/backup"})
	if err != nil {
		t.Fatalf("ReplaceChain: %v", err)
	}
	if chain.Source != "tenant" || len(chain.Models) != 2 {
		t.Fatalf("chain = %+v", chain)
	}
	for i, model := range chain.Models {
		if model.Priority != i {
			t.Fatalf("priority[%d] = %d", i, model.Priority)
		}
	}

	rows, err := env.entries.ListTenantChain(env.dbc, env.tenant.ID, types.RoleReviewer)
	if err != nil || len(rows) != 2 {
		t.Fatalf("tenant rows = %d err=%v", len(rows), err)
	}

	links, err = env.resolver.Resolve(env.ctx, env.tenant.ID, types.RoleReviewer)
	if err != nil {
		t.Fatalf("resolve after replace: %v", err)
	}
	if len(links) != 2 || links[0].ModelID != "tenant/primary" {
		t.Fatalf("resolver still serving stale chain: %+v", links)
	}
}

func TestReplaceChainValidation(t *testing.T) {
	env := newRegistryEnv(t)

	if _, err := env.svc.ReplaceChain(env.ctx, env.tenant.ID, "grand_vizier", []string{"m"}); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("unknown role err = %v", err)
	}
	if _, err := env.svc.ReplaceChain(env.ctx, env.tenant.ID, "reviewer", nil); !errors.Is(err, ErrEmptyChain) {
		t.Fatalf("empty chain err = %v", err)
	}
	if _, err := env.svc.ReplaceChain(env.ctx, env.tenant.ID, "reviewer", []string{"a", "  "}); !errors.Is(err, ErrBlankModelID) {
		t.Fatalf("blank id err = %v", err)
	}
	if _, err := env.svc.ReplaceChain(env.ctx, env.tenant.ID, "reviewer", []string{"a", "a"}); !errors.Is(err, ErrDuplicateModel) {
		t.Fatalf("duplicate err = %v", err)
	}

	tooMany := make([]string, maxChainDepth+1)
	for i := range tooMany {
		tooMany[i] = string(rune('a' + i))
	}
	if _, err := env.svc.ReplaceChain(env.ctx, env.tenant.ID, "reviewer", tooMany); !errors.Is(err, ErrChainTooLong) {
		t.Fatalf("too long err = %v", err)
	}

	// Nothing may have landed.
	rows, err := env.entries.ListTenantChain(env.dbc, env.tenant.ID, types.RoleReviewer)
	if err != nil || len(rows) != 0 {
		t.Fatalf("rows = %d err=%v, want none", len(rows), err)
	}
}
