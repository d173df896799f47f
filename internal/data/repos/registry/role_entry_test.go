package registry

import (
	"context"
	"testing"

	"github.com/roundtablehq/roundtable-backend/internal/data/repos/testutil"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/pkg/dbctx"
)

func TestRoleEntryRepoChains(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewRoleEntryRepo(db, testutil.Logger(t))
	tenant := testutil.SeedTenant(t, ctx, tx, 100, 10000)

	testutil.SeedChain(t, ctx, tx, nil, types.RoleReviewer, "global/model-a", "global/model-b")
	testutil.SeedChain(t, ctx, tx, &tenant.ID, types.RoleReviewer, "tenant/model-x")

	tenantChain, err := repo.ListTenantChain(dbc, tenant.ID, types.RoleReviewer)
	if err != nil {
		t.Fatalf("ListTenantChain: %v", err)
	}
	if len(tenantChain) != 1 || tenantChain[0].ModelID != "tenant/model-x" {
		t.Fatalf("tenant chain = %+v, want single tenant/model-x", tenantChain)
	}

	globalChain, err := repo.ListGlobalChain(dbc, types.RoleReviewer)
	if err != nil {
		t.Fatalf("ListGlobalChain: %v", err)
	}
	if len(globalChain) != 2 {
		t.Fatalf("global chain length = %d, want 2", len(globalChain))
	}
	if globalChain[0].Priority != 0 || globalChain[1].Priority != 1 {
		t.Fatalf("global chain not priority ordered: %+v", globalChain)
	}

	// roles must not bleed into each other
	other, err := repo.ListTenantChain(dbc, tenant.ID, types.RoleChairman)
	if err != nil {
		t.Fatalf("ListTenantChain chairman: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("chairman chain = %+v, want empty", other)
	}
}

func TestRoleEntryRepoReplaceChain(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewRoleEntryRepo(db, testutil.Logger(t))
	tenant := testutil.SeedTenant(t, ctx, tx, 100, 10000)

	testutil.SeedChain(t, ctx, tx, &tenant.ID, types.RoleChairman, "old/model-1", "old/model-2")

	replacement := []*types.ModelRoleEntry{
		{ModelID: "new/model-1", Priority: 0, IsActive: true},
		{ModelID: "new/model-2", Priority: 1, IsActive: true},
		{ModelID: "new/model-3", Priority: 2, IsActive: true},
	}
	if err := repo.ReplaceChain(dbc, tenant.ID, types.RoleChairman, replacement); err != nil {
		t.Fatalf("ReplaceChain: %v", err)
	}

	chain, err := repo.ListTenantChain(dbc, tenant.ID, types.RoleChairman)
	if err != nil {
		t.Fatalf("ListTenantChain: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("chain length = %d, want 3", len(chain))
	}
	for i, entry := range chain {
		if entry.Priority != i {
			t.Fatalf("entry %d priority = %d", i, entry.Priority)
		}
		if entry.TenantID == nil || *entry.TenantID != tenant.ID {
			t.Fatalf("entry %d lost tenant scope: %+v", i, entry)
		}
		if entry.IsGlobal {
			t.Fatalf("entry %d marked global", i)
		}
	}
	if chain[0].ModelID != "new/model-1" || chain[2].ModelID != "new/model-3" {
		t.Fatalf("chain models = %+v", chain)
	}

	// an empty replacement clears the tenant override
	if err := repo.ReplaceChain(dbc, tenant.ID, types.RoleChairman, nil); err != nil {
		t.Fatalf("ReplaceChain empty: %v", err)
	}
	chain, err = repo.ListTenantChain(dbc, tenant.ID, types.RoleChairman)
	if err != nil {
		t.Fatalf("ListTenantChain after clear: %v", err)
	}
	if len(chain) != 0 {
		t.Fatalf("chain after clear = %+v, want empty", chain)
	}
}

func TestRoleEntryRepoListForTenant(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewRoleEntryRepo(db, testutil.Logger(t))
	tenant := testutil.SeedTenant(t, ctx, tx, 100, 10000)
	stranger := testutil.SeedTenant(t, ctx, tx, 100, 10000)

	testutil.SeedChain(t, ctx, tx, nil, types.RolePrimaryDeliberator, "global/model-a")
	testutil.SeedChain(t, ctx, tx, &tenant.ID, types.RolePrimaryDeliberator, "tenant/model-x")
	testutil.SeedChain(t, ctx, tx, &stranger.ID, types.RolePrimaryDeliberator, "stranger/model-z")

	entries, err := repo.ListForTenant(dbc, tenant.ID)
	if err != nil {
		t.Fatalf("ListForTenant: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want tenant row + global row", len(entries))
	}
	for _, entry := range entries {
		if entry.ModelID == "stranger/model-z" {
			t.Fatalf("foreign tenant row leaked: %+v", entry)
		}
	}
}
