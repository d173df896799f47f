package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roundtablehq/roundtable-backend/internal/council/councilerr"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos/repoerr"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos/testutil"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/pkg/dbctx"

	"github.com/google/uuid"
)

type guardEnv struct {
	guard   Guard
	tenant  *types.Tenant
	tenants repos.TenantRepo
	usage   repos.UsageRepo
	dbc     dbctx.Context
}

// The repos are built over the test transaction, so the guard's nil-Tx
// contexts land inside it and roll back with the test.
func newGuardEnv(t *testing.T, queryLimit, budgetCentsLimit int64) *guardEnv {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)

	tenant := testutil.SeedTenant(t, ctx, tx, queryLimit, budgetCentsLimit)
	tenants := repos.NewTenantRepo(tx, log)
	usage := repos.NewUsageRepo(tx, log)

	return &guardEnv{
		guard:   NewGuard(tenants, usage, log),
		tenant:  tenant,
		tenants: tenants,
		usage:   usage,
		dbc:     dbctx.Context{Ctx: ctx},
	}
}

var admissionClock = time.Date(2025, time.April, 12, 9, 30, 0, 0, time.UTC)

func TestCheckAndReserveAdmits(t *testing.T) {
	env := newGuardEnv(t, 3, 10000)
	ctx := context.Background()

	period, err := env.guard.CheckAndReserve(ctx, env.tenant.ID, admissionClock)
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	want := types.PeriodStartFor(admissionClock)
	if !period.Equal(want) {
		t.Fatalf("period = %v, want %v", period, want)
	}

	counter, err := env.usage.Get(env.dbc, env.tenant.ID, period)
	if err != nil || counter == nil {
		t.Fatalf("Get: counter=%v err=%v", counter, err)
	}
	if counter.QueriesUsed != 1 {
		t.Fatalf("QueriesUsed = %d, want 1", counter.QueriesUsed)
	}
	if counter.BudgetCentsUsed != 0 {
		t.Fatalf("admission must not charge cost, BudgetCentsUsed = %d", counter.BudgetCentsUsed)
	}
}

func TestCheckAndReserveSuspendedTenant(t *testing.T) {
	env := newGuardEnv(t, 3, 10000)
	ctx := context.Background()

	if err := env.tenants.SetStatus(env.dbc, env.tenant.ID, types.TenantSuspended); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	_, err := env.guard.CheckAndReserve(ctx, env.tenant.ID, admissionClock)
	var denied *councilerr.AdmissionDenied
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want AdmissionDenied", err)
	}
	if denied.Reason != councilerr.DenySuspended {
		t.Fatalf("Reason = %q, want %q", denied.Reason, councilerr.DenySuspended)
	}
	if denied.TenantID != env.tenant.ID.String() {
		t.Fatalf("TenantID = %q, want %q", denied.TenantID, env.tenant.ID)
	}

	// Suspension is checked before any counter work.
	counter, err := env.usage.Get(env.dbc, env.tenant.ID, types.PeriodStartFor(admissionClock))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if counter != nil {
		t.Fatalf("suspended denial created a usage row: %+v", counter)
	}
}

func TestCheckAndReserveQueryCeiling(t *testing.T) {
	env := newGuardEnv(t, 2, 10000)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := env.guard.CheckAndReserve(ctx, env.tenant.ID, admissionClock); err != nil {
			t.Fatalf("CheckAndReserve #%d: %v", i, err)
		}
	}

	_, err := env.guard.CheckAndReserve(ctx, env.tenant.ID, admissionClock)
	var denied *councilerr.AdmissionDenied
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want AdmissionDenied", err)
	}
	if denied.Reason != councilerr.DenyQueryLimit {
		t.Fatalf("Reason = %q, want %q", denied.Reason, councilerr.DenyQueryLimit)
	}

	counter, err := env.usage.Get(env.dbc, env.tenant.ID, types.PeriodStartFor(admissionClock))
	if err != nil || counter == nil {
		t.Fatalf("Get: counter=%v err=%v", counter, err)
	}
	if counter.QueriesUsed != 2 {
		t.Fatalf("denied admission moved the counter: QueriesUsed = %d, want 2", counter.QueriesUsed)
	}
}

func TestCheckAndReserveBudgetCeiling(t *testing.T) {
	env := newGuardEnv(t, 10, 500)
	ctx := context.Background()

	period, err := env.guard.CheckAndReserve(ctx, env.tenant.ID, admissionClock)
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	if err := env.guard.AddCost(ctx, env.tenant.ID, period, 500); err != nil {
		t.Fatalf("AddCost: %v", err)
	}

	_, err = env.guard.CheckAndReserve(ctx, env.tenant.ID, admissionClock)
	var denied *councilerr.AdmissionDenied
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want AdmissionDenied", err)
	}
	if denied.Reason != councilerr.DenyBudgetLimit {
		t.Fatalf("Reason = %q, want %q", denied.Reason, councilerr.DenyBudgetLimit)
	}
}

// Queries and budget exhausted together report the query ceiling first.
func TestCheckAndReserveDenialOrder(t *testing.T) {
	env := newGuardEnv(t, 1, 100)
	ctx := context.Background()

	period, err := env.guard.CheckAndReserve(ctx, env.tenant.ID, admissionClock)
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	if err := env.guard.AddCost(ctx, env.tenant.ID, period, 100); err != nil {
		t.Fatalf("AddCost: %v", err)
	}

	_, err = env.guard.CheckAndReserve(ctx, env.tenant.ID, admissionClock)
	var denied *councilerr.AdmissionDenied
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want AdmissionDenied", err)
	}
	if denied.Reason != councilerr.DenyQueryLimit {
		t.Fatalf("Reason = %q, want %q", denied.Reason, councilerr.DenyQueryLimit)
	}
}

func TestCheckAndReserveUnknownTenant(t *testing.T) {
	env := newGuardEnv(t, 3, 10000)
	ctx := context.Background()

	_, err := env.guard.CheckAndReserve(ctx, uuid.New(), admissionClock)
	if !errors.Is(err, repoerr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	var denied *councilerr.AdmissionDenied
	if errors.As(err, &denied) {
		t.Fatalf("unknown tenant must not read as a quota denial: %v", err)
	}
}

func TestAddCostAccumulates(t *testing.T) {
	env := newGuardEnv(t, 10, 10000)
	ctx := context.Background()

	period, err := env.guard.CheckAndReserve(ctx, env.tenant.ID, admissionClock)
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	for _, cents := range []int64{120, 0, 35} {
		if err := env.guard.AddCost(ctx, env.tenant.ID, period, cents); err != nil {
			t.Fatalf("AddCost(%d): %v", cents, err)
		}
	}

	counter, err := env.usage.Get(env.dbc, env.tenant.ID, period)
	if err != nil || counter == nil {
		t.Fatalf("Get: counter=%v err=%v", counter, err)
	}
	if counter.BudgetCentsUsed != 155 {
		t.Fatalf("BudgetCentsUsed = %d, want 155", counter.BudgetCentsUsed)
	}
}

func TestSnapshot(t *testing.T) {
	env := newGuardEnv(t, 5, 1000)
	ctx := context.Background()

	before, err := env.guard.Snapshot(ctx, env.tenant.ID, admissionClock)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if before.QueriesUsed != 0 || before.BudgetCentsUsed != 0 {
		t.Fatalf("fresh period should read zero usage: %+v", before)
	}
	if before.QueryLimit != 5 || before.BudgetCentsLimit != 1000 {
		t.Fatalf("limits not carried from tenant: %+v", before)
	}
	if before.Status != types.TenantActive {
		t.Fatalf("Status = %q, want %q", before.Status, types.TenantActive)
	}

	period, err := env.guard.CheckAndReserve(ctx, env.tenant.ID, admissionClock)
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	if err := env.guard.AddCost(ctx, env.tenant.ID, period, 120); err != nil {
		t.Fatalf("AddCost: %v", err)
	}

	after, err := env.guard.Snapshot(ctx, env.tenant.ID, admissionClock)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if after.QueriesUsed != 1 {
		t.Fatalf("QueriesUsed = %d, want 1", after.QueriesUsed)
	}
	if after.BudgetCentsUsed != 120 {
		t.Fatalf("BudgetCentsUsed = %d, want 120", after.BudgetCentsUsed)
	}
	if !after.PeriodStart.Equal(types.PeriodStartFor(admissionClock)) {
		t.Fatalf("PeriodStart = %v", after.PeriodStart)
	}
}
