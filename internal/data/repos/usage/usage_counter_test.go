package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/roundtablehq/roundtable-backend/internal/data/repos/testutil"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/pkg/dbctx"
)

func TestUsageRepoEnsureRowIdempotent(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewUsageRepo(db, testutil.Logger(t))
	tenantID := uuid.New()
	period := types.PeriodStartFor(time.Now())

	for i := 0; i < 3; i++ {
		if err := repo.EnsureRow(dbc, tenantID, period); err != nil {
			t.Fatalf("EnsureRow #%d: %v", i, err)
		}
	}

	counter, err := repo.Get(dbc, tenantID, period)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if counter == nil {
		t.Fatal("Get: row missing after EnsureRow")
	}
	if counter.QueriesUsed != 0 || counter.BudgetCentsUsed != 0 {
		t.Fatalf("EnsureRow must not touch counters: %+v", counter)
	}
}

func TestUsageRepoReserveCeilings(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewUsageRepo(db, testutil.Logger(t))
	tenantID := uuid.New()
	period := types.PeriodStartFor(time.Now())

	if err := repo.EnsureRow(dbc, tenantID, period); err != nil {
		t.Fatalf("EnsureRow: %v", err)
	}

	// query ceiling
	for i := 0; i < 2; i++ {
		ok, err := repo.TryReserveQuery(dbc, tenantID, period, 2, 1000)
		if err != nil || !ok {
			t.Fatalf("TryReserveQuery #%d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := repo.TryReserveQuery(dbc, tenantID, period, 2, 1000)
	if err != nil {
		t.Fatalf("TryReserveQuery over limit: %v", err)
	}
	if ok {
		t.Fatal("TryReserveQuery: admitted past the query ceiling")
	}

	// budget ceiling
	budgetTenant := uuid.New()
	if err := repo.EnsureRow(dbc, budgetTenant, period); err != nil {
		t.Fatalf("EnsureRow: %v", err)
	}
	if err := repo.AddCost(dbc, budgetTenant, period, 500); err != nil {
		t.Fatalf("AddCost: %v", err)
	}
	ok, err = repo.TryReserveQuery(dbc, budgetTenant, period, 100, 500)
	if err != nil {
		t.Fatalf("TryReserveQuery budget: %v", err)
	}
	if ok {
		t.Fatal("TryReserveQuery: admitted with budget exhausted")
	}

	counter, err := repo.Get(dbc, budgetTenant, period)
	if err != nil || counter == nil {
		t.Fatalf("Get: counter=%v err=%v", counter, err)
	}
	if counter.BudgetCentsUsed != 500 {
		t.Fatalf("BudgetCentsUsed = %d, want 500", counter.BudgetCentsUsed)
	}
	if counter.QueriesUsed != 0 {
		t.Fatalf("denied reservations must not increment queries_used, got %d", counter.QueriesUsed)
	}
}

// Concurrent admissions against a shared ceiling admit exactly the ceiling.
func TestUsageRepoReserveAtomicUnderContention(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}

	repo := NewUsageRepo(db, testutil.Logger(t))
	tenantID := uuid.New()
	period := types.PeriodStartFor(time.Now())

	if err := repo.EnsureRow(dbc, tenantID, period); err != nil {
		t.Fatalf("EnsureRow: %v", err)
	}
	t.Cleanup(func() {
		db.Where("tenant_id = ?", tenantID).Delete(&types.UsageCounter{})
	})

	const workers = 25
	const limit = 7

	var wg sync.WaitGroup
	admitted := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.TryReserveQuery(dbc, tenantID, period, limit, 100000)
			if err != nil {
				t.Errorf("TryReserveQuery: %v", err)
				return
			}
			admitted <- ok
		}()
	}
	wg.Wait()
	close(admitted)

	var granted int
	for ok := range admitted {
		if ok {
			granted++
		}
	}
	if granted != limit {
		t.Fatalf("granted = %d, want exactly %d", granted, limit)
	}

	counter, err := repo.Get(dbc, tenantID, period)
	if err != nil || counter == nil {
		t.Fatalf("Get: counter=%v err=%v", counter, err)
	}
	if counter.QueriesUsed != limit {
		t.Fatalf("QueriesUsed = %d, want %d", counter.QueriesUsed, limit)
	}
}
