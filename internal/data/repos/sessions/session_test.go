package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/roundtablehq/roundtable-backend/internal/data/repos/testutil"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/pkg/dbctx"
)

func TestSessionRepoLifecycle(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewSessionRepo(db, testutil.Logger(t))
	tenant := testutil.SeedTenant(t, ctx, tx, 10, 1000)

	created, err := repo.Create(dbc, &types.DeliberationSession{
		TenantID:    tenant.ID,
		Question:    "is this market worth entering",
		Preset:      "balanced",
		PeriodStart: types.PeriodStartFor(time.Now()),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == uuid.Nil {
		t.Fatal("Create: id not assigned")
	}
	if created.Status != types.SessionPending {
		t.Fatalf("Create: status = %s, want pending", created.Status)
	}

	got, err := repo.GetForTenant(dbc, tenant.ID, created.ID)
	if err != nil {
		t.Fatalf("GetForTenant: %v", err)
	}
	if got.Question != created.Question {
		t.Fatalf("GetForTenant: question mismatch")
	}

	// wrong tenant must not see the session
	if _, err := repo.GetForTenant(dbc, uuid.New(), created.ID); err == nil {
		t.Fatal("GetForTenant: expected not-found for foreign tenant")
	}

	moved, err := repo.UpdateFieldsIfStatus(dbc, created.ID, types.SessionPending, map[string]interface{}{
		"status": types.SessionStage1Running,
	})
	if err != nil || !moved {
		t.Fatalf("UpdateFieldsIfStatus pending->stage1: moved=%v err=%v", moved, err)
	}

	// stale expectation loses the race cleanly
	moved, err = repo.UpdateFieldsIfStatus(dbc, created.ID, types.SessionPending, map[string]interface{}{
		"status": types.SessionStage2Running,
	})
	if err != nil {
		t.Fatalf("UpdateFieldsIfStatus stale: %v", err)
	}
	if moved {
		t.Fatal("UpdateFieldsIfStatus: stale expected-status must not move the row")
	}

	ok, err := repo.RequestCancel(dbc, tenant.ID, created.ID)
	if err != nil || !ok {
		t.Fatalf("RequestCancel running: ok=%v err=%v", ok, err)
	}

	if moved, err = repo.UpdateFieldsIfStatus(dbc, created.ID, types.SessionStage1Running, map[string]interface{}{
		"status": types.SessionCanceled,
	}); err != nil || !moved {
		t.Fatalf("UpdateFieldsIfStatus ->canceled: moved=%v err=%v", moved, err)
	}

	// terminal sessions reject further cancel requests
	ok, err = repo.RequestCancel(dbc, tenant.ID, created.ID)
	if err != nil {
		t.Fatalf("RequestCancel terminal: %v", err)
	}
	if ok {
		t.Fatal("RequestCancel: terminal session must not accept cancel")
	}
}

func TestSessionRepoTotalCostField(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewSessionRepo(db, testutil.Logger(t))
	tenant := testutil.SeedTenant(t, ctx, tx, 10, 1000)
	session := testutil.SeedSession(t, ctx, tx, tenant.ID, types.SessionStage1Running)

	moved, err := repo.UpdateFieldsIfStatus(dbc, session.ID, types.SessionStage1Running, map[string]interface{}{
		"status":           types.SessionStage2Running,
		"total_cost_cents": int64(12),
	})
	if err != nil || !moved {
		t.Fatalf("UpdateFieldsIfStatus: moved=%v err=%v", moved, err)
	}
	got, err := repo.GetByID(dbc, session.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.TotalCostCents != 12 {
		t.Fatalf("TotalCostCents = %d, want 12", got.TotalCostCents)
	}
}

func TestSessionRepoClaimNextRunnable(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewSessionRepo(db, testutil.Logger(t))
	tenant := testutil.SeedTenant(t, ctx, tx, 10, 1000)

	oldest := testutil.SeedSession(t, ctx, tx, tenant.ID, types.SessionPending)
	if err := tx.Model(oldest).Update("created_at", time.Now().Add(-2*time.Hour)).Error; err != nil {
		t.Fatalf("age oldest: %v", err)
	}
	testutil.SeedSession(t, ctx, tx, tenant.ID, types.SessionPending)

	claimed, err := repo.ClaimNextRunnable(dbc, "worker-a", 5*time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if claimed == nil || claimed.ID != oldest.ID {
		t.Fatalf("ClaimNextRunnable: want oldest pending, got %+v", claimed)
	}
	if claimed.ClaimedBy != "worker-a" {
		t.Fatalf("ClaimNextRunnable: claimed_by = %q", claimed.ClaimedBy)
	}

	// a freshly claimed pending row must not be claimable again
	second, err := repo.ClaimNextRunnable(dbc, "worker-b", 5*time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextRunnable second: %v", err)
	}
	if second != nil && second.ID == oldest.ID {
		t.Fatal("ClaimNextRunnable: double-claimed a fresh session")
	}

	// a running session with a stale heartbeat is reclaimable
	stale := testutil.SeedSession(t, ctx, tx, tenant.ID, types.SessionStage2Running)
	old := time.Now().Add(-1 * time.Hour)
	if err := tx.Model(stale).Updates(map[string]interface{}{
		"heartbeat_at": old,
		"claimed_by":   "worker-dead",
		"created_at":   time.Now().Add(-3 * time.Hour),
	}).Error; err != nil {
		t.Fatalf("stale setup: %v", err)
	}

	reclaimed, err := repo.ClaimNextRunnable(dbc, "worker-b", 5*time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextRunnable stale: %v", err)
	}
	if reclaimed == nil || reclaimed.ID != stale.ID {
		t.Fatalf("ClaimNextRunnable: want stale running session, got %+v", reclaimed)
	}

	if err := repo.Heartbeat(dbc, stale.ID, "worker-b"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	refreshed, err := repo.GetByID(dbc, stale.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if refreshed.HeartbeatAt == nil || !refreshed.HeartbeatAt.After(old) {
		t.Fatal("Heartbeat: heartbeat_at not advanced")
	}
}
