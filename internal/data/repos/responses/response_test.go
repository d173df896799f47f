package responses

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/roundtablehq/roundtable-backend/internal/data/repos/testutil"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/pkg/dbctx"
)

func TestResponseRepoBatchAndCost(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewResponseRepo(db, testutil.Logger(t))
	tenant := testutil.SeedTenant(t, ctx, tx, 100, 10000)
	session := testutil.SeedSession(t, ctx, tx, tenant.ID, types.SessionPending)

	batch := []*types.ModelResponse{
		{SessionID: session.ID, Stage: types.StageDeliberation, SeatIndex: 1, ModelID: "m/b", RolePriority: 0, Outcome: types.OutcomeOK, CostCents: 4},
		{SessionID: session.ID, Stage: types.StageDeliberation, SeatIndex: 0, ModelID: "m/a", RolePriority: 1, Outcome: types.OutcomeOK, CostCents: 3},
		{SessionID: session.ID, Stage: types.StageDeliberation, SeatIndex: 0, ModelID: "m/x", RolePriority: 0, Outcome: types.OutcomeTimeout, CostCents: 2},
	}
	if _, err := repo.CreateBatch(dbc, batch); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	for i, row := range batch {
		if row.ID == uuid.Nil {
			t.Fatalf("row %d missing generated id", i)
		}
	}

	rows, err := repo.ListBySession(dbc, session.ID)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	// stage, then seat, then attempt order within the seat
	if rows[0].SeatIndex != 0 || rows[0].RolePriority != 0 {
		t.Fatalf("first row = seat %d priority %d", rows[0].SeatIndex, rows[0].RolePriority)
	}
	if rows[1].SeatIndex != 0 || rows[1].RolePriority != 1 {
		t.Fatalf("second row = seat %d priority %d", rows[1].SeatIndex, rows[1].RolePriority)
	}
	if rows[2].SeatIndex != 1 {
		t.Fatalf("third row = seat %d", rows[2].SeatIndex)
	}

	stageRows, err := repo.ListBySessionStage(dbc, session.ID, types.StageDeliberation)
	if err != nil {
		t.Fatalf("ListBySessionStage: %v", err)
	}
	if len(stageRows) != 3 {
		t.Fatalf("stage rows = %d, want 3", len(stageRows))
	}

	total, err := repo.SumCostBySession(dbc, session.ID)
	if err != nil {
		t.Fatalf("SumCostBySession: %v", err)
	}
	if total != 9 {
		t.Fatalf("total = %d, want 9", total)
	}

	other := testutil.SeedSession(t, ctx, tx, tenant.ID, types.SessionPending)
	empty, err := repo.SumCostBySession(dbc, other.ID)
	if err != nil {
		t.Fatalf("SumCostBySession empty: %v", err)
	}
	if empty != 0 {
		t.Fatalf("empty session total = %d, want 0", empty)
	}
}
