package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/roundtablehq/roundtable-backend/internal/domain"
)

func SeedTenant(tb testing.TB, ctx context.Context, tx *gorm.DB, queryLimit, budgetCentsLimit int64) *types.Tenant {
	tb.Helper()
	tenant := &types.Tenant{
		ID:               uuid.New(),
		Name:             "acme-advisory",
		Status:           types.TenantActive,
		QueryLimit:       queryLimit,
		BudgetCentsLimit: budgetCentsLimit,
	}
	if err := tx.WithContext(ctx).Create(tenant).Error; err != nil {
		tb.Fatalf("seed tenant: %v", err)
	}
	return tenant
}

// SeedChain writes an active fallback chain for (tenant, role) with
// priorities 0..len(models)-1. A nil tenantID seeds global rows.
func SeedChain(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID *uuid.UUID, role types.Role, models ...string) []*types.ModelRoleEntry {
	tb.Helper()
	out := make([]*types.ModelRoleEntry, 0, len(models))
	for i, modelID := range models {
		entry := &types.ModelRoleEntry{
			ID:       uuid.New(),
			Role:     role,
			ModelID:  modelID,
			Priority: i,
			IsActive: true,
			IsGlobal: tenantID == nil,
			TenantID: tenantID,
		}
		if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
			tb.Fatalf("seed chain entry: %v", err)
		}
		out = append(out, entry)
	}
	return out
}

func SeedSession(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, status string) *types.DeliberationSession {
	tb.Helper()
	session := &types.DeliberationSession{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Question:    "should we expand into the nordic market",
		Preset:      "balanced",
		Status:      status,
		PeriodStart: types.PeriodStartFor(time.Now()),
	}
	if err := tx.WithContext(ctx).Create(session).Error; err != nil {
		tb.Fatalf("seed session: %v", err)
	}
	return session
}

func SeedResponse(tb testing.TB, ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, stage, seat int, outcome string, costCents int64) *types.ModelResponse {
	tb.Helper()
	resp := &types.ModelResponse{
		ID:        uuid.New(),
		SessionID: sessionID,
		Stage:     stage,
		SeatIndex: seat,
		ModelID:   "openai/gpt-4o",
		Outcome:   outcome,
		CostCents: costCents,
	}
	if err := tx.WithContext(ctx).Create(resp).Error; err != nil {
		tb.Fatalf("seed response: %v", err)
	}
	return resp
}
