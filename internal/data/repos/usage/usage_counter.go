package usage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/roundtablehq/roundtable-backend/internal/data/repos/repoerr"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/pkg/dbctx"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
)

// UsageRepo owns the per-tenant admission ledger. Reservation is a single
// conditional UPDATE; there is deliberately no read-then-write path here.
type UsageRepo interface {
	EnsureRow(dbc dbctx.Context, tenantID uuid.UUID, periodStart time.Time) error
	// TryReserveQuery increments queries_used iff both ceilings still hold.
	// The bool is the admission decision.
	TryReserveQuery(dbc dbctx.Context, tenantID uuid.UUID, periodStart time.Time, queryLimit, budgetCentsLimit int64) (bool, error)
	AddCost(dbc dbctx.Context, tenantID uuid.UUID, periodStart time.Time, cents int64) error
	Get(dbc dbctx.Context, tenantID uuid.UUID, periodStart time.Time) (*types.UsageCounter, error)
}

type usageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUsageRepo(db *gorm.DB, baseLog *logger.Logger) UsageRepo {
	return &usageRepo{
		db:  db,
		log: baseLog.With("repo", "UsageRepo"),
	}
}

func (r *usageRepo) EnsureRow(dbc dbctx.Context, tenantID uuid.UUID, periodStart time.Time) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	row := &types.UsageCounter{
		TenantID:    tenantID,
		PeriodStart: periodStart,
		UpdatedAt:   time.Now(),
	}
	if err := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row).Error; err != nil {
		return repoerr.Map("usage.EnsureRow", err)
	}
	return nil
}

func (r *usageRepo) TryReserveQuery(dbc dbctx.Context, tenantID uuid.UUID, periodStart time.Time, queryLimit, budgetCentsLimit int64) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.UsageCounter{}).
		Where("tenant_id = ? AND period_start = ? AND queries_used < ? AND budget_cents_used < ?",
			tenantID, periodStart, queryLimit, budgetCentsLimit).
		Updates(map[string]interface{}{
			"queries_used": gorm.Expr("queries_used + 1"),
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return false, repoerr.Map("usage.TryReserveQuery", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *usageRepo) AddCost(dbc dbctx.Context, tenantID uuid.UUID, periodStart time.Time, cents int64) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if cents == 0 {
		return nil
	}
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.UsageCounter{}).
		Where("tenant_id = ? AND period_start = ?", tenantID, periodStart).
		Updates(map[string]interface{}{
			"budget_cents_used": gorm.Expr("budget_cents_used + ?", cents),
			"updated_at":        time.Now(),
		}).Error
	if err != nil {
		return repoerr.Map("usage.AddCost", err)
	}
	return nil
}

func (r *usageRepo) Get(dbc dbctx.Context, tenantID uuid.UUID, periodStart time.Time) (*types.UsageCounter, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var counter types.UsageCounter
	err := transaction.WithContext(dbc.Ctx).
		Where("tenant_id = ? AND period_start = ?", tenantID, periodStart).
		Limit(1).
		Find(&counter).Error
	if err != nil {
		return nil, repoerr.Map("usage.Get", err)
	}
	if counter.TenantID == uuid.Nil {
		return nil, nil
	}
	return &counter, nil
}
