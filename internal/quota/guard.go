// Package quota admits or denies new deliberation sessions against each
// tenant's contracted ceilings. Admission is one conditional UPDATE on the
// period's usage counter; two racing requests can never both squeeze through
// the last remaining slot. A reservation is never refunded: a session that
// fails after admission still consumed upstream work.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roundtablehq/roundtable-backend/internal/council/councilerr"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/observability"
	"github.com/roundtablehq/roundtable-backend/internal/pkg/dbctx"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
)

// UsageSnapshot is the read model for the usage endpoint.
type UsageSnapshot struct {
	TenantID         uuid.UUID `json:"tenant_id"`
	PeriodStart      time.Time `json:"period_start"`
	QueriesUsed      int64     `json:"queries_used"`
	QueryLimit       int64     `json:"query_limit"`
	BudgetCentsUsed  int64     `json:"budget_cents_used"`
	BudgetCentsLimit int64     `json:"budget_cents_limit"`
	Status           string    `json:"status"`
}

type Guard interface {
	// CheckAndReserve admits one session, incrementing the period's query
	// counter, and returns the period start the reservation landed in.
	// Denials come back as *councilerr.AdmissionDenied; the caller must not
	// start any stage work on a denial.
	CheckAndReserve(ctx context.Context, tenantID uuid.UUID, now time.Time) (time.Time, error)
	// AddCost folds a session's spend into the period ledger.
	AddCost(ctx context.Context, tenantID uuid.UUID, periodStart time.Time, cents int64) error
	Snapshot(ctx context.Context, tenantID uuid.UUID, now time.Time) (*UsageSnapshot, error)
}

type guard struct {
	tenants repos.TenantRepo
	usage   repos.UsageRepo
	log     *logger.Logger
}

func NewGuard(tenants repos.TenantRepo, usage repos.UsageRepo, baseLog *logger.Logger) Guard {
	return &guard{
		tenants: tenants,
		usage:   usage,
		log:     baseLog.With("service", "QuotaGuard"),
	}
}

func (g *guard) CheckAndReserve(ctx context.Context, tenantID uuid.UUID, now time.Time) (time.Time, error) {
	dbc := dbctx.Context{Ctx: ctx}
	periodStart := types.PeriodStartFor(now)

	tenant, err := g.tenants.GetByID(dbc, tenantID)
	if err != nil {
		return time.Time{}, err
	}
	if tenant.Status != types.TenantActive {
		return time.Time{}, g.deny(tenantID, councilerr.DenySuspended)
	}

	if err := g.usage.EnsureRow(dbc, tenantID, periodStart); err != nil {
		return time.Time{}, err
	}

	ok, err := g.usage.TryReserveQuery(dbc, tenantID, periodStart, tenant.QueryLimit, tenant.BudgetCentsLimit)
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		g.log.Info("session admitted",
			"tenant_id", tenantID.String(),
			"period_start", periodStart.Format(time.DateOnly))
		return periodStart, nil
	}

	// The denial itself was decided atomically by the failed UPDATE; this
	// read only names the ceiling that blocked it. Counters are monotonic
	// within a period, so the blocking ceiling still shows.
	counter, err := g.usage.Get(dbc, tenantID, periodStart)
	if err != nil {
		return time.Time{}, err
	}
	if counter == nil {
		return time.Time{}, fmt.Errorf("quota: usage row missing for tenant %s", tenantID)
	}
	reason := councilerr.DenyBudgetLimit
	if counter.QueriesUsed >= tenant.QueryLimit {
		reason = councilerr.DenyQueryLimit
	}
	return time.Time{}, g.deny(tenantID, reason)
}

func (g *guard) AddCost(ctx context.Context, tenantID uuid.UUID, periodStart time.Time, cents int64) error {
	return g.usage.AddCost(dbctx.Context{Ctx: ctx}, tenantID, periodStart, cents)
}

func (g *guard) Snapshot(ctx context.Context, tenantID uuid.UUID, now time.Time) (*UsageSnapshot, error) {
	dbc := dbctx.Context{Ctx: ctx}
	periodStart := types.PeriodStartFor(now)

	tenant, err := g.tenants.GetByID(dbc, tenantID)
	if err != nil {
		return nil, err
	}

	snapshot := &UsageSnapshot{
		TenantID:         tenantID,
		PeriodStart:      periodStart,
		QueryLimit:       tenant.QueryLimit,
		BudgetCentsLimit: tenant.BudgetCentsLimit,
		Status:           tenant.Status,
	}
	counter, err := g.usage.Get(dbc, tenantID, periodStart)
	if err != nil {
		return nil, err
	}
	if counter != nil {
		snapshot.QueriesUsed = counter.QueriesUsed
		snapshot.BudgetCentsUsed = counter.BudgetCentsUsed
	}
	return snapshot, nil
}

func (g *guard) deny(tenantID uuid.UUID, reason string) error {
	g.log.Warn("admission denied", "tenant_id", tenantID.String(), "reason", reason)
	if metrics := observability.Current(); metrics != nil {
		metrics.IncAdmissionDenied(reason)
	}
	return &councilerr.AdmissionDenied{TenantID: tenantID.String(), Reason: reason}
}
