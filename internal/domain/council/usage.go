package council

import (
	"time"

	"github.com/google/uuid"
)

// UsageCounter is the per-tenant, per-period admission ledger. It is the only
// mutable shared row in the system and is only ever changed through atomic
// conditional updates, never read-modify-write.
type UsageCounter struct {
	TenantID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"tenant_id"`
	PeriodStart     time.Time `gorm:"column:period_start;primaryKey" json:"period_start"`
	QueriesUsed     int64     `gorm:"column:queries_used;not null;default:0" json:"queries_used"`
	BudgetCentsUsed int64     `gorm:"column:budget_cents_used;not null;default:0" json:"budget_cents_used"`
	UpdatedAt       time.Time `gorm:"not null" json:"updated_at"`
}

func (UsageCounter) TableName() string { return "usage_counter" }

// PeriodStartFor truncates t to the first instant of its UTC month.
func PeriodStartFor(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
