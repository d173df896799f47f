package council

import (
	"time"

	"github.com/google/uuid"
)

const (
	TenantActive    = "active"
	TenantSuspended = "suspended"
)

// Tenant carries only the fields admission needs. Full tenant lifecycle
// (signup, plans, billing) is owned by the surrounding product.
type Tenant struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name             string    `gorm:"column:name;not null" json:"name"`
	Status           string    `gorm:"column:status;not null;default:active;index" json:"status"`
	QueryLimit       int64     `gorm:"column:query_limit;not null;default:100" json:"query_limit"`
	BudgetCentsLimit int64     `gorm:"column:budget_cents_limit;not null;default:10000" json:"budget_cents_limit"`
	CreatedAt        time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time `gorm:"not null" json:"updated_at"`
}

func (Tenant) TableName() string { return "tenant" }
