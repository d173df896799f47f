package council

import (
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of council positions. Arbitrary strings never reach
// the fan-out layer; anything user-supplied must pass ParseRole first.
type Role string

const (
	RolePrimaryDeliberator Role = "primary_deliberator"
	RoleReviewer           Role = "reviewer"
	RoleChairman           Role = "chairman"
)

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RolePrimaryDeliberator, RoleReviewer, RoleChairman:
		return Role(s), true
	default:
		return "", false
	}
}

func AllRoles() []Role {
	return []Role{RolePrimaryDeliberator, RoleReviewer, RoleChairman}
}

// ModelRoleEntry is one link of a (tenant, role) fallback chain. Active
// priorities per chain are unique and contiguous from 0; the registry service
// enforces that at write time. Global rows have a nil TenantID.
type ModelRoleEntry struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Role      Role       `gorm:"column:role;not null;index;uniqueIndex:idx_role_entry_chain" json:"role"`
	ModelID   string     `gorm:"column:model_id;not null" json:"model_id"`
	Priority  int        `gorm:"column:priority;not null;uniqueIndex:idx_role_entry_chain" json:"priority"`
	IsActive  bool       `gorm:"column:is_active;not null;default:true;index" json:"is_active"`
	IsGlobal  bool       `gorm:"column:is_global;not null;default:false;index" json:"is_global"`
	TenantID  *uuid.UUID `gorm:"type:uuid;column:tenant_id;index;uniqueIndex:idx_role_entry_chain" json:"tenant_id,omitempty"`
	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null" json:"updated_at"`
}

func (ModelRoleEntry) TableName() string { return "model_role_entry" }
