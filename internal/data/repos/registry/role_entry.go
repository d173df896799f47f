package registry

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/roundtablehq/roundtable-backend/internal/data/repos/repoerr"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/pkg/dbctx"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
)

type RoleEntryRepo interface {
	// ListTenantChain returns the tenant's active entries for one role in
	// priority order.
	ListTenantChain(dbc dbctx.Context, tenantID uuid.UUID, role types.Role) ([]*types.ModelRoleEntry, error)
	// ListGlobalChain returns the active global entries for one role in
	// priority order.
	ListGlobalChain(dbc dbctx.Context, role types.Role) ([]*types.ModelRoleEntry, error)
	// ListForTenant returns every active entry visible to the tenant, global
	// rows included.
	ListForTenant(dbc dbctx.Context, tenantID uuid.UUID) ([]*types.ModelRoleEntry, error)
	// ReplaceChain swaps the tenant's chain for a role in one transaction.
	ReplaceChain(dbc dbctx.Context, tenantID uuid.UUID, role types.Role, entries []*types.ModelRoleEntry) error
	CreateGlobal(dbc dbctx.Context, entries []*types.ModelRoleEntry) error
}

type roleEntryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRoleEntryRepo(db *gorm.DB, baseLog *logger.Logger) RoleEntryRepo {
	return &roleEntryRepo{
		db:  db,
		log: baseLog.With("repo", "RoleEntryRepo"),
	}
}

func (r *roleEntryRepo) ListTenantChain(dbc dbctx.Context, tenantID uuid.UUID, role types.Role) ([]*types.ModelRoleEntry, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ModelRoleEntry
	if err := transaction.WithContext(dbc.Ctx).
		Where("tenant_id = ? AND role = ? AND is_active = ?", tenantID, role, true).
		Order("priority ASC").
		Find(&out).Error; err != nil {
		return nil, repoerr.Map("registry.ListTenantChain", err)
	}
	return out, nil
}

func (r *roleEntryRepo) ListGlobalChain(dbc dbctx.Context, role types.Role) ([]*types.ModelRoleEntry, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ModelRoleEntry
	if err := transaction.WithContext(dbc.Ctx).
		Where("tenant_id IS NULL AND is_global = ? AND role = ? AND is_active = ?", true, role, true).
		Order("priority ASC").
		Find(&out).Error; err != nil {
		return nil, repoerr.Map("registry.ListGlobalChain", err)
	}
	return out, nil
}

func (r *roleEntryRepo) ListForTenant(dbc dbctx.Context, tenantID uuid.UUID) ([]*types.ModelRoleEntry, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ModelRoleEntry
	if err := transaction.WithContext(dbc.Ctx).
		Where("is_active = ? AND (tenant_id = ? OR (tenant_id IS NULL AND is_global = ?))", true, tenantID, true).
		Order("role ASC, priority ASC").
		Find(&out).Error; err != nil {
		return nil, repoerr.Map("registry.ListForTenant", err)
	}
	return out, nil
}

func (r *roleEntryRepo) ReplaceChain(dbc dbctx.Context, tenantID uuid.UUID, role types.Role, entries []*types.ModelRoleEntry) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.
			Where("tenant_id = ? AND role = ?", tenantID, role).
			Delete(&types.ModelRoleEntry{}).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		for _, e := range entries {
			if e.ID == uuid.Nil {
				e.ID = uuid.New()
			}
			tid := tenantID
			e.TenantID = &tid
			e.Role = role
			e.IsGlobal = false
		}
		return txx.Create(&entries).Error
	})
	if err != nil {
		return repoerr.Map("registry.ReplaceChain", err)
	}
	return nil
}

func (r *roleEntryRepo) CreateGlobal(dbc dbctx.Context, entries []*types.ModelRoleEntry) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.TenantID = nil
		e.IsGlobal = true
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&entries).Error; err != nil {
		return repoerr.Map("registry.CreateGlobal", err)
	}
	return nil
}
