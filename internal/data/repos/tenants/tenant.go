package tenants

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/roundtablehq/roundtable-backend/internal/data/repos/repoerr"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/pkg/dbctx"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
)

type TenantRepo interface {
	Create(dbc dbctx.Context, tenant *types.Tenant) (*types.Tenant, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Tenant, error)
	SetStatus(dbc dbctx.Context, id uuid.UUID, status string) error
}

type tenantRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTenantRepo(db *gorm.DB, baseLog *logger.Logger) TenantRepo {
	return &tenantRepo{
		db:  db,
		log: baseLog.With("repo", "TenantRepo"),
	}
}

func (r *tenantRepo) Create(dbc dbctx.Context, tenant *types.Tenant) (*types.Tenant, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	if tenant.Status == "" {
		tenant.Status = types.TenantActive
	}
	if err := transaction.WithContext(dbc.Ctx).Create(tenant).Error; err != nil {
		return nil, repoerr.Map("tenants.Create", err)
	}
	return tenant, nil
}

func (r *tenantRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Tenant, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var tenant types.Tenant
	if err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&tenant).Error; err != nil {
		return nil, repoerr.Map("tenants.GetByID", err)
	}
	return &tenant, nil
}

func (r *tenantRepo) SetStatus(dbc dbctx.Context, id uuid.UUID, status string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Tenant{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return repoerr.Map("tenants.SetStatus", res.Error)
	}
	if res.RowsAffected == 0 {
		return repoerr.ErrNotFound
	}
	return nil
}
