package repos

import (
	"gorm.io/gorm"

	"github.com/roundtablehq/roundtable-backend/internal/data/repos/registry"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos/responses"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos/sessions"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos/tenants"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos/usage"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos/verdicts"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
)

type TenantRepo = tenants.TenantRepo
type RoleEntryRepo = registry.RoleEntryRepo
type SessionRepo = sessions.SessionRepo
type ResponseRepo = responses.ResponseRepo
type VerdictRepo = verdicts.VerdictRepo
type UsageRepo = usage.UsageRepo

func NewTenantRepo(db *gorm.DB, baseLog *logger.Logger) TenantRepo {
	return tenants.NewTenantRepo(db, baseLog)
}
func NewRoleEntryRepo(db *gorm.DB, baseLog *logger.Logger) RoleEntryRepo {
	return registry.NewRoleEntryRepo(db, baseLog)
}
func NewSessionRepo(db *gorm.DB, baseLog *logger.Logger) SessionRepo {
	return sessions.NewSessionRepo(db, baseLog)
}
func NewResponseRepo(db *gorm.DB, baseLog *logger.Logger) ResponseRepo {
	return responses.NewResponseRepo(db, baseLog)
}
func NewVerdictRepo(db *gorm.DB, baseLog *logger.Logger) VerdictRepo {
	return verdicts.NewVerdictRepo(db, baseLog)
}
func NewUsageRepo(db *gorm.DB, baseLog *logger.Logger) UsageRepo {
	return usage.NewUsageRepo(db, baseLog)
}
