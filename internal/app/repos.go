package app

import (
	"gorm.io/gorm"

	"github.com/roundtablehq/roundtable-backend/internal/data/repos"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
)

type Repos struct {
	Tenants   repos.TenantRepo
	Registry  repos.RoleEntryRepo
	Sessions  repos.SessionRepo
	Responses repos.ResponseRepo
	Verdicts  repos.VerdictRepo
	Usage     repos.UsageRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Tenants:   repos.NewTenantRepo(db, log),
		Registry:  repos.NewRoleEntryRepo(db, log),
		Sessions:  repos.NewSessionRepo(db, log),
		Responses: repos.NewResponseRepo(db, log),
		Verdicts:  repos.NewVerdictRepo(db, log),
		Usage:     repos.NewUsageRepo(db, log),
	}
}
