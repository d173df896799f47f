package db

import (
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"gorm.io/gorm"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Tenant{},
		&types.ModelRoleEntry{},
		&types.DeliberationSession{},
		&types.ModelResponse{},
		&types.RankingVerdict{},
		&types.UsageCounter{},
	)
}
