package verdicts

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/roundtablehq/roundtable-backend/internal/data/repos/repoerr"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/pkg/dbctx"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
)

type VerdictRepo interface {
	CreateBatch(dbc dbctx.Context, verdicts []*types.RankingVerdict) ([]*types.RankingVerdict, error)
	ListBySession(dbc dbctx.Context, sessionID uuid.UUID) ([]*types.RankingVerdict, error)
}

type verdictRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVerdictRepo(db *gorm.DB, baseLog *logger.Logger) VerdictRepo {
	return &verdictRepo{
		db:  db,
		log: baseLog.With("repo", "VerdictRepo"),
	}
}

func (r *verdictRepo) CreateBatch(dbc dbctx.Context, verdicts []*types.RankingVerdict) ([]*types.RankingVerdict, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(verdicts) == 0 {
		return []*types.RankingVerdict{}, nil
	}
	for _, v := range verdicts {
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&verdicts).Error; err != nil {
		return nil, repoerr.Map("verdicts.CreateBatch", err)
	}
	return verdicts, nil
}

func (r *verdictRepo) ListBySession(dbc dbctx.Context, sessionID uuid.UUID) ([]*types.RankingVerdict, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.RankingVerdict
	if err := transaction.WithContext(dbc.Ctx).
		Where("session_id = ?", sessionID).
		Order("reviewer_seat_index ASC").
		Find(&out).Error; err != nil {
		return nil, repoerr.Map("verdicts.ListBySession", err)
	}
	return out, nil
}
