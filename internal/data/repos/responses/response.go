package responses

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/roundtablehq/roundtable-backend/internal/data/repos/repoerr"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/pkg/dbctx"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
)

// ResponseRepo is append-only. Attempt rows are never updated or deleted once
// written; diagnostics and billing both depend on that.
type ResponseRepo interface {
	CreateBatch(dbc dbctx.Context, responses []*types.ModelResponse) ([]*types.ModelResponse, error)
	ListBySession(dbc dbctx.Context, sessionID uuid.UUID) ([]*types.ModelResponse, error)
	ListBySessionStage(dbc dbctx.Context, sessionID uuid.UUID, stage int) ([]*types.ModelResponse, error)
	SumCostBySession(dbc dbctx.Context, sessionID uuid.UUID) (int64, error)
}

type responseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewResponseRepo(db *gorm.DB, baseLog *logger.Logger) ResponseRepo {
	return &responseRepo{
		db:  db,
		log: baseLog.With("repo", "ResponseRepo"),
	}
}

func (r *responseRepo) CreateBatch(dbc dbctx.Context, responses []*types.ModelResponse) ([]*types.ModelResponse, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(responses) == 0 {
		return []*types.ModelResponse{}, nil
	}
	for _, resp := range responses {
		if resp.ID == uuid.Nil {
			resp.ID = uuid.New()
		}
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&responses).Error; err != nil {
		return nil, repoerr.Map("responses.CreateBatch", err)
	}
	return responses, nil
}

func (r *responseRepo) ListBySession(dbc dbctx.Context, sessionID uuid.UUID) ([]*types.ModelResponse, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ModelResponse
	if err := transaction.WithContext(dbc.Ctx).
		Where("session_id = ?", sessionID).
		Order("stage ASC, seat_index ASC, role_priority ASC, created_at ASC").
		Find(&out).Error; err != nil {
		return nil, repoerr.Map("responses.ListBySession", err)
	}
	return out, nil
}

func (r *responseRepo) ListBySessionStage(dbc dbctx.Context, sessionID uuid.UUID, stage int) ([]*types.ModelResponse, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ModelResponse
	if err := transaction.WithContext(dbc.Ctx).
		Where("session_id = ? AND stage = ?", sessionID, stage).
		Order("seat_index ASC, role_priority ASC, created_at ASC").
		Find(&out).Error; err != nil {
		return nil, repoerr.Map("responses.ListBySessionStage", err)
	}
	return out, nil
}

func (r *responseRepo) SumCostBySession(dbc dbctx.Context, sessionID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var total int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.ModelResponse{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(SUM(cost_cents), 0)").
		Scan(&total).Error; err != nil {
		return 0, repoerr.Map("responses.SumCostBySession", err)
	}
	return total, nil
}
