package sessions

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/roundtablehq/roundtable-backend/internal/data/repos/repoerr"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/pkg/dbctx"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
)

type SessionRepo interface {
	Create(dbc dbctx.Context, session *types.DeliberationSession) (*types.DeliberationSession, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.DeliberationSession, error)
	GetForTenant(dbc dbctx.Context, tenantID, id uuid.UUID) (*types.DeliberationSession, error)
	ListByTenant(dbc dbctx.Context, tenantID uuid.UUID, limit, offset int) ([]*types.DeliberationSession, error)
	// UpdateFieldsIfStatus applies updates only while the session still has the
	// expected status. The returned bool reports whether the row moved; losing
	// the race is not an error.
	UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, expectedStatus string, updates map[string]interface{}) (bool, error)
	// RequestCancel flips the cancel flag on a non-terminal session.
	RequestCancel(dbc dbctx.Context, tenantID, id uuid.UUID) (bool, error)
	// ClaimNextRunnable picks up the oldest pending session, or a running one
	// whose worker stopped heartbeating.
	ClaimNextRunnable(dbc dbctx.Context, claimedBy string, staleRunning time.Duration) (*types.DeliberationSession, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID, claimedBy string) error
}

type sessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionRepo(db *gorm.DB, baseLog *logger.Logger) SessionRepo {
	return &sessionRepo{
		db:  db,
		log: baseLog.With("repo", "SessionRepo"),
	}
}

func (r *sessionRepo) Create(dbc dbctx.Context, session *types.DeliberationSession) (*types.DeliberationSession, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.Status == "" {
		session.Status = types.SessionPending
	}
	if err := transaction.WithContext(dbc.Ctx).Create(session).Error; err != nil {
		return nil, repoerr.Map("sessions.Create", err)
	}
	return session, nil
}

func (r *sessionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.DeliberationSession, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var session types.DeliberationSession
	if err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&session).Error; err != nil {
		return nil, repoerr.Map("sessions.GetByID", err)
	}
	return &session, nil
}

func (r *sessionRepo) GetForTenant(dbc dbctx.Context, tenantID, id uuid.UUID) (*types.DeliberationSession, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var session types.DeliberationSession
	if err := transaction.WithContext(dbc.Ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&session).Error; err != nil {
		return nil, repoerr.Map("sessions.GetForTenant", err)
	}
	return &session, nil
}

func (r *sessionRepo) ListByTenant(dbc dbctx.Context, tenantID uuid.UUID, limit, offset int) ([]*types.DeliberationSession, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	var out []*types.DeliberationSession
	if err := transaction.WithContext(dbc.Ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error; err != nil {
		return nil, repoerr.Map("sessions.ListByTenant", err)
	}
	return out, nil
}

func (r *sessionRepo) UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, expectedStatus string, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.DeliberationSession{}).
		Where("id = ? AND status = ?", id, expectedStatus).
		Updates(updates)
	if res.Error != nil {
		return false, repoerr.Map("sessions.UpdateFieldsIfStatus", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *sessionRepo) RequestCancel(dbc dbctx.Context, tenantID, id uuid.UUID) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.DeliberationSession{}).
		Where("id = ? AND tenant_id = ? AND status NOT IN ?", id, tenantID,
			[]string{types.SessionCompleted, types.SessionFailed, types.SessionCanceled}).
		Updates(map[string]interface{}{
			"cancel_requested": true,
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return false, repoerr.Map("sessions.RequestCancel", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *sessionRepo) ClaimNextRunnable(dbc dbctx.Context, claimedBy string, staleRunning time.Duration) (*types.DeliberationSession, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.DeliberationSession
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var session types.DeliberationSession
		q := txx.Where(`
        (
          status = ?
          AND (heartbeat_at IS NULL OR heartbeat_at < ?)
        )
        OR (
          status IN ?
          AND heartbeat_at IS NOT NULL
          AND heartbeat_at < ?
        )
      `, types.SessionPending, staleCutoff,
			[]string{types.SessionStage1Running, types.SessionStage2Running, types.SessionStage3Running},
			staleCutoff).
			Order("created_at ASC")
		if txx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		qErr := q.First(&session).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.DeliberationSession{}).
			Where("id = ?", session.ID).
			Updates(map[string]interface{}{
				"claimed_by":   claimedBy,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		session.ClaimedBy = claimedBy
		session.HeartbeatAt = &now
		claimed = &session
		return nil
	})
	if err != nil {
		return nil, repoerr.Map("sessions.ClaimNextRunnable", err)
	}
	return claimed, nil
}

func (r *sessionRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID, claimedBy string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.DeliberationSession{}).
		Where("id = ? AND claimed_by = ? AND status NOT IN ?", id, claimedBy,
			[]string{types.SessionCompleted, types.SessionFailed, types.SessionCanceled}).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
	if err != nil {
		return repoerr.Map("sessions.Heartbeat", err)
	}
	return nil
}

