package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/roundtablehq/roundtable-backend/internal/config"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos/repoerr"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/pkg/dbctx"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
	"github.com/roundtablehq/roundtable-backend/internal/quota"
)

var (
	ErrQuestionRequired = errors.New("question required")
	ErrQuestionTooLong  = errors.New("question too long")
	ErrUnknownPreset    = errors.New("unknown preset")
	ErrSessionTerminal  = errors.New("session already settled")
)

// maxQuestionChars bounds the prompt we are willing to fan out to a full
// council panel.
const maxQuestionChars = 8000

// WorkflowStarter hands a freshly admitted session to an external driver.
// Absent (nil), the in-process runner picks the session up from its pending
// status instead.
type WorkflowStarter interface {
	StartDeliberation(ctx context.Context, session *types.DeliberationSession) error
}

type CreateDeliberationInput struct {
	Question        string `json:"question"`
	Preset          string `json:"preset"`
	AnonymizeReview *bool  `json:"anonymize_review"`
}

type SessionService interface {
	// CreateDeliberation admits one question through the quota guard and
	// persists the session in pending state. Denials come back as
	// *councilerr.AdmissionDenied; the reserved query is never refunded.
	CreateDeliberation(ctx context.Context, tenantID uuid.UUID, in CreateDeliberationInput) (*types.DeliberationSession, error)
	GetSession(ctx context.Context, tenantID, id uuid.UUID) (*types.DeliberationSession, error)
	ListSessions(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*types.DeliberationSession, error)
	ListResponses(ctx context.Context, tenantID, id uuid.UUID) ([]*types.ModelResponse, error)
	ListVerdicts(ctx context.Context, tenantID, id uuid.UUID) ([]*types.RankingVerdict, error)
	// CancelSession flags the session for cancellation. Terminal sessions
	// return ErrSessionTerminal.
	CancelSession(ctx context.Context, tenantID, id uuid.UUID) error
}

type sessionService struct {
	sessions  repos.SessionRepo
	responses repos.ResponseRepo
	verdicts  repos.VerdictRepo
	guard     quota.Guard
	cfg       *config.Council
	workflows WorkflowStarter
	log       *logger.Logger
}

func NewSessionService(
	sessions repos.SessionRepo,
	responses repos.ResponseRepo,
	verdicts repos.VerdictRepo,
	guard quota.Guard,
	cfg *config.Council,
	workflows WorkflowStarter,
	baseLog *logger.Logger,
) SessionService {
	return &sessionService{
		sessions:  sessions,
		responses: responses,
		verdicts:  verdicts,
		guard:     guard,
		cfg:       cfg,
		workflows: workflows,
		log:       baseLog.With("service", "SessionService"),
	}
}

func (s *sessionService) CreateDeliberation(ctx context.Context, tenantID uuid.UUID, in CreateDeliberationInput) (*types.DeliberationSession, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, ErrQuestionRequired
	}
	if len(question) > maxQuestionChars {
		return nil, ErrQuestionTooLong
	}

	presetName := strings.TrimSpace(strings.ToLower(in.Preset))
	if presetName == "" {
		presetName = "balanced"
	}
	preset, ok := s.cfg.Preset(presetName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, presetName)
	}

	periodStart, err := s.guard.CheckAndReserve(ctx, tenantID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	// The stage configs are frozen at admission; later preset edits must not
	// change a session already in flight.
	snapshot, err := json.Marshal(preset)
	if err != nil {
		return nil, fmt.Errorf("marshal stage configs: %w", err)
	}

	anonymize := true
	if in.AnonymizeReview != nil {
		anonymize = *in.AnonymizeReview
	}

	session, err := s.sessions.Create(dbctx.Context{Ctx: ctx}, &types.DeliberationSession{
		TenantID:        tenantID,
		Question:        question,
		Preset:          presetName,
		AnonymizeReview: anonymize,
		Status:          types.SessionPending,
		StageConfigs:    datatypes.JSON(snapshot),
		PeriodStart:     periodStart,
	})
	if err != nil {
		// The reservation stands; admission consumed one query whether or
		// not the row landed.
		s.log.Error("session create failed after admission", "tenant_id", tenantID.String(), "error", err)
		return nil, err
	}

	if s.workflows != nil {
		if err := s.workflows.StartDeliberation(ctx, session); err != nil {
			s.log.Error("deliberation workflow start failed",
				"session_id", session.ID.String(), "tenant_id", tenantID.String(), "error", err)
			return nil, err
		}
	}

	s.log.Info("deliberation admitted",
		"session_id", session.ID.String(),
		"tenant_id", tenantID.String(),
		"preset", presetName,
		"anonymize_review", anonymize)
	return session, nil
}

func (s *sessionService) GetSession(ctx context.Context, tenantID, id uuid.UUID) (*types.DeliberationSession, error) {
	return s.sessions.GetForTenant(dbctx.Context{Ctx: ctx}, tenantID, id)
}

func (s *sessionService) ListSessions(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*types.DeliberationSession, error) {
	return s.sessions.ListByTenant(dbctx.Context{Ctx: ctx}, tenantID, limit, offset)
}

func (s *sessionService) ListResponses(ctx context.Context, tenantID, id uuid.UUID) ([]*types.ModelResponse, error) {
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := s.sessions.GetForTenant(dbc, tenantID, id); err != nil {
		return nil, err
	}
	return s.responses.ListBySession(dbc, id)
}

func (s *sessionService) ListVerdicts(ctx context.Context, tenantID, id uuid.UUID) ([]*types.RankingVerdict, error) {
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := s.sessions.GetForTenant(dbc, tenantID, id); err != nil {
		return nil, err
	}
	return s.verdicts.ListBySession(dbc, id)
}

func (s *sessionService) CancelSession(ctx context.Context, tenantID, id uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	session, err := s.sessions.GetForTenant(dbc, tenantID, id)
	if err != nil {
		return err
	}
	if types.SessionTerminal(session.Status) {
		return ErrSessionTerminal
	}

	flipped, err := s.sessions.RequestCancel(dbc, tenantID, id)
	if err != nil {
		return err
	}
	if !flipped {
		// Lost the race against the final status write.
		latest, err := s.sessions.GetForTenant(dbc, tenantID, id)
		if err != nil {
			if errors.Is(err, repoerr.ErrNotFound) {
				return ErrSessionTerminal
			}
			return err
		}
		if types.SessionTerminal(latest.Status) {
			return ErrSessionTerminal
		}
		return fmt.Errorf("cancel request not accepted for session %s", id)
	}

	s.log.Info("cancel requested", "session_id", id.String(), "tenant_id", tenantID.String())
	return nil
}
