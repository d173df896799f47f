// Package pipeline drives a deliberation session through its three stages.
// One Advance call performs exactly one stage of work and one durable status
// move, so any driver that can call Advance in a loop owns a session: the
// in-process runner and the Temporal workflow both do exactly that. Every
// tick reloads what it needs from the store and carries nothing in memory
// between ticks, which makes crash recovery a plain re-tick by whichever
// worker reclaims the session.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/roundtablehq/roundtable-backend/internal/config"
	"github.com/roundtablehq/roundtable-backend/internal/council/councilerr"
	"github.com/roundtablehq/roundtable-backend/internal/council/fanout"
	"github.com/roundtablehq/roundtable-backend/internal/council/prompts"
	"github.com/roundtablehq/roundtable-backend/internal/council/ranking"
	"github.com/roundtablehq/roundtable-backend/internal/council/synthesis"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/observability"
	"github.com/roundtablehq/roundtable-backend/internal/pkg/dbctx"
	"github.com/roundtablehq/roundtable-backend/internal/platform/envutil"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
	"github.com/roundtablehq/roundtable-backend/internal/quota"
)

const defaultCancelPoll = 2 * time.Second

// maxTicksPerRun bounds Run. A healthy session settles in at most four ticks.
const maxTicksPerRun = 6

// Progress reports where one tick left the session.
type Progress struct {
	SessionID uuid.UUID
	Status    string
	Stage     int
	Terminal  bool
}

// Orchestrator moves deliberation sessions through the stage pipeline.
type Orchestrator interface {
	// Advance performs the next pending stage for the session: it claims the
	// matching status transition, runs that stage to completion, persists
	// artifacts and cost, and reports where the session now stands. Fatal
	// stage outcomes settle the session and come back as a terminal Progress
	// with a nil error; a non-nil error means the tick made no durable
	// decision and may be retried.
	Advance(ctx context.Context, sessionID uuid.UUID) (*Progress, error)
	// Run ticks Advance until the session reaches a terminal state.
	Run(ctx context.Context, sessionID uuid.UUID) (*Progress, error)
	// Abort settles a non-terminal session as failed, with full cost rollup
	// and billing. The runner reaches for it when a tick panics and the
	// session would otherwise crash-loop through stale-claim recovery.
	Abort(ctx context.Context, sessionID uuid.UUID, reason string) (*Progress, error)
}

type engine struct {
	sessions   repos.SessionRepo
	responses  repos.ResponseRepo
	verdicts   repos.VerdictRepo
	executor   fanout.Executor
	aggregator ranking.Aggregator
	synth      synthesis.Synthesizer
	guard      quota.Guard
	cfg        *config.Council
	notifier   Notifier
	log        *logger.Logger
	cancelPoll time.Duration
}

func NewEngine(
	sessions repos.SessionRepo,
	responses repos.ResponseRepo,
	verdicts repos.VerdictRepo,
	executor fanout.Executor,
	aggregator ranking.Aggregator,
	synth synthesis.Synthesizer,
	guard quota.Guard,
	cfg *config.Council,
	notifier Notifier,
	baseLog *logger.Logger,
) Orchestrator {
	return &engine{
		sessions:   sessions,
		responses:  responses,
		verdicts:   verdicts,
		executor:   executor,
		aggregator: aggregator,
		synth:      synth,
		guard:      guard,
		cfg:        cfg,
		notifier:   notifier,
		log:        baseLog.With("service", "PipelineOrchestrator"),
		cancelPoll: envutil.Duration("PIPELINE_CANCEL_POLL", defaultCancelPoll),
	}
}

func (e *engine) Advance(ctx context.Context, sessionID uuid.UUID) (*Progress, error) {
	session, err := e.sessions.GetByID(dbctx.Context{Ctx: ctx}, sessionID)
	if err != nil {
		return nil, err
	}

	if types.SessionTerminal(session.Status) {
		return &Progress{SessionID: session.ID, Status: session.Status, Terminal: true}, nil
	}

	if session.CancelRequested {
		return e.cancelSession(ctx, session, types.StageForStatus(session.Status))
	}

	switch session.Status {
	case types.SessionPending:
		moved, err := e.transition(ctx, session, types.SessionPending, types.SessionStage1Running, nil)
		if err != nil {
			return nil, err
		}
		if !moved {
			return e.reload(ctx, sessionID)
		}
		return e.tickDeliberation(ctx, session)
	case types.SessionStage1Running:
		return e.tickDeliberation(ctx, session)
	case types.SessionStage2Running:
		return e.tickReview(ctx, session)
	case types.SessionStage3Running:
		return e.tickSynthesis(ctx, session)
	default:
		return nil, fmt.Errorf("pipeline: session %s has unknown status %q", session.ID, session.Status)
	}
}

func (e *engine) Run(ctx context.Context, sessionID uuid.UUID) (*Progress, error) {
	var last *Progress
	for i := 0; i < maxTicksPerRun; i++ {
		progress, err := e.Advance(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		last = progress
		if progress.Terminal {
			return progress, nil
		}
		if ctx.Err() != nil {
			return last, ctx.Err()
		}
	}
	return last, fmt.Errorf("pipeline: session %s still %s after %d ticks", sessionID, last.Status, maxTicksPerRun)
}

func (e *engine) Abort(ctx context.Context, sessionID uuid.UUID, reason string) (*Progress, error) {
	session, err := e.sessions.GetByID(dbctx.Context{Ctx: ctx}, sessionID)
	if err != nil {
		return nil, err
	}
	if types.SessionTerminal(session.Status) {
		return &Progress{SessionID: session.ID, Status: session.Status, Terminal: true}, nil
	}
	return e.failSession(ctx, session, types.StageForStatus(session.Status), reason)
}

func (e *engine) tickDeliberation(ctx context.Context, session *types.DeliberationSession) (*Progress, error) {
	preset := e.sessionPreset(session)
	systemPrompt, userContent := prompts.Deliberation(session.Question)
	panel := e.cfg.PanelSize(types.RolePrimaryDeliberator)
	seats := make([]fanout.Seat, panel)
	for i := range seats {
		seats[i] = fanout.Seat{
			Index:        i,
			Role:         types.RolePrimaryDeliberator,
			SystemPrompt: systemPrompt,
			UserContent:  userContent,
		}
	}

	e.emit(ctx, session, types.StageDeliberation, EventStageStarted, map[string]any{"seats": panel})

	stageCtx, canceled, stop := e.watchCancel(ctx, session.ID)
	result, err := e.executor.RunStage(stageCtx, fanout.StageCall{
		Session: session,
		Stage:   types.StageDeliberation,
		Config:  preset.ForStage(types.StageDeliberation),
		Seats:   seats,
		OnSeat:  e.seatEmitter(ctx, session, types.StageDeliberation),
	})
	stop()

	if canceled.Load() {
		return e.cancelSession(ctx, session, types.StageDeliberation)
	}
	if err != nil {
		return e.settleStageError(ctx, session, types.StageDeliberation, err)
	}

	return e.closeStage(ctx, session, types.SessionStage1Running, types.SessionStage2Running,
		types.StageDeliberation, nil, map[string]any{
			"succeeded": len(result.Successes()),
			"seats":     panel,
			"attempts":  len(result.Rows),
		})
}

func (e *engine) tickReview(ctx context.Context, session *types.DeliberationSession) (*Progress, error) {
	preset := e.sessionPreset(session)
	winners, err := e.stageWinners(ctx, session.ID, types.StageDeliberation)
	if err != nil {
		return nil, err
	}
	if len(winners) == 0 {
		// Status says stage 1 closed, yet no answer rows survived. The rows
		// are the source of truth.
		return e.failSession(ctx, session, types.StageReview, "no deliberation answers available for review")
	}

	panel := e.cfg.PanelSize(types.RoleReviewer)
	e.emit(ctx, session, types.StageReview, EventStageStarted, map[string]any{
		"seats":      panel,
		"candidates": len(winners),
	})

	stageCtx, canceled, stop := e.watchCancel(ctx, session.ID)
	review, err := e.aggregator.Run(stageCtx, ranking.ReviewInput{
		Session:    session,
		Candidates: winners,
		Config:     preset.ForStage(types.StageReview),
		PanelSize:  panel,
		OnSeat:     e.seatEmitter(ctx, session, types.StageReview),
	})
	stop()

	if canceled.Load() {
		return e.cancelSession(ctx, session, types.StageReview)
	}
	if err != nil {
		return e.settleStageError(ctx, session, types.StageReview, err)
	}

	orderIDs := make([]string, 0, len(review.Order))
	for _, row := range review.Order {
		orderIDs = append(orderIDs, row.ID.String())
	}
	rawOrder, _ := json.Marshal(orderIDs)

	usable := 0
	for _, v := range review.Verdicts {
		if v.ParseOK {
			usable++
		}
	}

	return e.closeStage(ctx, session, types.SessionStage2Running, types.SessionStage3Running,
		types.StageReview,
		map[string]interface{}{"final_order": datatypes.JSON(rawOrder)},
		map[string]any{
			"usable_ballots": usable,
			"ballots":        len(review.Verdicts),
			"fallback":       review.Fallback,
		})
}

func (e *engine) tickSynthesis(ctx context.Context, session *types.DeliberationSession) (*Progress, error) {
	preset := e.sessionPreset(session)
	winners, err := e.stageWinners(ctx, session.ID, types.StageDeliberation)
	if err != nil {
		return nil, err
	}
	if len(winners) == 0 {
		return e.failSession(ctx, session, types.StageSynthesis, "no deliberation answers available for synthesis")
	}
	review, err := e.rebuildReview(ctx, session.ID, winners)
	if err != nil {
		return nil, err
	}

	e.emit(ctx, session, types.StageSynthesis, EventStageStarted, map[string]any{"seats": 1})

	stageCtx, canceled, stop := e.watchCancel(ctx, session.ID)
	res, err := e.synth.Run(stageCtx, synthesis.Input{
		Session: session,
		Review:  review,
		Config:  preset.ForStage(types.StageSynthesis),
		OnSeat:  e.seatEmitter(ctx, session, types.StageSynthesis),
	})
	stop()

	if canceled.Load() {
		return e.cancelSession(ctx, session, types.StageSynthesis)
	}
	if err != nil {
		return e.settleStageError(ctx, session, types.StageSynthesis, err)
	}

	return e.completeSession(ctx, session, res.FinalAnswer)
}

// stageWinners returns a stage's ok rows in seat order, one row per seat. A
// reclaimed session can hold two runs' rows for one seat; the first write
// wins on every read, so stage 2 and stage 3 always see the same candidates.
func (e *engine) stageWinners(ctx context.Context, sessionID uuid.UUID, stage int) ([]*types.ModelResponse, error) {
	rows, err := e.responses.ListBySessionStage(dbctx.Context{Ctx: ctx}, sessionID, stage)
	if err != nil {
		return nil, err
	}
	winners := make([]*types.ModelResponse, 0, len(rows))
	seen := make(map[int]bool, len(rows))
	for _, row := range rows {
		if row.Outcome != types.OutcomeOK || seen[row.SeatIndex] {
			continue
		}
		seen[row.SeatIndex] = true
		winners = append(winners, row)
	}
	return winners, nil
}

// rebuildReview reconstructs the stage-2 outcome from persisted verdicts, so
// a worker that picks the session up after stage 2 synthesizes the same order
// the original worker would have.
func (e *engine) rebuildReview(ctx context.Context, sessionID uuid.UUID, winners []*types.ModelResponse) (*ranking.ReviewResult, error) {
	verdicts, err := e.verdicts.ListBySession(dbctx.Context{Ctx: ctx}, sessionID)
	if err != nil {
		return nil, err
	}

	indexByID := make(map[uuid.UUID]int, len(winners))
	for i, row := range winners {
		indexByID[row.ID] = i
	}

	ballots := make([][]int, 0, len(verdicts))
	for _, v := range verdicts {
		if !v.ParseOK {
			continue
		}
		var ids []uuid.UUID
		if err := json.Unmarshal(v.RankedResponseIDs, &ids); err != nil || len(ids) != len(winners) {
			continue
		}
		ballot := make([]int, 0, len(ids))
		valid := true
		for _, id := range ids {
			idx, ok := indexByID[id]
			if !ok {
				valid = false
				break
			}
			ballot = append(ballot, idx)
		}
		if valid {
			ballots = append(ballots, ballot)
		}
	}

	agg := ranking.Aggregate(len(winners), ballots)
	order := make([]*types.ModelResponse, 0, len(winners))
	scores := make([]ranking.Score, 0, len(winners))
	for _, c := range agg.Order {
		order = append(order, winners[c])
		scores = append(scores, agg.Scores[c])
	}
	return &ranking.ReviewResult{Order: order, Verdicts: verdicts, Scores: scores, Fallback: agg.Fallback}, nil
}

// watchCancel polls the cancel flag while a stage runs and cancels the stage
// context when it flips; in-flight seats then settle as timeouts. stop must
// be called once the stage returns.
func (e *engine) watchCancel(ctx context.Context, sessionID uuid.UUID) (context.Context, *atomic.Bool, func()) {
	stageCtx, cancel := context.WithCancel(ctx)
	fired := &atomic.Bool{}
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(e.cancelPoll)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-stageCtx.Done():
				return
			case <-ticker.C:
				session, err := e.sessions.GetByID(dbctx.Context{Ctx: ctx}, sessionID)
				if err != nil {
					continue
				}
				if session.CancelRequested {
					fired.Store(true)
					cancel()
					return
				}
			}
		}
	}()

	stop := func() {
		close(done)
		<-stopped
		cancel()
	}
	return stageCtx, fired, stop
}

// settleStageError decides whether a stage error ends the session or leaves
// the tick to be retried.
func (e *engine) settleStageError(ctx context.Context, session *types.DeliberationSession, stage int, err error) (*Progress, error) {
	if ctx.Err() != nil {
		// Driver shutdown, not a model failure; leave the session claimable.
		return nil, ctx.Err()
	}
	if !pipelineFatal(err) {
		return nil, err
	}
	e.log.Error("stage failed, ending session",
		"session_id", session.ID.String(),
		"stage", stage,
		"error", err)
	return e.failSession(ctx, session, stage, failureReason(stage, err))
}

// closeStage rolls the authoritative cost total forward and swaps the session
// into the next stage's status.
func (e *engine) closeStage(ctx context.Context, session *types.DeliberationSession, from, to string, stage int, extra map[string]interface{}, data map[string]any) (*Progress, error) {
	total, err := e.responses.SumCostBySession(dbctx.Context{Ctx: ctx}, session.ID)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{"total_cost_cents": total}
	for k, v := range extra {
		updates[k] = v
	}
	moved, err := e.transition(ctx, session, from, to, updates)
	if err != nil {
		return nil, err
	}
	if !moved {
		return e.reload(ctx, session.ID)
	}

	if data == nil {
		data = map[string]any{}
	}
	data["total_cost_cents"] = total
	e.emit(ctx, session, stage, EventStageCompleted, data)

	e.log.Info("stage closed",
		"session_id", session.ID.String(),
		"stage", stage,
		"status", to,
		"total_cost_cents", total)
	return &Progress{SessionID: session.ID, Status: to, Stage: stage}, nil
}

func (e *engine) completeSession(ctx context.Context, session *types.DeliberationSession, answer string) (*Progress, error) {
	return e.settleTerminal(ctx, session, types.SessionCompleted, types.StageSynthesis,
		map[string]interface{}{"final_answer": answer},
		EventCompleted, map[string]any{"answer_chars": len(answer)})
}

func (e *engine) failSession(ctx context.Context, session *types.DeliberationSession, stage int, reason string) (*Progress, error) {
	return e.settleTerminal(ctx, session, types.SessionFailed, stage,
		map[string]interface{}{"failure_stage": stage, "failure_reason": reason},
		EventFailed, map[string]any{"failure_stage": stage, "reason": reason})
}

func (e *engine) cancelSession(ctx context.Context, session *types.DeliberationSession, stage int) (*Progress, error) {
	return e.settleTerminal(ctx, session, types.SessionCanceled, stage,
		nil, EventCanceled, map[string]any{"stage": stage})
}

// settleTerminal writes the terminal status plus the final cost rollup in one
// conditional UPDATE. Whoever wins that swap, and only whoever wins it, bills
// the tenant ledger, so re-ticked sessions can never double-charge.
func (e *engine) settleTerminal(ctx context.Context, session *types.DeliberationSession, status string, stage int, extra map[string]interface{}, event string, data map[string]any) (*Progress, error) {
	total, err := e.responses.SumCostBySession(dbctx.Context{Ctx: ctx}, session.ID)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{"total_cost_cents": total}
	for k, v := range extra {
		updates[k] = v
	}
	moved, err := e.transition(ctx, session, session.Status, status, updates)
	if err != nil {
		return nil, err
	}
	if !moved {
		return e.reload(ctx, session.ID)
	}

	if err := e.guard.AddCost(ctx, session.TenantID, session.PeriodStart, total); err != nil {
		// The session row still carries the authoritative total.
		e.log.Error("tenant cost ledger update failed",
			"session_id", session.ID.String(),
			"tenant_id", session.TenantID.String(),
			"cents", total,
			"error", err)
	}

	if data == nil {
		data = map[string]any{}
	}
	data["total_cost_cents"] = total
	e.emit(ctx, session, stage, event, data)

	e.log.Info("session settled",
		"session_id", session.ID.String(),
		"status", status,
		"stage", stage,
		"total_cost_cents", total)
	return &Progress{SessionID: session.ID, Status: status, Stage: stage, Terminal: true}, nil
}

// transition moves the session status iff it still holds the expected one.
func (e *engine) transition(ctx context.Context, session *types.DeliberationSession, from, to string, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	moved, err := e.sessions.UpdateFieldsIfStatus(dbctx.Context{Ctx: ctx}, session.ID, from, updates)
	if err != nil {
		return false, err
	}
	if !moved {
		e.log.Warn("lost a status race",
			"session_id", session.ID.String(),
			"expected", from,
			"wanted", to)
		return false, nil
	}
	session.Status = to
	if metrics := observability.Current(); metrics != nil {
		metrics.IncSessionTransition(to)
	}
	return true, nil
}

// reload reports whatever state beat us to the last swap.
func (e *engine) reload(ctx context.Context, sessionID uuid.UUID) (*Progress, error) {
	session, err := e.sessions.GetByID(dbctx.Context{Ctx: ctx}, sessionID)
	if err != nil {
		return nil, err
	}
	return &Progress{
		SessionID: session.ID,
		Status:    session.Status,
		Stage:     types.StageForStatus(session.Status),
		Terminal:  types.SessionTerminal(session.Status),
	}, nil
}

// sessionPreset returns the stage configs snapshotted at admission, falling
// back to the preset table for rows that predate snapshotting.
func (e *engine) sessionPreset(session *types.DeliberationSession) config.Preset {
	if len(session.StageConfigs) > 0 {
		var preset config.Preset
		if err := json.Unmarshal(session.StageConfigs, &preset); err == nil {
			return preset
		}
		e.log.Warn("unreadable stage config snapshot, using preset table",
			"session_id", session.ID.String(),
			"preset", session.Preset)
	}
	if preset, ok := e.cfg.Preset(session.Preset); ok {
		return preset
	}
	if preset, ok := e.cfg.Preset("balanced"); ok {
		return preset
	}
	return config.Preset{}
}

// seatEmitter forwards seat settlements as events; it runs on seat goroutines.
func (e *engine) seatEmitter(ctx context.Context, session *types.DeliberationSession, stage int) func(fanout.SeatOutcome) {
	if e.notifier == nil {
		return nil
	}
	return func(outcome fanout.SeatOutcome) {
		data := map[string]any{
			"seat":     outcome.Seat.Index,
			"attempts": outcome.Attempts,
			"ok":       outcome.Response != nil,
		}
		if outcome.Response != nil {
			data["model"] = outcome.Response.ModelID
			data["latency_ms"] = outcome.Response.LatencyMS
		}
		e.emit(ctx, session, stage, EventSeatSettled, data)
	}
}

func (e *engine) emit(ctx context.Context, session *types.DeliberationSession, stage int, status string, data map[string]any) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, StageEvent{
		SessionID: session.ID,
		TenantID:  session.TenantID,
		Stage:     stage,
		Status:    status,
		Data:      data,
	})
}

func pipelineFatal(err error) bool {
	var cfgErr *councilerr.ConfigurationError
	var exhausted *councilerr.StageExhaustedError
	return errors.As(err, &cfgErr) || errors.As(err, &exhausted)
}

// failureReason maps a fatal stage error to the user-facing reason. Raw
// upstream error text never lands on the session row.
func failureReason(stage int, err error) string {
	var cfgErr *councilerr.ConfigurationError
	if errors.As(err, &cfgErr) {
		return fmt.Sprintf("no model chain configured for role %q", cfgErr.Role)
	}
	var exhausted *councilerr.StageExhaustedError
	if errors.As(err, &exhausted) {
		switch stage {
		case types.StageDeliberation:
			return "every council seat exhausted its fallback chain"
		case types.StageReview:
			return "every reviewer seat exhausted its fallback chain"
		default:
			return "the chairman exhausted its fallback chain"
		}
	}
	return "internal pipeline error"
}
