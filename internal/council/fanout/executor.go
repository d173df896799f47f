// Package fanout runs one pipeline stage across its council seats. Seats
// execute concurrently; within a seat the resolved fallback chain advances
// sequentially, one model at a time, until a call succeeds or the chain runs
// out. Every upstream attempt persists as exactly one model_response row,
// failed fallback hops included.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roundtablehq/roundtable-backend/internal/config"
	"github.com/roundtablehq/roundtable-backend/internal/council/backend"
	"github.com/roundtablehq/roundtable-backend/internal/council/councilerr"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/observability"
	"github.com/roundtablehq/roundtable-backend/internal/pkg/dbctx"
	"github.com/roundtablehq/roundtable-backend/internal/platform/envutil"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
	"github.com/roundtablehq/roundtable-backend/internal/registry"
)

// Seat is one concurrent position in a stage panel. The caller builds the
// prompts; the executor only decides which model answers them.
type Seat struct {
	Index        int
	Role         types.Role
	SystemPrompt string
	UserContent  string
}

// SeatOutcome is the settled state of one seat. Response is the winning
// attempt row, nil when the whole chain failed. Err holds the last backend
// error for failed seats.
type SeatOutcome struct {
	Seat     Seat
	Response *types.ModelResponse
	Attempts int
	Err      error
}

// StageResult carries seat outcomes in seat-index order plus every persisted
// attempt row. Partial success is a normal result, not an error.
type StageResult struct {
	Stage int
	Seats []SeatOutcome
	Rows  []*types.ModelResponse
}

// Successes returns the winning rows in seat-index order.
func (r *StageResult) Successes() []*types.ModelResponse {
	out := make([]*types.ModelResponse, 0, len(r.Seats))
	for _, seat := range r.Seats {
		if seat.Response != nil {
			out = append(out, seat.Response)
		}
	}
	return out
}

// StageCall describes one stage execution. OnSeat, when set, fires as each
// seat settles and is invoked from seat goroutines, so it must be safe for
// concurrent use.
type StageCall struct {
	Session *types.DeliberationSession
	Stage   int
	Config  config.StageConfig
	Seats   []Seat
	OnSeat  func(SeatOutcome)
}

type Executor interface {
	// RunStage executes every seat and persists all attempt rows before
	// returning. Zero seat successes yield the persisted StageResult plus a
	// *councilerr.StageExhaustedError.
	RunStage(ctx context.Context, call StageCall) (*StageResult, error)
}

type executor struct {
	client    backend.Client
	resolver  registry.Resolver
	responses repos.ResponseRepo
	cfg       *config.Council
	log       *logger.Logger
	maxConc   int
}

func NewExecutor(client backend.Client, resolver registry.Resolver, responses repos.ResponseRepo, cfg *config.Council, baseLog *logger.Logger) Executor {
	maxConc := envutil.Int("STAGE_MAX_CONCURRENCY", 8)
	if maxConc < 1 {
		maxConc = 8
	}
	return &executor{
		client:    client,
		resolver:  resolver,
		responses: responses,
		cfg:       cfg,
		log:       baseLog.With("component", "stage_executor"),
		maxConc:   maxConc,
	}
}

func (e *executor) RunStage(ctx context.Context, call StageCall) (*StageResult, error) {
	if call.Session == nil {
		return nil, fmt.Errorf("fanout: missing session")
	}
	if len(call.Seats) == 0 {
		return nil, fmt.Errorf("fanout: no seats for stage %d", call.Stage)
	}

	chains := make(map[types.Role][]registry.ChainLink, 2)
	for _, seat := range call.Seats {
		if _, ok := chains[seat.Role]; ok {
			continue
		}
		links, err := e.resolver.Resolve(ctx, call.Session.TenantID, seat.Role)
		if err != nil {
			return nil, err
		}
		chains[seat.Role] = links
	}

	started := time.Now()
	stageCtx, cancel := context.WithTimeout(ctx, e.cfg.StageDeadline(call.Stage))
	defer cancel()

	outcomes := make([]SeatOutcome, len(call.Seats))
	attempts := make([][]*types.ModelResponse, len(call.Seats))

	g, gctx := errgroup.WithContext(stageCtx)
	g.SetLimit(e.maxConc)
	for i, seat := range call.Seats {
		i, seat := i, seat
		g.Go(func() error {
			rows, outcome := e.runSeat(gctx, call, seat, chains[seat.Role])
			attempts[i] = rows
			outcomes[i] = outcome
			if call.OnSeat != nil {
				call.OnSeat(outcome)
			}
			// Seat failures are data, not group errors; one seat must never
			// cancel its siblings.
			return nil
		})
	}
	_ = g.Wait()

	all := make([]*types.ModelResponse, 0, len(call.Seats)*2)
	for _, rows := range attempts {
		all = append(all, rows...)
	}

	// Persist outside the stage's cancellation scope: neither the deadline
	// nor a user cancel may cost us the accounting rows for calls that
	// already happened.
	if _, err := e.responses.CreateBatch(dbctx.Context{Ctx: context.WithoutCancel(ctx)}, all); err != nil {
		return nil, err
	}

	succeeded := 0
	for _, outcome := range outcomes {
		if outcome.Response != nil {
			succeeded++
		}
	}

	elapsed := time.Since(started)
	if metrics := observability.Current(); metrics != nil {
		metrics.ObserveStage(call.Stage, stageStatus(succeeded, len(call.Seats)), elapsed)
		for _, outcome := range outcomes {
			metrics.IncSeatOutcome(call.Stage, seatLabel(outcome))
		}
	}

	result := &StageResult{Stage: call.Stage, Seats: outcomes, Rows: all}
	if succeeded == 0 {
		e.log.Warn("stage exhausted, no seat produced a response",
			"session_id", call.Session.ID.String(),
			"stage", call.Stage,
			"seats", len(call.Seats),
			"attempts", len(all))
		return result, &councilerr.StageExhaustedError{Stage: call.Stage, Seats: len(call.Seats)}
	}

	e.log.Info("stage complete",
		"session_id", call.Session.ID.String(),
		"stage", call.Stage,
		"seats", len(call.Seats),
		"succeeded", succeeded,
		"attempts", len(all),
		"elapsed_ms", elapsed.Milliseconds())
	return result, nil
}

func (e *executor) runSeat(ctx context.Context, call StageCall, seat Seat, chain []registry.ChainLink) ([]*types.ModelResponse, SeatOutcome) {
	rows := make([]*types.ModelResponse, 0, 2)
	outcome := SeatOutcome{Seat: seat}

	for _, link := range chain {
		res, err := e.client.Generate(ctx, backend.CallInput{
			ModelID:      link.ModelID,
			SystemPrompt: seat.SystemPrompt,
			UserContent:  seat.UserContent,
			Temperature:  call.Config.Temperature,
			MaxTokens:    call.Config.MaxTokens,
		})
		outcome.Attempts++

		row := &types.ModelResponse{
			SessionID:    call.Session.ID,
			Stage:        call.Stage,
			SeatIndex:    seat.Index,
			ModelID:      link.ModelID,
			RolePriority: link.Priority,
			TokensIn:     res.TokensIn,
			TokensOut:    res.TokensOut,
			CostCents:    res.CostCents,
			LatencyMS:    res.LatencyMS,
		}

		if err == nil {
			row.Content = res.Content
			row.Outcome = types.OutcomeOK
			rows = append(rows, row)
			outcome.Response = row
			return rows, outcome
		}

		row.Outcome = attemptOutcome(err)
		rows = append(rows, row)
		outcome.Err = err
		e.log.Warn("seat attempt failed",
			"session_id", call.Session.ID.String(),
			"stage", call.Stage,
			"seat", seat.Index,
			"model", link.ModelID,
			"priority", link.Priority,
			"outcome", row.Outcome,
			"error", err)

		if ctx.Err() != nil {
			// Out of stage time; every remaining link would fail identically.
			return rows, outcome
		}
	}

	rows = append(rows, &types.ModelResponse{
		SessionID:    call.Session.ID,
		Stage:        call.Stage,
		SeatIndex:    seat.Index,
		RolePriority: len(chain),
		Outcome:      types.OutcomeChainExhausted,
	})
	return rows, outcome
}

func stageStatus(succeeded, seats int) string {
	switch {
	case succeeded == 0:
		return "exhausted"
	case succeeded < seats:
		return "partial"
	default:
		return "ok"
	}
}

func seatLabel(outcome SeatOutcome) string {
	if outcome.Response != nil {
		return "ok"
	}
	if attemptOutcome(outcome.Err) == types.OutcomeTimeout {
		return "timeout"
	}
	return "exhausted"
}

func attemptOutcome(err error) string {
	var be *councilerr.BackendError
	if errors.As(err, &be) && be.Kind == councilerr.KindTimeout {
		return types.OutcomeTimeout
	}
	return types.OutcomeError
}
