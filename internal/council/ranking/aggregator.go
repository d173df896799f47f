package ranking

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/roundtablehq/roundtable-backend/internal/config"
	"github.com/roundtablehq/roundtable-backend/internal/council/fanout"
	"github.com/roundtablehq/roundtable-backend/internal/council/prompts"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/observability"
	"github.com/roundtablehq/roundtable-backend/internal/pkg/dbctx"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
)

// ReviewInput is everything the peer-review stage needs. Candidates are the
// Stage-1 winning rows in seat order; their position is the number reviewers
// rank by.
type ReviewInput struct {
	Session    *types.DeliberationSession
	Candidates []*types.ModelResponse
	Config     config.StageConfig
	PanelSize  int
	OnSeat     func(fanout.SeatOutcome)
}

// ReviewResult is the stage's fold. Order lists the candidate rows best
// first and Scores[i] is the standing of Order[i], with CandidateIndex
// pointing back at the Stage-1 position. Fallback marks the quality event
// where every ballot was discarded and the order is the Stage-1 seat order.
type ReviewResult struct {
	Order    []*types.ModelResponse
	Verdicts []*types.RankingVerdict
	Scores   []Score
	Fallback bool
}

// Aggregator runs the review stage end to end: reviewer fan-out, strict
// ballot parsing, verdict persistence, then the Borda fold.
type Aggregator interface {
	Run(ctx context.Context, in ReviewInput) (*ReviewResult, error)
}

type aggregator struct {
	exec     fanout.Executor
	verdicts repos.VerdictRepo
	log      *logger.Logger
}

func NewAggregator(exec fanout.Executor, verdicts repos.VerdictRepo, baseLog *logger.Logger) Aggregator {
	return &aggregator{
		exec:     exec,
		verdicts: verdicts,
		log:      baseLog.With("service", "RankingAggregator"),
	}
}

func (a *aggregator) Run(ctx context.Context, in ReviewInput) (*ReviewResult, error) {
	if in.Session == nil {
		return nil, fmt.Errorf("ranking: missing session")
	}
	if len(in.Candidates) == 0 {
		return nil, fmt.Errorf("ranking: no candidates to review")
	}
	if in.PanelSize < 1 {
		return nil, fmt.Errorf("ranking: panel size %d", in.PanelSize)
	}

	answers := make([]string, 0, len(in.Candidates))
	for _, c := range in.Candidates {
		answers = append(answers, c.Content)
	}
	var attributions []string
	if !in.Session.AnonymizeReview {
		for _, c := range in.Candidates {
			attributions = append(attributions, c.ModelID)
		}
	}
	system, user := prompts.Review(in.Session.Question, answers, attributions)

	seats := make([]fanout.Seat, 0, in.PanelSize)
	for i := 0; i < in.PanelSize; i++ {
		seats = append(seats, fanout.Seat{
			Index:        i,
			Role:         types.RoleReviewer,
			SystemPrompt: system,
			UserContent:  user,
		})
	}

	stage, err := a.exec.RunStage(ctx, fanout.StageCall{
		Session: in.Session,
		Stage:   types.StageReview,
		Config:  in.Config,
		Seats:   seats,
		OnSeat:  in.OnSeat,
	})
	if err != nil {
		// Zero reviewers even answered; unlike a parse wipeout this fails the
		// session, so it propagates to the state machine.
		return nil, err
	}

	k := len(in.Candidates)
	ballots := make([][]int, 0, len(stage.Seats))
	rows := make([]*types.RankingVerdict, 0, len(stage.Seats))
	for _, seat := range stage.Seats {
		if seat.Response == nil {
			continue
		}
		parsed, rawScores, ok := ParseVerdict(seat.Response.Content, k)
		row := &types.RankingVerdict{
			SessionID:         in.Session.ID,
			ReviewerSeatIndex: seat.Seat.Index,
			ReviewerModelID:   seat.Response.ModelID,
			ParseOK:           ok,
			RankedResponseIDs: datatypes.JSON([]byte("[]")),
		}
		if ok {
			ids := make([]uuid.UUID, 0, k)
			for _, c := range parsed {
				ids = append(ids, in.Candidates[c].ID)
			}
			row.RankedResponseIDs = toJSON(ids)
			if len(rawScores) > 0 {
				row.RawScoreMap = toJSON(rawScores)
			}
			ballots = append(ballots, parsed)
		} else {
			a.log.Warn("reviewer verdict discarded",
				"session_id", in.Session.ID.String(),
				"seat", seat.Seat.Index,
				"model", seat.Response.ModelID)
		}
		if metrics := observability.Current(); metrics != nil {
			metrics.IncVerdictParse(ok)
		}
		rows = append(rows, row)
	}

	if _, err := a.verdicts.CreateBatch(dbctx.Context{Ctx: ctx}, rows); err != nil {
		return nil, err
	}

	agg := Aggregate(k, ballots)
	if agg.Fallback {
		a.log.Warn("every reviewer ballot discarded, using seat order",
			"session_id", in.Session.ID.String(),
			"reviewers", len(rows))
		if metrics := observability.Current(); metrics != nil {
			metrics.IncAggregationFallback()
		}
	}

	order := make([]*types.ModelResponse, 0, k)
	ranked := make([]Score, 0, k)
	for _, c := range agg.Order {
		order = append(order, in.Candidates[c])
		ranked = append(ranked, agg.Scores[c])
	}

	a.log.Info("review stage aggregated",
		"session_id", in.Session.ID.String(),
		"candidates", k,
		"ballots", len(ballots),
		"discarded", len(rows)-len(ballots),
		"fallback", agg.Fallback)

	return &ReviewResult{
		Order:    order,
		Verdicts: rows,
		Scores:   ranked,
		Fallback: agg.Fallback,
	}, nil
}

func toJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte("null"))
	}
	return datatypes.JSON(b)
}
