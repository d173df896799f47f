// Package synthesis runs the chairman stage. One seat drafts the council's
// final answer from the ranked Stage-1 content plus a compact account of the
// Stage-2 review. With a single seat the fallback chain degenerates to
// sequential retry, and chain exhaustion fails the whole session.
package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/roundtablehq/roundtable-backend/internal/config"
	"github.com/roundtablehq/roundtable-backend/internal/council/councilerr"
	"github.com/roundtablehq/roundtable-backend/internal/council/fanout"
	"github.com/roundtablehq/roundtable-backend/internal/council/prompts"
	"github.com/roundtablehq/roundtable-backend/internal/council/ranking"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
)

type Input struct {
	Session *types.DeliberationSession
	Review  *ranking.ReviewResult
	Config  config.StageConfig
	OnSeat  func(fanout.SeatOutcome)
}

type Result struct {
	FinalAnswer string
	Response    *types.ModelResponse
}

type Synthesizer interface {
	Run(ctx context.Context, in Input) (*Result, error)
}

type synthesizer struct {
	exec fanout.Executor
	log  *logger.Logger
}

func NewSynthesizer(exec fanout.Executor, baseLog *logger.Logger) Synthesizer {
	return &synthesizer{
		exec: exec,
		log:  baseLog.With("service", "Synthesizer"),
	}
}

func (s *synthesizer) Run(ctx context.Context, in Input) (*Result, error) {
	if in.Session == nil {
		return nil, fmt.Errorf("synthesis: missing session")
	}
	if in.Review == nil || len(in.Review.Order) == 0 {
		return nil, fmt.Errorf("synthesis: nothing to synthesize")
	}

	answers := make([]string, 0, len(in.Review.Order))
	for _, row := range in.Review.Order {
		answers = append(answers, row.Content)
	}
	system, user := prompts.Synthesis(in.Session.Question, answers, buildRationale(in.Review))

	stage, err := s.exec.RunStage(ctx, fanout.StageCall{
		Session: in.Session,
		Stage:   types.StageSynthesis,
		Config:  in.Config,
		Seats: []fanout.Seat{{
			Index:        0,
			Role:         types.RoleChairman,
			SystemPrompt: system,
			UserContent:  user,
		}},
		OnSeat: in.OnSeat,
	})
	if err != nil {
		return nil, err
	}

	winner := stage.Seats[0].Response
	if winner == nil {
		return nil, &councilerr.StageExhaustedError{Stage: types.StageSynthesis, Seats: 1}
	}

	s.log.Info("final answer synthesized",
		"session_id", in.Session.ID.String(),
		"model", winner.ModelID,
		"answer_chars", len(winner.Content))
	return &Result{FinalAnswer: winner.Content, Response: winner}, nil
}

// buildRationale condenses the review stage into a couple of sentences for
// the chairman. Raw verdict JSON never reaches the prompt.
func buildRationale(review *ranking.ReviewResult) string {
	if review.Fallback {
		return fmt.Sprintf("0 of %d reviewer ballots were usable; the answers appear in their original seat order.", len(review.Verdicts))
	}

	valid := 0
	for _, v := range review.Verdicts {
		if v.ParseOK {
			valid++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d reviewer ballots were usable.", valid, len(review.Verdicts))
	if len(review.Scores) > 1 {
		fmt.Fprintf(&b, " The top answer holds a consensus score of %d against %d for the runner-up.",
			review.Scores[0].Borda, review.Scores[1].Borda)
	}
	return b.String()
}
