package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/roundtablehq/roundtable-backend/internal/config"
	"github.com/roundtablehq/roundtable-backend/internal/council/councilerr"
	"github.com/roundtablehq/roundtable-backend/internal/council/fanout"
	"github.com/roundtablehq/roundtable-backend/internal/council/ranking"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos/testutil"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
)

type fakeExec struct {
	call   fanout.StageCall
	result *fanout.StageResult
	err    error
}

func (f *fakeExec) RunStage(_ context.Context, call fanout.StageCall) (*fanout.StageResult, error) {
	f.call = call
	return f.result, f.err
}

func rankedRow(seat int, content string) *types.ModelResponse {
	return &types.ModelResponse{
		ID:        uuid.New(),
		Stage:     types.StageDeliberation,
		SeatIndex: seat,
		ModelID:   "prov/deliberator",
		Content:   content,
		Outcome:   types.OutcomeOK,
	}
}

func testSession() *types.DeliberationSession {
	return &types.DeliberationSession{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Question: "should we expand into the nordic market",
		Status:   types.SessionStage3Running,
	}
}

func TestSynthesizerRunsChairmanSeat(t *testing.T) {
	exec := &fakeExec{}
	exec.result = &fanout.StageResult{
		Stage: types.StageSynthesis,
		Seats: []fanout.SeatOutcome{{
			Seat: fanout.Seat{Index: 0, Role: types.RoleChairman},
			Response: &types.ModelResponse{
				ID:      uuid.New(),
				Stage:   types.StageSynthesis,
				ModelID: "prov/chairman",
				Content: "expand next quarter, starting with denmark",
				Outcome: types.OutcomeOK,
			},
		}},
	}

	syn := NewSynthesizer(exec, testutil.Logger(t))
	review := &ranking.ReviewResult{
		Order: []*types.ModelResponse{
			rankedRow(2, "bravo answer"),
			rankedRow(0, "alpha answer"),
		},
		Verdicts: []*types.RankingVerdict{
			{ParseOK: true},
			{ParseOK: true},
			{ParseOK: false},
		},
		Scores: []ranking.Score{
			{CandidateIndex: 1, Borda: 4},
			{CandidateIndex: 0, Borda: 2},
		},
	}

	res, err := syn.Run(context.Background(), Input{
		Session: testSession(),
		Review:  review,
		Config:  config.StageConfig{Temperature: 0.5, MaxTokens: 2048},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.FinalAnswer != "expand next quarter, starting with denmark" {
		t.Fatalf("answer=%q", res.FinalAnswer)
	}
	if exec.call.Stage != types.StageSynthesis || len(exec.call.Seats) != 1 {
		t.Fatalf("call=%+v", exec.call)
	}
	if exec.call.Seats[0].Role != types.RoleChairman {
		t.Fatalf("role=%s", exec.call.Seats[0].Role)
	}

	user := exec.call.Seats[0].UserContent
	first := strings.Index(user, "bravo answer")
	second := strings.Index(user, "alpha answer")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("ranked order lost in prompt:\n%s", user)
	}
	if !strings.Contains(user, "2 of 3 reviewer ballots were usable") {
		t.Fatalf("rationale missing:\n%s", user)
	}
	if !strings.Contains(user, "consensus score of 4 against 2") {
		t.Fatalf("score summary missing:\n%s", user)
	}
}

func TestSynthesizerFallbackRationale(t *testing.T) {
	exec := &fakeExec{}
	exec.result = &fanout.StageResult{
		Stage: types.StageSynthesis,
		Seats: []fanout.SeatOutcome{{
			Seat:     fanout.Seat{Index: 0, Role: types.RoleChairman},
			Response: &types.ModelResponse{ID: uuid.New(), ModelID: "prov/chairman", Content: "final"},
		}},
	}

	syn := NewSynthesizer(exec, testutil.Logger(t))
	review := &ranking.ReviewResult{
		Order:    []*types.ModelResponse{rankedRow(0, "alpha answer")},
		Verdicts: []*types.RankingVerdict{{ParseOK: false}, {ParseOK: false}},
		Scores:   []ranking.Score{{CandidateIndex: 0}},
		Fallback: true,
	}

	_, err := syn.Run(context.Background(), Input{Session: testSession(), Review: review})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(exec.call.Seats[0].UserContent, "0 of 2 reviewer ballots were usable") {
		t.Fatalf("fallback rationale missing:\n%s", exec.call.Seats[0].UserContent)
	}
}

func TestSynthesizerChainExhaustionFailsSession(t *testing.T) {
	exec := &fakeExec{err: &councilerr.StageExhaustedError{Stage: types.StageSynthesis, Seats: 1}}
	syn := NewSynthesizer(exec, testutil.Logger(t))

	_, err := syn.Run(context.Background(), Input{
		Session: testSession(),
		Review: &ranking.ReviewResult{
			Order:  []*types.ModelResponse{rankedRow(0, "alpha answer")},
			Scores: []ranking.Score{{CandidateIndex: 0}},
		},
	})

	var exhausted *councilerr.StageExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err=%v", err)
	}
	if exhausted.Stage != types.StageSynthesis {
		t.Fatalf("stage=%d", exhausted.Stage)
	}
}
