package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/roundtablehq/roundtable-backend/internal/config"
	"github.com/roundtablehq/roundtable-backend/internal/council/councilerr"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos/repoerr"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos/testutil"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/pkg/dbctx"
	"github.com/roundtablehq/roundtable-backend/internal/quota"
)

type stubStarter struct {
	err   error
	calls []uuid.UUID
}

func (s *stubStarter) StartDeliberation(_ context.Context, session *types.DeliberationSession) error {
	s.calls = append(s.calls, session.ID)
	return s.err
}

type sessionEnv struct {
	ctx     context.Context
	dbc     dbctx.Context
	tx      *gorm.DB
	tenant  *types.Tenant
	tenants repos.TenantRepo
	usage   repos.UsageRepo
	svc     SessionService
	cfg     *config.Council
}

func councilConfigForTests() *config.Council {
	return &config.Council{
		Presets: map[string]config.Preset{
			"balanced": {
				Stage1: config.StageConfig{Temperature: 0.7, MaxTokens: 1536},
				Stage2: config.StageConfig{Temperature: 0.2, MaxTokens: 768},
				Stage3: config.StageConfig{Temperature: 0.5, MaxTokens: 2048},
			},
			"creative": {
				Stage1: config.StageConfig{Temperature: 1.0, MaxTokens: 2048},
				Stage2: config.StageConfig{Temperature: 0.3, MaxTokens: 768},
				Stage3: config.StageConfig{Temperature: 0.8, MaxTokens: 2048},
			},
		},
		Panels: map[types.Role]int{
			types.RolePrimaryDeliberator: 3,
			types.RoleReviewer:           3,
			types.RoleChairman:           1,
		},
		DefaultChains:  map[types.Role][]string{},
		Prices:         map[string]config.ModelPrice{},
		StageDeadlines: map[int]time.Duration{},
	}
}

func newSessionEnv(t *testing.T, starter WorkflowStarter) *sessionEnv {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)

	tenant := testutil.SeedTenant(t, ctx, tx, 5, 10000)

	sessions := repos.NewSessionRepo(tx, log)
	responses := repos.NewResponseRepo(tx, log)
	verdicts := repos.NewVerdictRepo(tx, log)
	tenants := repos.NewTenantRepo(tx, log)
	usage := repos.NewUsageRepo(tx, log)
	guard := quota.NewGuard(tenants, usage, log)
	cfg := councilConfigForTests()

	svc := NewSessionService(sessions, responses, verdicts, guard, cfg, starter, log)

	return &sessionEnv{
		ctx:     ctx,
		dbc:     dbctx.Context{Ctx: ctx},
		tx:      tx,
		tenant:  tenant,
		tenants: tenants,
		usage:   usage,
		svc:     svc,
		cfg:     cfg,
	}
}

func (env *sessionEnv) queriesUsed(t *testing.T) int64 {
	t.Helper()
	counter, err := env.usage.Get(env.dbc, env.tenant.ID, types.PeriodStartFor(time.Now().UTC()))
	if err != nil {
		t.Fatalf("usage Get: %v", err)
	}
	if counter == nil {
		return 0
	}
	return counter.QueriesUsed
}

func TestCreateDeliberationAdmits(t *testing.T) {
	env := newSessionEnv(t, nil)

	session, err := env.svc.CreateDeliberation(env.ctx, env.tenant.ID, CreateDeliberationInput{
		Question: "  should we sunset the legacy plan?  ",
	})
	if err != nil {
		t.Fatalf("CreateDeliberation: %v", err)
	}
	if session.Status != types.SessionPending {
		t.Fatalf("Status = %q, want pending", session.Status)
	}
	if session.Question != "should we sunset the legacy plan?" {
		t.Fatalf("Question = %q, want trimmed", session.Question)
	}
	if session.Preset != "balanced" {
		t.Fatalf("Preset = %q, want balanced default", session.Preset)
	}
	if !session.AnonymizeReview {
		t.Fatal("AnonymizeReview should default to true")
	}
	if session.PeriodStart != types.PeriodStartFor(time.Now().UTC()) {
		t.Fatalf("PeriodStart = %v", session.PeriodStart)
	}

	var snapshot config.Preset
	if err := json.Unmarshal(session.StageConfigs, &snapshot); err != nil {
		t.Fatalf("StageConfigs: %v", err)
	}
	if snapshot != env.cfg.Presets["balanced"] {
		t.Fatalf("snapshot = %+v, want balanced preset", snapshot)
	}

	if used := env.queriesUsed(t); used != 1 {
		t.Fatalf("queries_used = %d, want 1", used)
	}
}

func TestCreateDeliberationValidatesBeforeAdmission(t *testing.T) {
	env := newSessionEnv(t, nil)

	if _, err := env.svc.CreateDeliberation(env.ctx, env.tenant.ID, CreateDeliberationInput{Question: "   "}); !errors.Is(err, ErrQuestionRequired) {
		t.Fatalf("empty question err = %v", err)
	}
	if _, err := env.svc.CreateDeliberation(env.ctx, env.tenant.ID, CreateDeliberationInput{
		Question: "fine question", Preset: "galaxy_brain",
	}); !errors.Is(err, ErrUnknownPreset) {
		t.Fatalf("unknown preset err = %v", err)
	}

	long := make([]byte, maxQuestionChars+1)
	for i := range long {
		long[i] = 'q'
	}
	if _, err := env.svc.CreateDeliberation(env.ctx, env.tenant.ID, CreateDeliberationInput{Question: string(long)}); !errors.Is(err, ErrQuestionTooLong) {
		t.Fatalf("oversized question err = %v", err)
	}

	// None of the rejected requests may touch the quota.
	if used := env.queriesUsed(t); used != 0 {
		t.Fatalf("queries_used = %d after rejected input, want 0", used)
	}
}

func TestCreateDeliberationDeniedSuspended(t *testing.T) {
	env := newSessionEnv(t, nil)
	if err := env.tenants.SetStatus(env.dbc, env.tenant.ID, types.TenantSuspended); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	_, err := env.svc.CreateDeliberation(env.ctx, env.tenant.ID, CreateDeliberationInput{Question: "any"})
	var denied *councilerr.AdmissionDenied
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want AdmissionDenied", err)
	}
	if denied.Reason != councilerr.DenySuspended {
		t.Fatalf("Reason = %q", denied.Reason)
	}
}

func TestCreateDeliberationHonorsAnonymizeFlag(t *testing.T) {
	env := newSessionEnv(t, nil)

	off := false
	session, err := env.svc.CreateDeliberation(env.ctx, env.tenant.ID, CreateDeliberationInput{
		Question:        "who reviews the reviewers",
		Preset:          "creative",
		AnonymizeReview: &off,
	})
	if err != nil {
		t.Fatalf("CreateDeliberation: %v", err)
	}
	if session.AnonymizeReview {
		t.Fatal("AnonymizeReview = true, want false")
	}
	if session.Preset != "creative" {
		t.Fatalf("Preset = %q", session.Preset)
	}
}

func TestCreateDeliberationStartsWorkflow(t *testing.T) {
	starter := &stubStarter{}
	env := newSessionEnv(t, starter)

	session, err := env.svc.CreateDeliberation(env.ctx, env.tenant.ID, CreateDeliberationInput{Question: "expand or entrench"})
	if err != nil {
		t.Fatalf("CreateDeliberation: %v", err)
	}
	if len(starter.calls) != 1 || starter.calls[0] != session.ID {
		t.Fatalf("starter calls = %v", starter.calls)
	}
}

func TestCreateDeliberationWorkflowStartFailure(t *testing.T) {
	starter := &stubStarter{err: errors.New("namespace unavailable")}
	env := newSessionEnv(t, starter)

	_, err := env.svc.CreateDeliberation(env.ctx, env.tenant.ID, CreateDeliberationInput{Question: "expand or entrench"})
	if err == nil {
		t.Fatal("want error when the workflow cannot start")
	}
	// Admission happened before the failure; the reservation stands.
	if used := env.queriesUsed(t); used != 1 {
		t.Fatalf("queries_used = %d, want 1", used)
	}
}

func TestSessionLookupsAreTenantScoped(t *testing.T) {
	env := newSessionEnv(t, nil)
	other := testutil.SeedTenant(t, env.ctx, env.tx, 5, 10000)
	session := testutil.SeedSession(t, env.ctx, env.tx, env.tenant.ID, types.SessionPending)

	if _, err := env.svc.GetSession(env.ctx, env.tenant.ID, session.ID); err != nil {
		t.Fatalf("own session: %v", err)
	}
	if _, err := env.svc.GetSession(env.ctx, other.ID, session.ID); !errors.Is(err, repoerr.ErrNotFound) {
		t.Fatalf("foreign session err = %v, want ErrNotFound", err)
	}
	if _, err := env.svc.ListResponses(env.ctx, other.ID, session.ID); !errors.Is(err, repoerr.ErrNotFound) {
		t.Fatalf("foreign responses err = %v, want ErrNotFound", err)
	}
	if _, err := env.svc.ListVerdicts(env.ctx, other.ID, session.ID); !errors.Is(err, repoerr.ErrNotFound) {
		t.Fatalf("foreign verdicts err = %v, want ErrNotFound", err)
	}
}

func TestCancelSession(t *testing.T) {
	env := newSessionEnv(t, nil)
	running := testutil.SeedSession(t, env.ctx, env.tx, env.tenant.ID, types.SessionStage2Running)
	settled := testutil.SeedSession(t, env.ctx, env.tx, env.tenant.ID, types.SessionCompleted)

	if err := env.svc.CancelSession(env.ctx, env.tenant.ID, running.ID); err != nil {
		t.Fatalf("cancel running: %v", err)
	}
	got, err := env.svc.GetSession(env.ctx, env.tenant.ID, running.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !got.CancelRequested {
		t.Fatal("CancelRequested not set")
	}

	if err := env.svc.CancelSession(env.ctx, env.tenant.ID, settled.ID); !errors.Is(err, ErrSessionTerminal) {
		t.Fatalf("cancel settled err = %v, want ErrSessionTerminal", err)
	}
	if err := env.svc.CancelSession(env.ctx, env.tenant.ID, uuid.New()); !errors.Is(err, repoerr.ErrNotFound) {
		t.Fatalf("cancel unknown err = %v, want ErrNotFound", err)
	}
}
