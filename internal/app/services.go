package app

import (
	"github.com/roundtablehq/roundtable-backend/internal/config"
	"github.com/roundtablehq/roundtable-backend/internal/council/fanout"
	"github.com/roundtablehq/roundtable-backend/internal/council/pipeline"
	"github.com/roundtablehq/roundtable-backend/internal/council/ranking"
	"github.com/roundtablehq/roundtable-backend/internal/council/runner"
	"github.com/roundtablehq/roundtable-backend/internal/council/synthesis"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
	"github.com/roundtablehq/roundtable-backend/internal/quota"
	"github.com/roundtablehq/roundtable-backend/internal/realtime"
	"github.com/roundtablehq/roundtable-backend/internal/registry"
	"github.com/roundtablehq/roundtable-backend/internal/services"
	"github.com/roundtablehq/roundtable-backend/internal/temporalx/deliberation"
	"github.com/roundtablehq/roundtable-backend/internal/temporalx/temporalworker"
)

type Services struct {
	Resolver registry.Resolver
	Guard    quota.Guard
	Engine   pipeline.Orchestrator

	Sessions services.SessionService
	Registry services.RegistryService
	Usage    services.UsageService

	Runner         *runner.Runner         // nil when Temporal drives sessions
	TemporalWorker *temporalworker.Runner // nil without a Temporal client
}

func wireServices(
	log *logger.Logger,
	cfg Config,
	councilCfg *config.Council,
	clients Clients,
	reposet Repos,
	hub *realtime.SSEHub,
) (Services, error) {
	resolver := registry.NewResolver(reposet.Registry, councilCfg, log)
	guard := quota.NewGuard(reposet.Tenants, reposet.Usage, log)

	executor := fanout.NewExecutor(clients.Backend, resolver, reposet.Responses, councilCfg, log)
	aggregator := ranking.NewAggregator(executor, reposet.Verdicts, log)
	synth := synthesis.NewSynthesizer(executor, log)

	notifier := services.NewSessionNotifier(hub, clients.EventBus, log)
	engine := pipeline.NewEngine(
		reposet.Sessions,
		reposet.Responses,
		reposet.Verdicts,
		executor,
		aggregator,
		synth,
		guard,
		councilCfg,
		notifier,
		log,
	)

	// With Temporal configured, admission hands sessions to a workflow and
	// the claim loop stays off; otherwise the in-process runner drives them.
	var starter services.WorkflowStarter
	var temporalWorker *temporalworker.Runner
	var sessionRunner *runner.Runner
	if clients.Temporal != nil {
		st, err := deliberation.NewStarter(clients.Temporal, log)
		if err != nil {
			return Services{}, err
		}
		starter = st
		temporalWorker, err = temporalworker.NewRunner(log, clients.Temporal, engine)
		if err != nil {
			return Services{}, err
		}
	} else if cfg.RunnerEnabled {
		sessionRunner = runner.New(reposet.Sessions, engine, log)
	}

	sessionService := services.NewSessionService(
		reposet.Sessions,
		reposet.Responses,
		reposet.Verdicts,
		guard,
		councilCfg,
		starter,
		log,
	)
	registryService := services.NewRegistryService(reposet.Registry, resolver, councilCfg, log)
	usageService := services.NewUsageService(guard, log)

	return Services{
		Resolver:       resolver,
		Guard:          guard,
		Engine:         engine,
		Sessions:       sessionService,
		Registry:       registryService,
		Usage:          usageService,
		Runner:         sessionRunner,
		TemporalWorker: temporalWorker,
	}, nil
}
