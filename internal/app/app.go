// Package app wires the deliberation backend: config, database, clients,
// repos, services, and the HTTP surface. cmd/server owns the process
// lifecycle; everything here is construction.
package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/roundtablehq/roundtable-backend/internal/config"
	"github.com/roundtablehq/roundtable-backend/internal/data/db"
	councilhttp "github.com/roundtablehq/roundtable-backend/internal/http"
	"github.com/roundtablehq/roundtable-backend/internal/http/middleware"
	"github.com/roundtablehq/roundtable-backend/internal/observability"
	"github.com/roundtablehq/roundtable-backend/internal/platform/envutil"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
	"github.com/roundtablehq/roundtable-backend/internal/realtime"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Council  *config.Council
	DB       *gorm.DB
	Clients  Clients
	Repos    Repos
	Services Services
	Handlers Handlers
	Hub      *realtime.SSEHub
	Metrics  *observability.Metrics
	Server   *councilhttp.Server

	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	cfg := LoadConfig()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	councilCfg := config.LoadCouncil(log)

	gdb, err := openDatabase(cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	metrics := observability.Init(log)
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "roundtable-backend",
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	clients, err := wireClients(log, councilCfg)
	if err != nil {
		log.Sync()
		return nil, err
	}

	hub := realtime.NewSSEHub(log)
	reposet := wireRepos(gdb, log)

	serviceset, err := wireServices(log, cfg, councilCfg, clients, reposet, hub)
	if err != nil {
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(log, gdb, serviceset, hub)

	server := councilhttp.NewServer(councilhttp.RouterConfig{
		Log:              log,
		Metrics:          metrics,
		TenantMiddleware: middleware.NewTenantMiddleware(log),
		HealthHandler:    handlerset.Health,
		SessionHandler:   handlerset.Session,
		RealtimeHandler:  handlerset.Realtime,
		RegistryHandler:  handlerset.Registry,
		UsageHandler:     handlerset.Usage,
	})

	return &App{
		Log:          log,
		Cfg:          cfg,
		Council:      councilCfg,
		DB:           gdb,
		Clients:      clients,
		Repos:        reposet,
		Services:     serviceset,
		Handlers:     handlerset,
		Hub:          hub,
		Metrics:      metrics,
		Server:       server,
		otelShutdown: otelShutdown,
	}, nil
}

// StartBackground launches the non-HTTP workers: the event-bus forwarder,
// the session driver (runner or Temporal worker), and metric collectors.
func (a *App) StartBackground(ctx context.Context) error {
	if a.Clients.EventBus != nil {
		if err := a.Clients.EventBus.StartForwarder(ctx, a.Hub.Broadcast); err != nil {
			return fmt.Errorf("start event bus forwarder: %w", err)
		}
	}

	if a.Services.TemporalWorker != nil {
		if err := a.Services.TemporalWorker.Start(ctx); err != nil {
			return fmt.Errorf("start temporal worker: %w", err)
		}
	}

	if a.Metrics != nil {
		a.Metrics.StartPostgresCollector(ctx, a.Log, a.DB)
		a.Metrics.StartSessionQueueCollector(ctx, a.Log, a.DB)
		if addr := envutil.String("REDIS_ADDR", ""); addr != "" {
			a.Metrics.StartRedisCollector(ctx, a.Log, addr)
		}
	}
	return nil
}

func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if a.Clients.EventBus != nil {
		_ = a.Clients.EventBus.Close()
	}
	if a.Clients.Temporal != nil {
		a.Clients.Temporal.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(ctx)
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

func openDatabase(cfg Config, log *logger.Logger) (*gorm.DB, error) {
	switch cfg.DBDriver {
	case "sqlite":
		svc, err := db.NewSqliteService(log)
		if err != nil {
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
		if err := svc.AutoMigrateAll(); err != nil {
			return nil, fmt.Errorf("sqlite automigrate: %w", err)
		}
		return svc.DB(), nil
	default:
		svc, err := db.NewPostgresService(log)
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		if err := svc.AutoMigrateAll(); err != nil {
			return nil, fmt.Errorf("postgres automigrate: %w", err)
		}
		return svc.DB(), nil
	}
}
