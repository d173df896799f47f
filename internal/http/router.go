package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/roundtablehq/roundtable-backend/internal/http/handlers"
	"github.com/roundtablehq/roundtable-backend/internal/http/middleware"
	"github.com/roundtablehq/roundtable-backend/internal/observability"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log     *logger.Logger
	Metrics *observability.Metrics

	TenantMiddleware *middleware.TenantMiddleware

	HealthHandler   *handlers.HealthHandler
	SessionHandler  *handlers.SessionHandler
	RealtimeHandler *handlers.RealtimeHandler
	RegistryHandler *handlers.RegistryHandler
	UsageHandler    *handlers.UsageHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Log != nil {
		r.Use(middleware.RequestLogger(cfg.Log))
	}
	// otelgin opens the server span; AttachTraceContext then reads its
	// trace id for response headers and log correlation.
	r.Use(otelgin.Middleware("roundtable-backend"))
	r.Use(middleware.AttachTraceContext())
	r.Use(middleware.Metrics(cfg.Metrics))
	r.Use(middleware.CORS())

	// Health and metrics stay outside the tenant gate so probes and
	// scrapers need no headers.
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.Live)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/api")
	if cfg.TenantMiddleware != nil {
		api.Use(cfg.TenantMiddleware.RequireTenant())
	}
	{
		// Deliberations
		if cfg.SessionHandler != nil {
			api.POST("/deliberations", cfg.SessionHandler.Create)
			api.GET("/deliberations", cfg.SessionHandler.List)
			api.GET("/deliberations/:id", cfg.SessionHandler.Get)
			api.GET("/deliberations/:id/responses", cfg.SessionHandler.ListResponses)
			api.GET("/deliberations/:id/verdicts", cfg.SessionHandler.ListVerdicts)
			api.POST("/deliberations/:id/cancel", cfg.SessionHandler.Cancel)
		}

		// Realtime (SSE)
		if cfg.RealtimeHandler != nil {
			api.GET("/deliberations/:id/events", cfg.RealtimeHandler.StreamSessionEvents)
		}

		// Model registry
		if cfg.RegistryHandler != nil {
			api.GET("/registry/roles", cfg.RegistryHandler.ListRoles)
			api.PUT("/registry/roles/:role", cfg.RegistryHandler.ReplaceRole)
		}

		// Usage
		if cfg.UsageHandler != nil {
			api.GET("/usage/current", cfg.UsageHandler.Current)
		}
	}

	return r
}
