package app

import (
	"gorm.io/gorm"

	"github.com/roundtablehq/roundtable-backend/internal/http/handlers"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
	"github.com/roundtablehq/roundtable-backend/internal/realtime"
)

type Handlers struct {
	Health   *handlers.HealthHandler
	Session  *handlers.SessionHandler
	Realtime *handlers.RealtimeHandler
	Registry *handlers.RegistryHandler
	Usage    *handlers.UsageHandler
}

func wireHandlers(log *logger.Logger, db *gorm.DB, serviceset Services, hub *realtime.SSEHub) Handlers {
	return Handlers{
		Health:   handlers.NewHealthHandler(db),
		Session:  handlers.NewSessionHandler(serviceset.Sessions),
		Realtime: handlers.NewRealtimeHandler(log, hub, serviceset.Sessions),
		Registry: handlers.NewRegistryHandler(serviceset.Registry),
		Usage:    handlers.NewUsageHandler(serviceset.Usage),
	}
}
