package app

import (
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/roundtablehq/roundtable-backend/internal/config"
	"github.com/roundtablehq/roundtable-backend/internal/council/backend"
	"github.com/roundtablehq/roundtable-backend/internal/platform/envutil"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
	"github.com/roundtablehq/roundtable-backend/internal/platform/modelrouter"
	"github.com/roundtablehq/roundtable-backend/internal/realtime/bus"
	"github.com/roundtablehq/roundtable-backend/internal/temporalx"
)

type Clients struct {
	Backend  backend.Client
	Temporal temporalsdkclient.Client // nil unless TEMPORAL_ADDRESS is set
	EventBus bus.Bus                  // nil unless REDIS_ADDR is set
}

func wireClients(log *logger.Logger, councilCfg *config.Council) (Clients, error) {
	backendClient, err := modelrouter.New(log, councilCfg)
	if err != nil {
		return Clients{}, err
	}

	temporalClient, err := temporalx.NewClient(log)
	if err != nil {
		return Clients{}, err
	}

	var eventBus bus.Bus
	if envutil.String("REDIS_ADDR", "") != "" {
		eventBus, err = bus.NewRedisBus(log)
		if err != nil {
			if temporalClient != nil {
				temporalClient.Close()
			}
			return Clients{}, err
		}
	}

	return Clients{
		Backend:  backendClient,
		Temporal: temporalClient,
		EventBus: eventBus,
	}, nil
}
