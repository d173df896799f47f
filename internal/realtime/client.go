package realtime

import (
	"github.com/google/uuid"

	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
)

type SSEClient struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Channels map[string]bool
	Outbound chan SSEMessage
	done     chan struct{}
	Logger   *logger.Logger
}
