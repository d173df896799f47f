package deliberation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/roundtablehq/roundtable-backend/internal/council/pipeline"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
)

type Activities struct {
	Log    *logger.Logger
	Engine pipeline.Orchestrator
}

// Tick advances the session by one stage. Stage fan-out blocks inside
// Advance, so a heartbeat goroutine keeps the activity alive while seats
// are in flight.
func (a *Activities) Tick(ctx context.Context, rawSessionID string) (TickResult, error) {
	res := TickResult{SessionID: strings.TrimSpace(rawSessionID)}
	if a == nil || a.Engine == nil {
		return res, fmt.Errorf("deliberation: activity not configured")
	}

	sessionID, err := uuid.Parse(res.SessionID)
	if err != nil || sessionID == uuid.Nil {
		return res, fmt.Errorf("deliberation: invalid session id %q", rawSessionID)
	}

	stopHB := startHeartbeat(ctx)
	defer stopHB()

	progress, err := a.Engine.Advance(ctx, sessionID)
	if err != nil {
		return res, err
	}

	res.Status = progress.Status
	res.Stage = progress.Stage
	res.Terminal = progress.Terminal
	return res, nil
}

func startHeartbeat(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
