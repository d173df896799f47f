package deliberation

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"

	types "github.com/roundtablehq/roundtable-backend/internal/domain"
)

// Workflow drives one deliberation session by ticking the pipeline engine
// until the session settles. The workflow ID is the session ID, so the
// session row stays the source of truth and a replayed workflow simply
// re-reads where the pipeline left off.
func Workflow(ctx workflow.Context) error {
	sessionID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if sessionID == "" {
		return fmt.Errorf("deliberation: missing session id")
	}

	const (
		tickPause            = 500 * time.Millisecond
		continueTickLimit    = 50
		continueHistoryLimit = 5000
	)

	// One activity runs one whole stage, so the timeout covers the slowest
	// stage deadline with room to spare; heartbeats catch dead workers much
	// sooner.
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy:         nil, // a failed tick is settled by the engine, not re-driven here
	})

	tickCount := 0
	for {
		tickCount++
		var out TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, sessionID).Get(ctx, &out); err != nil {
			return err
		}

		if out.Terminal {
			if out.Status == types.SessionFailed {
				return fmt.Errorf("deliberation failed (stage=%d)", out.Stage)
			}
			return nil
		}

		if shouldContinueAsNew(ctx, tickCount, continueTickLimit, continueHistoryLimit) {
			return workflow.NewContinueAsNewError(ctx, Workflow)
		}
		if err := workflow.Sleep(ctx, tickPause); err != nil {
			return err
		}
	}
}

func shouldContinueAsNew(ctx workflow.Context, ticks, maxTicks, maxHistory int) bool {
	if maxTicks > 0 && ticks >= maxTicks {
		return true
	}
	info := workflow.GetInfo(ctx)
	if info == nil || maxHistory <= 0 {
		return false
	}
	return info.GetCurrentHistoryLength() >= maxHistory
}
