package deliberation

import (
	"context"
	"fmt"

	"go.temporal.io/api/enums/v1"
	temporalsdkclient "go.temporal.io/sdk/client"

	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
	"github.com/roundtablehq/roundtable-backend/internal/temporalx"
)

// Starter hands admitted sessions to Temporal. It satisfies the session
// service's WorkflowStarter seam, so swapping the in-process runner for
// Temporal is a wiring change only.
type Starter struct {
	tc  temporalsdkclient.Client
	log *logger.Logger
}

func NewStarter(tc temporalsdkclient.Client, baseLog *logger.Logger) (*Starter, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	return &Starter{
		tc:  tc,
		log: baseLog.With("component", "DeliberationStarter"),
	}, nil
}

func (s *Starter) StartDeliberation(ctx context.Context, session *types.DeliberationSession) error {
	if s == nil || s.tc == nil {
		return fmt.Errorf("temporal not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := temporalx.LoadConfig()

	opts := temporalsdkclient.StartWorkflowOptions{
		ID:        session.ID.String(),
		TaskQueue: cfg.TaskQueue,
		// One workflow per session, ever: admission already reserved quota,
		// so a duplicate start must not re-drive the pipeline.
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
	if _, err := s.tc.ExecuteWorkflow(ctx, opts, WorkflowName); err != nil {
		return fmt.Errorf("start deliberation workflow: %w", err)
	}

	s.log.Info("deliberation workflow started",
		"session_id", session.ID.String(), "task_queue", cfg.TaskQueue)
	return nil
}
