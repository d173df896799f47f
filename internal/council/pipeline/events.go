package pipeline

import (
	"context"

	"github.com/google/uuid"
)

// Event statuses, in rough lifecycle order.
const (
	EventStageStarted   = "stage_started"
	EventSeatSettled    = "seat_settled"
	EventStageCompleted = "stage_completed"
	EventCompleted      = "completed"
	EventFailed         = "failed"
	EventCanceled       = "canceled"
)

// StageEvent is one observable step of a session's progress. Data stays small
// and JSON-friendly; answer content never rides on events, clients fetch the
// session for that.
type StageEvent struct {
	SessionID uuid.UUID      `json:"session_id"`
	TenantID  uuid.UUID      `json:"tenant_id"`
	Stage     int            `json:"stage"`
	Status    string         `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
}

// Notifier receives pipeline progress. Seat events fire from seat goroutines,
// so implementations must be safe for concurrent use and must not block.
type Notifier interface {
	Notify(ctx context.Context, event StageEvent)
}

// NotifierFunc adapts a plain function to the Notifier interface.
type NotifierFunc func(ctx context.Context, event StageEvent)

func (f NotifierFunc) Notify(ctx context.Context, event StageEvent) { f(ctx, event) }
