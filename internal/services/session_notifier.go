package services

import (
	"context"

	"github.com/roundtablehq/roundtable-backend/internal/council/pipeline"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
	"github.com/roundtablehq/roundtable-backend/internal/realtime"
	"github.com/roundtablehq/roundtable-backend/internal/realtime/bus"
)

// sessionNotifier turns pipeline stage events into SSE messages. With a bus
// configured, events go through Redis and come back to every replica's hub
// via the forwarder; without one, they go straight to the local hub.
type sessionNotifier struct {
	hub *realtime.SSEHub
	bus bus.Bus
	log *logger.Logger
}

func NewSessionNotifier(hub *realtime.SSEHub, eventBus bus.Bus, baseLog *logger.Logger) pipeline.Notifier {
	return &sessionNotifier{
		hub: hub,
		bus: eventBus,
		log: baseLog.With("service", "SessionNotifier"),
	}
}

func (n *sessionNotifier) Notify(ctx context.Context, event pipeline.StageEvent) {
	data := map[string]any{
		"session_id": event.SessionID,
		"tenant_id":  event.TenantID,
		"stage":      event.Stage,
		"status":     event.Status,
	}
	for k, v := range event.Data {
		data[k] = v
	}

	msg := realtime.SSEMessage{
		Channel: realtime.SessionChannel(event.SessionID),
		Event:   sseEventFor(event.Status),
		Data:    data,
	}

	if n.bus == nil {
		n.hub.Broadcast(msg)
		return
	}
	if err := n.bus.Publish(ctx, msg); err != nil {
		n.log.Warn("event bus publish failed, delivering locally",
			"session_id", event.SessionID.String(), "error", err)
		n.hub.Broadcast(msg)
	}
}

func sseEventFor(status string) realtime.SSEEvent {
	switch status {
	case pipeline.EventStageStarted:
		return realtime.SSEEventStageStarted
	case pipeline.EventSeatSettled:
		return realtime.SSEEventSeatSettled
	case pipeline.EventStageCompleted:
		return realtime.SSEEventStageCompleted
	case pipeline.EventCompleted:
		return realtime.SSEEventSessionDone
	case pipeline.EventFailed:
		return realtime.SSEEventSessionFailed
	case pipeline.EventCanceled:
		return realtime.SSEEventSessionCanceled
	default:
		return realtime.SSEEvent(status)
	}
}
