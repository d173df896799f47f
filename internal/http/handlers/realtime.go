package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/roundtablehq/roundtable-backend/internal/http/response"
	"github.com/roundtablehq/roundtable-backend/internal/platform/ctxutil"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
	"github.com/roundtablehq/roundtable-backend/internal/realtime"
	"github.com/roundtablehq/roundtable-backend/internal/services"
)

type RealtimeHandler struct {
	log      *logger.Logger
	hub      *realtime.SSEHub
	sessions services.SessionService
}

func NewRealtimeHandler(baseLog *logger.Logger, hub *realtime.SSEHub, sessions services.SessionService) *RealtimeHandler {
	return &RealtimeHandler{
		log:      baseLog.With("handler", "RealtimeHandler"),
		hub:      hub,
		sessions: sessions,
	}
}

// GET /api/deliberations/:id/events
//
// Streams the session's stage events over SSE. The current status is
// replayed as the first event so a client that connects mid-pipeline (or
// after completion) does not hang waiting for a transition that already
// happened.
func (h *RealtimeHandler) StreamSessionEvents(c *gin.Context) {
	tenantID := ctxutil.GetTenantID(c.Request.Context())
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}

	session, err := h.sessions.GetSession(c.Request.Context(), tenantID, sessionID)
	if err != nil {
		respondSessionError(c, err)
		return
	}

	client := h.hub.NewSSEClient(tenantID)
	h.hub.AddChannel(client, realtime.SessionChannel(sessionID))
	defer h.hub.CloseClient(client)

	client.Outbound <- realtime.SSEMessage{
		Channel: realtime.SessionChannel(sessionID),
		Event:   "SessionSnapshot",
		Data: gin.H{
			"session_id": session.ID,
			"status":     session.Status,
		},
	}

	h.log.Debug("sse stream opened",
		"session_id", sessionID.String(), "tenant_id", tenantID.String())
	h.hub.ServeHTTP(c.Writer, c.Request, client)
}
