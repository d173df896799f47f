package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/roundtablehq/roundtable-backend/internal/council/councilerr"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos/repoerr"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/http/response"
	"github.com/roundtablehq/roundtable-backend/internal/platform/ctxutil"
	"github.com/roundtablehq/roundtable-backend/internal/services"
)

type SessionHandler struct {
	sessions services.SessionService
}

func NewSessionHandler(sessions services.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type createDeliberationRequest struct {
	Question        string `json:"question"`
	Preset          string `json:"preset"`
	AnonymizeReview *bool  `json:"anonymize_review"`
}

// POST /api/deliberations
func (h *SessionHandler) Create(c *gin.Context) {
	tenantID := ctxutil.GetTenantID(c.Request.Context())

	var req createDeliberationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	session, err := h.sessions.CreateDeliberation(c.Request.Context(), tenantID, services.CreateDeliberationInput{
		Question:        req.Question,
		Preset:          req.Preset,
		AnonymizeReview: req.AnonymizeReview,
	})
	if err != nil {
		respondSessionError(c, err)
		return
	}

	response.RespondOK(c, http.StatusAccepted, gin.H{
		"session_id": session.ID,
		"status":     session.Status,
	})
}

// GET /api/deliberations/:id
func (h *SessionHandler) Get(c *gin.Context) {
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
	response.RespondOK(c, http.StatusOK, gin.H{"session": session})
}

// GET /api/deliberations
func (h *SessionHandler) List(c *gin.Context) {
	tenantID := ctxutil.GetTenantID(c.Request.Context())
	limit := parseQueryInt(c, "limit", 20, 1, 100)
	offset := parseQueryInt(c, "offset", 0, 0, 1<<30)

	sessions, err := h.sessions.ListSessions(c.Request.Context(), tenantID, limit, offset)
	if err != nil {
		respondSessionError(c, err)
		return
	}
	response.RespondOK(c, http.StatusOK, gin.H{
		"sessions": sessions,
		"limit":    limit,
		"offset":   offset,
	})
}

// GET /api/deliberations/:id/responses
func (h *SessionHandler) ListResponses(c *gin.Context) {
	tenantID := ctxutil.GetTenantID(c.Request.Context())
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}

	rows, err := h.sessions.ListResponses(c.Request.Context(), tenantID, sessionID)
	if err != nil {
		respondSessionError(c, err)
		return
	}

	stages := map[string][]*types.ModelResponse{}
	for _, row := range rows {
		key := strconv.Itoa(row.Stage)
		stages[key] = append(stages[key], row)
	}
	response.RespondOK(c, http.StatusOK, gin.H{
		"session_id": sessionID,
		"stages":     stages,
	})
}

// GET /api/deliberations/:id/verdicts
func (h *SessionHandler) ListVerdicts(c *gin.Context) {
	tenantID := ctxutil.GetTenantID(c.Request.Context())
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}

	verdicts, err := h.sessions.ListVerdicts(c.Request.Context(), tenantID, sessionID)
	if err != nil {
		respondSessionError(c, err)
		return
	}
	response.RespondOK(c, http.StatusOK, gin.H{
		"session_id": sessionID,
		"verdicts":   verdicts,
	})
}

// POST /api/deliberations/:id/cancel
func (h *SessionHandler) Cancel(c *gin.Context) {
	tenantID := ctxutil.GetTenantID(c.Request.Context())
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}

	if err := h.sessions.CancelSession(c.Request.Context(), tenantID, sessionID); err != nil {
		respondSessionError(c, err)
		return
	}
	response.RespondOK(c, http.StatusAccepted, gin.H{
		"session_id":       sessionID,
		"cancel_requested": true,
	})
}

// respondSessionError maps service and admission errors onto the stable
// wire codes. Denials carry their reason in the code so clients can branch
// without parsing the message.
func respondSessionError(c *gin.Context, err error) {
	var denied *councilerr.AdmissionDenied
	if errors.As(err, &denied) {
		status := http.StatusForbidden
		switch denied.Reason {
		case councilerr.DenyQueryLimit:
			status = http.StatusTooManyRequests
		case councilerr.DenyBudgetLimit:
			status = http.StatusPaymentRequired
		}
		response.RespondError(c, status, "admission_denied:"+denied.Reason, err)
		return
	}

	var confErr *councilerr.ConfigurationError
	if errors.As(err, &confErr) {
		response.RespondError(c, http.StatusUnprocessableEntity, "configuration_error", err)
		return
	}

	switch {
	case errors.Is(err, services.ErrQuestionRequired):
		response.RespondError(c, http.StatusBadRequest, "question_required", err)
	case errors.Is(err, services.ErrQuestionTooLong):
		response.RespondError(c, http.StatusBadRequest, "question_too_long", err)
	case errors.Is(err, services.ErrUnknownPreset):
		response.RespondError(c, http.StatusBadRequest, "unknown_preset", err)
	case errors.Is(err, services.ErrSessionTerminal):
		response.RespondError(c, http.StatusConflict, "session_terminal", err)
	case errors.Is(err, repoerr.ErrNotFound):
		response.RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, repoerr.ErrDuplicate):
		response.RespondError(c, http.StatusConflict, "duplicate", err)
	default:
		response.RespondAPIError(c, err, http.StatusInternalServerError, "internal_error")
	}
}

func parseQueryInt(c *gin.Context, name string, def, min, max int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
