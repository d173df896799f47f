package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roundtablehq/roundtable-backend/internal/data/repos/repoerr"
	"github.com/roundtablehq/roundtable-backend/internal/http/response"
	"github.com/roundtablehq/roundtable-backend/internal/platform/ctxutil"
	"github.com/roundtablehq/roundtable-backend/internal/services"
)

type UsageHandler struct {
	usage services.UsageService
}

func NewUsageHandler(usage services.UsageService) *UsageHandler {
	return &UsageHandler{usage: usage}
}

// GET /api/usage/current
func (h *UsageHandler) Current(c *gin.Context) {
	tenantID := ctxutil.GetTenantID(c.Request.Context())

	snapshot, err := h.usage.CurrentUsage(c.Request.Context(), tenantID)
	if err != nil {
		if errors.Is(err, repoerr.ErrNotFound) {
			response.RespondError(c, http.StatusNotFound, "tenant_not_found", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "internal_error", err)
		return
	}
	response.RespondOK(c, http.StatusOK, gin.H{"usage": snapshot})
}
