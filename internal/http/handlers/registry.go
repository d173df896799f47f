package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roundtablehq/roundtable-backend/internal/http/response"
	"github.com/roundtablehq/roundtable-backend/internal/platform/ctxutil"
	"github.com/roundtablehq/roundtable-backend/internal/services"
)

type RegistryHandler struct {
	registry services.RegistryService
}

func NewRegistryHandler(registry services.RegistryService) *RegistryHandler {
	return &RegistryHandler{registry: registry}
}

// GET /api/registry/roles
func (h *RegistryHandler) ListRoles(c *gin.Context) {
	tenantID := ctxutil.GetTenantID(c.Request.Context())

	chains, err := h.registry.EffectiveChains(c.Request.Context(), tenantID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "internal_error", err)
		return
	}
	response.RespondOK(c, http.StatusOK, gin.H{"roles": chains})
}

type replaceChainRequest struct {
	Models []string `json:"models"`
}

// PUT /api/registry/roles/:role
func (h *RegistryHandler) ReplaceRole(c *gin.Context) {
	tenantID := ctxutil.GetTenantID(c.Request.Context())
	role := c.Param("role")

	var req replaceChainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	chain, err := h.registry.ReplaceChain(c.Request.Context(), tenantID, role, req.Models)
	if err != nil {
		respondRegistryError(c, err)
		return
	}
	response.RespondOK(c, http.StatusOK, gin.H{"role": chain})
}

func respondRegistryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrUnknownRole):
		response.RespondError(c, http.StatusNotFound, "unknown_role", err)
	case errors.Is(err, services.ErrEmptyChain):
		response.RespondError(c, http.StatusBadRequest, "empty_chain", err)
	case errors.Is(err, services.ErrBlankModelID):
		response.RespondError(c, http.StatusBadRequest, "blank_model_id", err)
	case errors.Is(err, services.ErrDuplicateModel):
		response.RespondError(c, http.StatusBadRequest, "duplicate_model", err)
	case errors.Is(err, services.ErrChainTooLong):
		response.RespondError(c, http.StatusBadRequest, "chain_too_long", err)
	default:
		response.RespondAPIError(c, err, http.StatusInternalServerError, "internal_error")
	}
}
