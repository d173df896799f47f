package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/roundtablehq/roundtable-backend/internal/platform/ctxutil"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
)

const headerTenantID = "X-Tenant-ID"

type TenantMiddleware struct {
	log *logger.Logger
}

func NewTenantMiddleware(baseLog *logger.Logger) *TenantMiddleware {
	return &TenantMiddleware{log: baseLog.With("Middleware", "TenantMiddleware")}
}

// RequireTenant reads the X-Tenant-ID header set by the fronting auth layer
// and attaches it to the request context. Who the tenant is gets decided
// upstream; this stops anonymous requests from reaching tenant-scoped
// handlers.
func (tm *TenantMiddleware) RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(headerTenantID))
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing tenant header", "code": "tenant_required"},
			})
			return
		}
		tenantID, err := uuid.Parse(raw)
		if err != nil || tenantID == uuid.Nil {
			tm.log.Warn("rejected request with malformed tenant header", "raw", raw)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "malformed tenant header", "code": "tenant_invalid"},
			})
			return
		}

		ctx := ctxutil.WithTenantID(c.Request.Context(), tenantID)
		c.Request = c.Request.WithContext(ctx)
		c.Set("tenant_id", tenantID.String())
		c.Next()
	}
}
