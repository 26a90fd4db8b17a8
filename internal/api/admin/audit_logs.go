// audit_logs.go implements the audit log listing endpoint.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vaultplay/storefront-auth/internal/api/respond"
	"github.com/vaultplay/storefront-auth/internal/middleware"
	"github.com/vaultplay/storefront-auth/internal/services"
)

// @Summary      List audit logs
// @Description  Returns audit log entries, newest first. Superadmin only.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        actorId  query  string  false  "Filter by actor account ID"
// @Param        action   query  string  false  "Filter by action"
// @Param        limit    query  int     false  "Page size, max 200 (default 50)"
// @Param        offset   query  int     false  "Offset"
// @Success      200  {object}  services.AuditPage
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Router       /superadmin/logs [get]
// ListAuditLogsHandler lists audit log entries
// GET /superadmin/logs?actorId=&action=&limit=50&offset=0
func (h *UserHandlers) ListAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logs, err := h.accounts.ListAuditLogs(c.Request.Context(), middleware.Actor(c), services.AuditQuery{
			ActorID: c.Query("actorId"),
			Action:  c.Query("action"),
			Page:    pageFromQuery(c),
		})
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, logs)
	}
}
