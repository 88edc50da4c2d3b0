package middleware

import (
	"net/http"

	"salvage-settlement/internal/core/domain"
	"salvage-settlement/internal/core/ports"

	"github.com/gin-gonic/gin"
)

// routeAudit maps operator routes that no service audits on its own.
var routeAudit = map[string]struct {
	action     domain.AuditAction
	entityType string
	param      string
}{
	http.MethodPost + " /api/v1/admin/sweeps/:job": {domain.AuditActionSweepTriggered, "sweep", "job"},
}

// AuditLog records successful operator-triggered actions after the handler ran.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Status() < 200 || c.Writer.Status() >= 300 {
			return
		}
		m, ok := routeAudit[c.Request.Method+" "+c.FullPath()]
		if !ok {
			return
		}
		actor, ok := ActorFrom(c)
		if !ok {
			return
		}

		auditSvc.Log(c.Request.Context(), domain.NewAuditLog(actor, m.action, m.entityType, c.Param(m.param), nil, map[string]any{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"client_ip": c.ClientIP(),
		}))
	}
}
