// audit.go provides Gin middleware that ships authenticated mutating requests
// to the configured external audit destinations. The database audit trail for
// workflow transitions and policy denials is written synchronously by the
// engine and recorder; this middleware only covers the HTTP surface, so it is
// asynchronous and best-effort.
package middleware

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/procureflow/procureflow/internal/audit"
)

// AuditShipperMiddleware ships a LogEntry for every completed request that
// passes the shouldShip filter. Read denials are deliberately not shipped;
// mutation attempts are, whatever their outcome.
func AuditShipperMiddleware(shipper audit.Shipper, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		c.Next()

		if shipper == nil || !shouldShip(c.Request.Method) {
			return
		}

		entry := &audit.LogEntry{
			Timestamp:  time.Now(),
			Action:     c.Request.Method + " " + c.FullPath(),
			EntityType: entityTypeFromPath(c.Request.URL.Path),
			StatusCode: c.Writer.Status(),
		}
		if ip := c.ClientIP(); ip != "" {
			entry.IPAddress = ip
		}
		if actorID, ok := c.Get("actor_id"); ok {
			entry.ActorID, _ = actorID.(string)
		}
		if orgID, ok := c.Get("organization_id"); ok {
			entry.OrganizationID, _ = orgID.(string)
		}
		if method, ok := c.Get("auth_method"); ok {
			entry.Metadata = map[string]interface{}{"auth_method": method}
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shipper.Ship(ctx, entry); err != nil {
				logger.Warn("audit ship failed", "action", entry.Action, "error", err)
			}
		}()
	}
}

func shouldShip(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	}
	return false
}

func entityTypeFromPath(path string) string {
	switch {
	case strings.Contains(path, "/requisitions"):
		return "requisition"
	case strings.Contains(path, "/accounts"):
		return "budget_account"
	case strings.Contains(path, "/projects"):
		return "project"
	case strings.Contains(path, "/members"):
		return "membership"
	case strings.Contains(path, "/apikeys"):
		return "api_key"
	case strings.Contains(path, "/organizations"):
		return "organization"
	}
	return ""
}
