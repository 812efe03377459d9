// audit.go implements read-only handlers over the audit trail and the
// notification outbox. Both are append-only from the API's point of view;
// there is deliberately no mutation surface here.
package admin

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/procureflow/procureflow/internal/db/repositories"
	"github.com/procureflow/procureflow/internal/policy"
)

// AuditHandlers handles audit trail and notification listing endpoints.
type AuditHandlers struct {
	auditRepo *repositories.AuditRepository
	notifRepo *repositories.NotificationRepository
}

// NewAuditHandlers creates a new AuditHandlers instance.
func NewAuditHandlers(db *sql.DB) *AuditHandlers {
	return &AuditHandlers{
		auditRepo: repositories.NewAuditRepository(db),
		notifRepo: repositories.NewNotificationRepository(db),
	}
}

// ListAuditHandler lists the organization's audit entries, newest first.
// Requires owner or admin.
// GET /api/v1/audit?page=1&per_page=20
func (h *AuditHandlers) ListAuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}

		orgID := actor.OrganizationID
		if actor.PlatformAdmin {
			if q := c.Query("organization_id"); q != "" {
				orgID = q
			}
		}

		if d := policy.Authorize(actor, policy.Resource{OrganizationID: orgID}, policy.OpAuditRead); d.Denied() {
			denyJSON(c, d)
			return
		}

		limit, offset := parsePagination(c)
		entries, err := h.auditRepo.ListByOrganization(c.Request.Context(), orgID, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit entries"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"entries": entries})
	}
}

// ListNotificationsHandler lists the organization's notification events,
// newest first. Requires owner or admin.
// GET /api/v1/notifications?page=1&per_page=20
func (h *AuditHandlers) ListNotificationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}

		orgID := actor.OrganizationID
		if actor.PlatformAdmin {
			if q := c.Query("organization_id"); q != "" {
				orgID = q
			}
		}

		if d := policy.Authorize(actor, policy.Resource{OrganizationID: orgID}, policy.OpNotificationRead); d.Denied() {
			denyJSON(c, d)
			return
		}

		limit, offset := parsePagination(c)
		events, err := h.notifRepo.ListByOrganization(c.Request.Context(), orgID, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list notifications"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"events": events})
	}
}
