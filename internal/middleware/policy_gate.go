// policy_gate.go provides route-level policy gates. Handlers that operate on a
// specific resource evaluate policy.Authorize themselves with the full
// resource context; these gates cover routes whose requirement is knowable
// from the actor alone.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/procureflow/procureflow/internal/policy"
)

// RequireOrgAdmin aborts with 403 unless the actor holds owner or admin on
// their organization. The org scope itself is pinned by the credential, so no
// resource lookup is needed here.
func RequireOrgAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := CurrentActor(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		resource := policy.Resource{OrganizationID: actor.OrganizationID}
		if d := policy.Authorize(actor, resource, policy.OpMemberManage); !d.Allowed() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":  "organization administration rights required",
				"reason": string(d.Reason),
			})
			return
		}

		c.Next()
	}
}

// RequirePlatformAdmin aborts with 403 unless the actor is a platform
// operator. Used for the cross-tenant organization management surface.
func RequirePlatformAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := CurrentActor(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !actor.PlatformAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "platform operator rights required"})
			return
		}
		c.Next()
	}
}
