// dev.go implements development-only handlers for minting JWTs without an
// identity provider. In production tokens come from the IdP; these endpoints
// exist so local stacks and integration tests can authenticate.
package admin

import (
	"database/sql"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/procureflow/procureflow/internal/auth"
	"github.com/procureflow/procureflow/internal/config"
	"github.com/procureflow/procureflow/internal/db/repositories"
)

// DevHandlers handles development-only endpoints.
type DevHandlers struct {
	cfg         *config.Config
	userRepo    *repositories.UserRepository
	orgRepo     *repositories.OrganizationRepository
	projectRepo *repositories.ProjectRepository
}

// NewDevHandlers creates a new DevHandlers instance.
func NewDevHandlers(cfg *config.Config, db *sql.DB) *DevHandlers {
	return &DevHandlers{
		cfg:         cfg,
		userRepo:    repositories.NewUserRepository(sqlx.NewDb(db, "postgres")),
		orgRepo:     repositories.NewOrganizationRepository(db),
		projectRepo: repositories.NewProjectRepository(db),
	}
}

// IsDevMode checks if the application is running in development mode.
// Requires explicit opt-in via DEV_MODE=true or DEV_MODE=1.
func IsDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	return devMode == "true" || devMode == "1"
}

// DevModeMiddleware blocks access to dev endpoints in production.
func DevModeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsDevMode() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Development endpoints are disabled in production",
			})
			return
		}
		c.Next()
	}
}

// DevTokenRequest mints a JWT for an existing user and organization.
type DevTokenRequest struct {
	UserID         string `json:"user_id" binding:"required"`
	OrganizationID string `json:"organization_id" binding:"required"`
	PlatformAdmin  bool   `json:"platform_admin"`
}

// DevTokenHandler issues a JWT carrying the user's real membership role and
// workflow role grants, exactly as the IdP would.
// POST /api/v1/dev/token
func (h *DevHandlers) DevTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req DevTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		user, err := h.userRepo.GetByID(c.Request.Context(), req.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve user"})
			return
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}

		membership, err := h.orgRepo.GetMembership(c.Request.Context(), req.OrganizationID, req.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve membership"})
			return
		}
		if membership == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "User is not a member of this organization"})
			return
		}

		workflowRoles, err := h.projectRepo.GetUserRoles(c.Request.Context(), req.OrganizationID, req.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve workflow roles"})
			return
		}

		expiry := h.cfg.Auth.TokenExpiry
		if expiry <= 0 {
			expiry = time.Hour
		}

		token, err := auth.GenerateJWT(user.ID, req.OrganizationID, membership.Role, workflowRoles, req.PlatformAdmin, expiry)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"expires_in": int(expiry.Seconds()),
		})
	}
}
