// apikeys.go implements handlers for organization-scoped API keys used by
// service integrations (ERP sync, reporting extracts). The full key is
// returned exactly once at creation; only the bcrypt hash is stored.
package admin

import (
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/procureflow/procureflow/internal/auth"
	"github.com/procureflow/procureflow/internal/config"
	"github.com/procureflow/procureflow/internal/db/models"
	"github.com/procureflow/procureflow/internal/db/repositories"
	"github.com/procureflow/procureflow/internal/policy"
)

// APIKeyHandlers handles API key management endpoints.
type APIKeyHandlers struct {
	cfg        *config.Config
	apiKeyRepo *repositories.APIKeyRepository
}

// NewAPIKeyHandlers creates a new APIKeyHandlers instance.
func NewAPIKeyHandlers(cfg *config.Config, db *sql.DB) *APIKeyHandlers {
	return &APIKeyHandlers{
		cfg:        cfg,
		apiKeyRepo: repositories.NewAPIKeyRepository(db),
	}
}

// ListAPIKeysHandler lists the organization's API keys. Requires owner or
// admin.
// GET /api/v1/apikeys
func (h *APIKeyHandlers) ListAPIKeysHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}
		if d := policy.Authorize(actor, policy.Resource{OrganizationID: actor.OrganizationID}, policy.OpAPIKeyManage); d.Denied() {
			denyJSON(c, d)
			return
		}

		keys, err := h.apiKeyRepo.ListByOrganization(c.Request.Context(), actor.OrganizationID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list API keys"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"api_keys": keys})
	}
}

// CreateAPIKeyRequest represents the request to create an API key.
type CreateAPIKeyRequest struct {
	Name string `json:"name" binding:"required"`
	// Role the key acts with; defaults to member.
	OrgRole models.OrgRole `json:"org_role"`
	// Optional link to a user account; linked keys inherit that user's
	// workflow roles and may drive transitions.
	UserID *string `json:"user_id"`
	// ExpiresInDays sets an expiry; zero means the key never expires.
	ExpiresInDays int `json:"expires_in_days" binding:"gte=0"`
}

// CreateAPIKeyHandler creates an API key. Requires owner or admin.
// POST /api/v1/apikeys
func (h *APIKeyHandlers) CreateAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}

		var req CreateAPIKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		if d := policy.Authorize(actor, policy.Resource{OrganizationID: actor.OrganizationID}, policy.OpAPIKeyManage); d.Denied() {
			denyJSON(c, d)
			return
		}

		role := req.OrgRole
		if role == "" {
			role = models.OrgRoleMember
		}
		switch role {
		case models.OrgRoleOwner:
			// Keys never act as owner; a leaked key must not be able to
			// hand out further credentials at the highest tier.
			c.JSON(http.StatusBadRequest, gin.H{"error": "API keys cannot hold the owner role"})
			return
		case models.OrgRoleAdmin, models.OrgRoleMember:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown role: " + string(role)})
			return
		}

		prefix := strings.TrimSuffix(h.cfg.Auth.APIKeys.Prefix, "_")
		fullKey, hash, displayPrefix, err := auth.GenerateAPIKey(prefix)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate API key"})
			return
		}

		key := &models.APIKey{
			UserID:         req.UserID,
			OrganizationID: actor.OrganizationID,
			Name:           req.Name,
			KeyHash:        hash,
			KeyPrefix:      displayPrefix,
			OrgRole:        role,
		}
		if req.ExpiresInDays > 0 {
			exp := time.Now().AddDate(0, 0, req.ExpiresInDays)
			key.ExpiresAt = &exp
		}

		if err := h.apiKeyRepo.CreateAPIKey(c.Request.Context(), key); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create API key"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"api_key": key,
			// Shown once; the server keeps only the hash.
			"key": fullKey,
		})
	}
}

// DeleteAPIKeyHandler revokes an API key. Requires owner or admin.
// DELETE /api/v1/apikeys/:id
func (h *APIKeyHandlers) DeleteAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}
		if d := policy.Authorize(actor, policy.Resource{OrganizationID: actor.OrganizationID}, policy.OpAPIKeyManage); d.Denied() {
			denyJSON(c, d)
			return
		}

		if err := h.apiKeyRepo.DeleteAPIKey(c.Request.Context(), actor.OrganizationID, c.Param("id")); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
			return
		}

		c.Status(http.StatusNoContent)
	}
}
