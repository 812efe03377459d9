// Package admin implements the management HTTP surface: organizations and
// membership, projects and workflow role grants, budget accounts, API keys,
// and the audit/notification listings.
//
// Platform-wide routes (organization lifecycle) are gated by the
// RequirePlatformAdmin middleware at registration time; everything else is
// decided per-request by the policy evaluator against the stored entity.
package admin

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/procureflow/procureflow/internal/auth"
	"github.com/procureflow/procureflow/internal/db/models"
	"github.com/procureflow/procureflow/internal/db/repositories"
	"github.com/procureflow/procureflow/internal/middleware"
	"github.com/procureflow/procureflow/internal/policy"
	"github.com/procureflow/procureflow/internal/telemetry"
)

// OrganizationHandlers handles organization and membership endpoints.
type OrganizationHandlers struct {
	orgRepo  *repositories.OrganizationRepository
	userRepo *repositories.UserRepository
}

// NewOrganizationHandlers creates a new OrganizationHandlers instance.
func NewOrganizationHandlers(db *sql.DB) *OrganizationHandlers {
	return &OrganizationHandlers{
		orgRepo:  repositories.NewOrganizationRepository(db),
		userRepo: repositories.NewUserRepository(sqlx.NewDb(db, "postgres")),
	}
}

// mustActor pulls the actor set by the auth middleware, answering 401 when
// absent.
func mustActor(c *gin.Context) (*auth.ActorContext, bool) {
	actor, ok := middleware.CurrentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return nil, false
	}
	return actor, true
}

// denyJSON answers a policy denial with 403 and records the denial metric.
func denyJSON(c *gin.Context, d policy.Decision) {
	telemetry.PolicyDenialsTotal.WithLabelValues(string(d.Reason)).Inc()
	c.JSON(http.StatusForbidden, gin.H{
		"error":  "Operation not permitted",
		"reason": string(d.Reason),
	})
}

func parsePagination(c *gin.Context) (limit, offset int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return perPage, (page - 1) * perPage
}

// ListOrganizationsHandler lists all organizations. Platform admin only
// (gated at registration).
// GET /api/v1/organizations
func (h *OrganizationHandlers) ListOrganizationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgs, err := h.orgRepo.ListOrganizations(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list organizations"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"organizations": orgs})
	}
}

// GetOrganizationHandler retrieves one organization. Members may read their
// own organization; anything else is invisible except to platform admins.
// GET /api/v1/organizations/:id
func (h *OrganizationHandlers) GetOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}
		orgID := c.Param("id")

		if orgID != actor.OrganizationID && !actor.PlatformAdmin {
			c.JSON(http.StatusNotFound, gin.H{"error": "Organization not found"})
			return
		}

		org, err := h.orgRepo.GetByID(c.Request.Context(), orgID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve organization"})
			return
		}
		if org == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Organization not found"})
			return
		}

		if d := policy.Authorize(actor, policy.Resource{OrganizationID: org.ID}, policy.OpOrgRead); d.Denied() {
			denyJSON(c, d)
			return
		}

		c.JSON(http.StatusOK, gin.H{"organization": org})
	}
}

// CreateOrganizationRequest represents the request to create a new organization.
type CreateOrganizationRequest struct {
	Name                    string `json:"name" binding:"required"`
	DisplayName             string `json:"display_name" binding:"required"`
	PlanTier                string `json:"plan_tier"`
	MaxUsers                int    `json:"max_users"`
	MaxProjects             int    `json:"max_projects"`
	MaxRequisitionsPerMonth int    `json:"max_requisitions_per_month"`
}

// CreateOrganizationHandler provisions a new tenant. Platform admin only.
// POST /api/v1/organizations
func (h *OrganizationHandlers) CreateOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateOrganizationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		existing, err := h.orgRepo.GetByName(c.Request.Context(), req.Name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check existing organization"})
			return
		}
		if existing != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "Organization with this name already exists"})
			return
		}

		org := &models.Organization{
			Name:                    req.Name,
			DisplayName:             req.DisplayName,
			PlanTier:                req.PlanTier,
			MaxUsers:                req.MaxUsers,
			MaxProjects:             req.MaxProjects,
			MaxRequisitionsPerMonth: req.MaxRequisitionsPerMonth,
		}

		if err := h.orgRepo.CreateOrganization(c.Request.Context(), org); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create organization"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"organization": org})
	}
}

// UpdateOrganizationRequest represents the request to update an organization.
type UpdateOrganizationRequest struct {
	DisplayName *string `json:"display_name"`
}

// UpdateOrganizationHandler updates an organization's display name. Owners
// and admins may update their own organization.
// PUT /api/v1/organizations/:id
func (h *OrganizationHandlers) UpdateOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}
		orgID := c.Param("id")

		if orgID != actor.OrganizationID && !actor.PlatformAdmin {
			c.JSON(http.StatusNotFound, gin.H{"error": "Organization not found"})
			return
		}

		var req UpdateOrganizationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		if d := policy.Authorize(actor, policy.Resource{OrganizationID: orgID}, policy.OpOrgUpdate); d.Denied() {
			denyJSON(c, d)
			return
		}

		org, err := h.orgRepo.GetByID(c.Request.Context(), orgID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve organization"})
			return
		}
		if org == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Organization not found"})
			return
		}

		if req.DisplayName != nil {
			org.DisplayName = *req.DisplayName
		}

		if err := h.orgRepo.UpdateOrganization(c.Request.Context(), org); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update organization"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"organization": org})
	}
}

// SuspendOrganizationHandler soft-disables a tenant. All mutations inside the
// organization fail while suspended; nothing is deleted. Platform admin only.
// POST /api/v1/organizations/:id/suspend
func (h *OrganizationHandlers) SuspendOrganizationHandler() gin.HandlerFunc {
	return h.setStatusHandler(models.OrgStatusSuspended)
}

// ReactivateOrganizationHandler restores a suspended tenant. Platform admin only.
// POST /api/v1/organizations/:id/reactivate
func (h *OrganizationHandlers) ReactivateOrganizationHandler() gin.HandlerFunc {
	return h.setStatusHandler(models.OrgStatusActive)
}

func (h *OrganizationHandlers) setStatusHandler(status models.OrgStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := c.Param("id")

		org, err := h.orgRepo.GetByID(c.Request.Context(), orgID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve organization"})
			return
		}
		if org == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Organization not found"})
			return
		}

		if err := h.orgRepo.UpdateStatus(c.Request.Context(), orgID, status); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update organization status"})
			return
		}

		org.Status = status
		c.JSON(http.StatusOK, gin.H{"organization": org})
	}
}

// ListMembersHandler lists an organization's members with user details.
// GET /api/v1/organizations/:id/members
func (h *OrganizationHandlers) ListMembersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}
		orgID := c.Param("id")

		if orgID != actor.OrganizationID && !actor.PlatformAdmin {
			c.JSON(http.StatusNotFound, gin.H{"error": "Organization not found"})
			return
		}
		if d := policy.Authorize(actor, policy.Resource{OrganizationID: orgID}, policy.OpOrgRead); d.Denied() {
			denyJSON(c, d)
			return
		}

		members, err := h.orgRepo.ListMembers(c.Request.Context(), orgID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list members"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"members": members})
	}
}

// AddMemberRequest adds a user to an organization, creating the user account
// when only email and name are given. Posting an existing member updates
// their role.
type AddMemberRequest struct {
	UserID string         `json:"user_id"`
	Email  string         `json:"email"`
	Name   string         `json:"name"`
	Role   models.OrgRole `json:"role" binding:"required"`
}

// AddMemberHandler adds or updates a member. Requires owner or admin.
// POST /api/v1/organizations/:id/members
func (h *OrganizationHandlers) AddMemberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}
		orgID := c.Param("id")

		if orgID != actor.OrganizationID && !actor.PlatformAdmin {
			c.JSON(http.StatusNotFound, gin.H{"error": "Organization not found"})
			return
		}

		var req AddMemberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		switch req.Role {
		case models.OrgRoleOwner, models.OrgRoleAdmin, models.OrgRoleMember:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown role: " + string(req.Role)})
			return
		}

		if d := policy.Authorize(actor, policy.Resource{OrganizationID: orgID}, policy.OpMemberManage); d.Denied() {
			denyJSON(c, d)
			return
		}

		user, err := h.resolveUser(c, &req)
		if err != nil || user == nil {
			return // response already written
		}

		// New members count against the plan's seat limit; role updates of
		// existing members do not.
		existing, err := h.orgRepo.GetMembership(c.Request.Context(), orgID, user.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check membership"})
			return
		}
		if existing == nil {
			org, err := h.orgRepo.GetByID(c.Request.Context(), orgID)
			if err != nil || org == nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load organization"})
				return
			}
			if org.MaxUsers > 0 {
				count, err := h.orgRepo.CountMembers(c.Request.Context(), orgID)
				if err != nil {
					c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count members"})
					return
				}
				if count >= org.MaxUsers {
					c.JSON(http.StatusUnprocessableEntity, gin.H{
						"error": "Member limit reached for this plan",
						"limit": org.MaxUsers,
					})
					return
				}
			}
		}

		if err := h.orgRepo.AddMember(c.Request.Context(), orgID, user.ID, req.Role); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add member"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"membership": gin.H{
				"organization_id": orgID,
				"user_id":         user.ID,
				"role":            req.Role,
			},
		})
	}
}

// resolveUser finds the referenced user by ID or email, creating the account
// when an email with no existing user is given. Writes the error response
// itself and returns nil on failure.
func (h *OrganizationHandlers) resolveUser(c *gin.Context, req *AddMemberRequest) (*models.User, error) {
	if req.UserID != "" {
		user, err := h.userRepo.GetByID(c.Request.Context(), req.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve user"})
			return nil, err
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return nil, nil
		}
		return user, nil
	}

	if req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Either user_id or email is required"})
		return nil, nil
	}

	user, err := h.userRepo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve user"})
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	user = &models.User{Email: req.Email, Name: req.Name}
	if err := h.userRepo.CreateUser(c.Request.Context(), user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return nil, err
	}
	return user, nil
}

// RemoveMemberHandler removes a member from the organization. Requires owner
// or admin.
// DELETE /api/v1/organizations/:id/members/:user_id
func (h *OrganizationHandlers) RemoveMemberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}
		orgID := c.Param("id")
		userID := c.Param("user_id")

		if orgID != actor.OrganizationID && !actor.PlatformAdmin {
			c.JSON(http.StatusNotFound, gin.H{"error": "Organization not found"})
			return
		}
		if d := policy.Authorize(actor, policy.Resource{OrganizationID: orgID}, policy.OpMemberManage); d.Denied() {
			denyJSON(c, d)
			return
		}

		membership, err := h.orgRepo.GetMembership(c.Request.Context(), orgID, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check membership"})
			return
		}
		if membership == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Membership not found"})
			return
		}

		if err := h.orgRepo.RemoveMember(c.Request.Context(), orgID, userID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove member"})
			return
		}

		c.Status(http.StatusNoContent)
	}
}
