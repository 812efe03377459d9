// projects.go implements handlers for project CRUD and per-project workflow
// role grants.
package admin

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/procureflow/procureflow/internal/auth"
	"github.com/procureflow/procureflow/internal/db/models"
	"github.com/procureflow/procureflow/internal/db/repositories"
	"github.com/procureflow/procureflow/internal/policy"
)

// ProjectHandlers handles project management endpoints.
type ProjectHandlers struct {
	projectRepo *repositories.ProjectRepository
	orgRepo     *repositories.OrganizationRepository
	reqRepo     *repositories.RequisitionRepository
}

// NewProjectHandlers creates a new ProjectHandlers instance.
func NewProjectHandlers(db *sql.DB) *ProjectHandlers {
	return &ProjectHandlers{
		projectRepo: repositories.NewProjectRepository(db),
		orgRepo:     repositories.NewOrganizationRepository(db),
		reqRepo:     repositories.NewRequisitionRepository(db),
	}
}

// loadVisibleProject loads the project and hides cross-tenant entities behind
// a 404. Writes the error response itself and returns nil on failure.
func (h *ProjectHandlers) loadVisibleProject(c *gin.Context, actor *auth.ActorContext) *models.Project {
	project, err := h.projectRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve project"})
		return nil
	}
	if project == nil || (project.OrganizationID != actor.OrganizationID && !actor.PlatformAdmin) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		return nil
	}
	return project
}

// ListProjectsHandler lists the organization's projects.
// GET /api/v1/projects
func (h *ProjectHandlers) ListProjectsHandler() gin.HandlerFunc {
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

		projects, err := h.projectRepo.ListByOrganization(c.Request.Context(), orgID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list projects"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"projects": projects})
	}
}

// GetProjectHandler retrieves one project.
// GET /api/v1/projects/:id
func (h *ProjectHandlers) GetProjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}
		project := h.loadVisibleProject(c, actor)
		if project == nil {
			return
		}
		c.JSON(http.StatusOK, gin.H{"project": project})
	}
}

// CreateProjectRequest represents the request to create a project.
type CreateProjectRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description *string `json:"description"`
}

// CreateProjectHandler creates a project in the actor's organization.
// Requires owner or admin.
// POST /api/v1/projects
func (h *ProjectHandlers) CreateProjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}

		var req CreateProjectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		orgID := actor.OrganizationID
		if d := policy.Authorize(actor, policy.Resource{OrganizationID: orgID}, policy.OpProjectManage); d.Denied() {
			denyJSON(c, d)
			return
		}

		org, err := h.orgRepo.GetByID(c.Request.Context(), orgID)
		if err != nil || org == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load organization"})
			return
		}
		if org.MaxProjects > 0 {
			count, err := h.projectRepo.CountByOrganization(c.Request.Context(), orgID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count projects"})
				return
			}
			if count >= org.MaxProjects {
				c.JSON(http.StatusUnprocessableEntity, gin.H{
					"error": "Project limit reached for this plan",
					"limit": org.MaxProjects,
				})
				return
			}
		}

		project := &models.Project{
			OrganizationID: orgID,
			Name:           req.Name,
			Description:    req.Description,
		}
		if err := h.projectRepo.CreateProject(c.Request.Context(), project); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create project"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"project": project})
	}
}

// UpdateProjectRequest represents the request to update a project.
type UpdateProjectRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
}

// UpdateProjectHandler updates a project's name, description, or open/closed
// status. Requires owner or admin.
// PUT /api/v1/projects/:id
func (h *ProjectHandlers) UpdateProjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}
		project := h.loadVisibleProject(c, actor)
		if project == nil {
			return
		}

		var req UpdateProjectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		if d := policy.Authorize(actor, policy.Resource{OrganizationID: project.OrganizationID}, policy.OpProjectManage); d.Denied() {
			denyJSON(c, d)
			return
		}

		if req.Name != nil {
			project.Name = *req.Name
		}
		if req.Description != nil {
			project.Description = req.Description
		}
		if req.Status != nil {
			if *req.Status != "open" && *req.Status != "closed" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Status must be open or closed"})
				return
			}
			project.Status = *req.Status
		}

		if err := h.projectRepo.UpdateProject(c.Request.Context(), project); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update project"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"project": project})
	}
}

// ListProjectRequisitionsHandler lists a project's requisitions.
// GET /api/v1/projects/:id/requisitions
func (h *ProjectHandlers) ListProjectRequisitionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}
		project := h.loadVisibleProject(c, actor)
		if project == nil {
			return
		}
		limit, offset := parsePagination(c)

		reqs, err := h.reqRepo.ListByProject(c.Request.Context(), project.ID, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list requisitions"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"requisitions": reqs})
	}
}

// ListRolesHandler lists workflow role assignments on a project.
// GET /api/v1/projects/:id/roles
func (h *ProjectHandlers) ListRolesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}
		project := h.loadVisibleProject(c, actor)
		if project == nil {
			return
		}

		roles, err := h.projectRepo.ListProjectRoles(c.Request.Context(), project.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list roles"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"roles": roles})
	}
}

// GrantRoleRequest assigns a workflow role to a user on a project. A user
// holds at most one workflow role per project; granting replaces any
// existing assignment.
type GrantRoleRequest struct {
	UserID string              `json:"user_id" binding:"required"`
	Role   models.WorkflowRole `json:"role" binding:"required"`
}

// GrantRoleHandler assigns a workflow role. Requires owner or admin. The
// grantee must already be a member of the project's organization.
// POST /api/v1/projects/:id/roles
func (h *ProjectHandlers) GrantRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}
		project := h.loadVisibleProject(c, actor)
		if project == nil {
			return
		}

		var req GrantRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		valid := false
		for _, r := range models.ValidWorkflowRoles() {
			if r == req.Role {
				valid = true
				break
			}
		}
		if !valid {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown workflow role: " + string(req.Role)})
			return
		}

		if d := policy.Authorize(actor, policy.Resource{OrganizationID: project.OrganizationID, ProjectID: project.ID}, policy.OpRoleGrant); d.Denied() {
			denyJSON(c, d)
			return
		}

		membership, err := h.orgRepo.GetMembership(c.Request.Context(), project.OrganizationID, req.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check membership"})
			return
		}
		if membership == nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "User is not a member of this organization"})
			return
		}

		if err := h.projectRepo.GrantRole(c.Request.Context(), project.ID, req.UserID, req.Role); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to grant role"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"role": gin.H{
				"project_id": project.ID,
				"user_id":    req.UserID,
				"role":       req.Role,
			},
		})
	}
}

// RevokeRoleHandler removes a user's workflow role from a project. Requires
// owner or admin.
// DELETE /api/v1/projects/:id/roles/:user_id
func (h *ProjectHandlers) RevokeRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}
		project := h.loadVisibleProject(c, actor)
		if project == nil {
			return
		}

		if d := policy.Authorize(actor, policy.Resource{OrganizationID: project.OrganizationID, ProjectID: project.ID}, policy.OpRoleGrant); d.Denied() {
			denyJSON(c, d)
			return
		}

		if err := h.projectRepo.RevokeRole(c.Request.Context(), project.ID, c.Param("user_id")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke role"})
			return
		}

		c.Status(http.StatusNoContent)
	}
}
