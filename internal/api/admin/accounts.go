// accounts.go implements handlers for budget account management. Allocation
// changes use the same optimistic version check as the ledger so an admin
// raising a budget can never clobber a concurrent reservation.
package admin

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/procureflow/procureflow/internal/auth"
	"github.com/procureflow/procureflow/internal/db/models"
	"github.com/procureflow/procureflow/internal/db/repositories"
	"github.com/procureflow/procureflow/internal/policy"
	"github.com/procureflow/procureflow/internal/telemetry"
)

// AccountHandlers handles budget account endpoints.
type AccountHandlers struct {
	budgetRepo  *repositories.BudgetRepository
	projectRepo *repositories.ProjectRepository
}

// NewAccountHandlers creates a new AccountHandlers instance.
func NewAccountHandlers(db *sql.DB) *AccountHandlers {
	return &AccountHandlers{
		budgetRepo:  repositories.NewBudgetRepository(db),
		projectRepo: repositories.NewProjectRepository(db),
	}
}

// loadVisibleProject resolves the :id project param with tenant hiding.
func (h *AccountHandlers) loadVisibleProject(c *gin.Context, actor *auth.ActorContext) *models.Project {
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

// ListAccountsHandler lists a project's budget accounts.
// GET /api/v1/projects/:id/accounts
func (h *AccountHandlers) ListAccountsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}
		project := h.loadVisibleProject(c, actor)
		if project == nil {
			return
		}

		accounts, err := h.budgetRepo.ListByProject(c.Request.Context(), project.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list accounts"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"accounts": accounts})
	}
}

// CreateAccountRequest represents the request to create a budget account.
type CreateAccountRequest struct {
	Code      string `json:"code" binding:"required"`
	Allocated int64  `json:"allocated" binding:"gte=0"`
}

// CreateAccountHandler creates a budget account under a project. Requires
// owner or admin.
// POST /api/v1/projects/:id/accounts
func (h *AccountHandlers) CreateAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}
		project := h.loadVisibleProject(c, actor)
		if project == nil {
			return
		}

		var req CreateAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		if d := policy.Authorize(actor, policy.Resource{OrganizationID: project.OrganizationID, ProjectID: project.ID}, policy.OpAccountManage); d.Denied() {
			denyJSON(c, d)
			return
		}

		account := &models.BudgetAccount{
			ProjectID: project.ID,
			Code:      req.Code,
			Allocated: req.Allocated,
		}
		if err := h.budgetRepo.CreateAccount(c.Request.Context(), account); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"account": account})
	}
}

// GetAccountHandler retrieves one budget account.
// GET /api/v1/accounts/:id
func (h *AccountHandlers) GetAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}

		account, project := h.loadVisibleAccount(c, actor)
		if account == nil || project == nil {
			return
		}

		c.JSON(http.StatusOK, gin.H{"account": account, "available": account.Available()})
	}
}

// loadVisibleAccount resolves the :id account param and its project, hiding
// cross-tenant accounts behind a 404.
func (h *AccountHandlers) loadVisibleAccount(c *gin.Context, actor *auth.ActorContext) (*models.BudgetAccount, *models.Project) {
	account, err := h.budgetRepo.GetAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve account"})
		return nil, nil
	}
	if account == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return nil, nil
	}

	project, err := h.projectRepo.GetByID(c.Request.Context(), account.ProjectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve project"})
		return nil, nil
	}
	if project == nil || (project.OrganizationID != actor.OrganizationID && !actor.PlatformAdmin) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return nil, nil
	}
	return account, project
}

// UpdateAllocationRequest changes an account's allocation. The version field
// must carry the version the caller last read; a stale version is rejected
// with 409.
type UpdateAllocationRequest struct {
	Allocated int64 `json:"allocated" binding:"gte=0"`
	Version   int64 `json:"version" binding:"required"`
}

// UpdateAllocationHandler adjusts the allocated budget. Requires owner or
// admin. Lowering the allocation below committed + reserved is rejected.
// PUT /api/v1/accounts/:id/allocation
func (h *AccountHandlers) UpdateAllocationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}

		var req UpdateAllocationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		account, project := h.loadVisibleAccount(c, actor)
		if account == nil || project == nil {
			return
		}

		if d := policy.Authorize(actor, policy.Resource{OrganizationID: project.OrganizationID, ProjectID: project.ID}, policy.OpAccountManage); d.Denied() {
			denyJSON(c, d)
			return
		}

		if req.Allocated < account.Committed+account.Reserved {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error": "Allocation cannot drop below committed plus reserved funds",
			})
			return
		}

		account.Allocated = req.Allocated
		updated, err := h.budgetRepo.UpdateWithVersion(c.Request.Context(), account, req.Version)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update account"})
			return
		}
		if !updated {
			telemetry.BudgetConflictsTotal.Inc()
			c.JSON(http.StatusConflict, gin.H{"error": "Account was modified concurrently, re-read and retry"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"account": account})
	}
}
