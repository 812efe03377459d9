// Package requisitions implements the requisition HTTP surface: draft CRUD,
// listing, workflow transitions, and per-requisition audit history.
//
// Authorization is decided by the policy evaluator against the stored entity,
// never against client-supplied identifiers. Cross-tenant lookups return 404
// so responses never reveal whether an entity exists in another organization.
package requisitions

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/procureflow/procureflow/internal/auth"
	"github.com/procureflow/procureflow/internal/db/models"
	"github.com/procureflow/procureflow/internal/db/repositories"
	"github.com/procureflow/procureflow/internal/middleware"
	"github.com/procureflow/procureflow/internal/policy"
	"github.com/procureflow/procureflow/internal/telemetry"
	"github.com/procureflow/procureflow/internal/workflow"
)

// Handlers holds the requisition endpoint dependencies.
type Handlers struct {
	engine      *workflow.Engine
	reqRepo     *repositories.RequisitionRepository
	orgRepo     *repositories.OrganizationRepository
	projectRepo *repositories.ProjectRepository
	budgetRepo  *repositories.BudgetRepository
	auditRepo   *repositories.AuditRepository
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, engine *workflow.Engine) *Handlers {
	return &Handlers{
		engine:      engine,
		reqRepo:     repositories.NewRequisitionRepository(db),
		orgRepo:     repositories.NewOrganizationRepository(db),
		projectRepo: repositories.NewProjectRepository(db),
		budgetRepo:  repositories.NewBudgetRepository(db),
		auditRepo:   repositories.NewAuditRepository(db),
	}
}

// mustActor pulls the actor from the request context. The auth middleware
// guarantees it is set on every route in this package; missing means a
// wiring bug, answered with 401 rather than a panic.
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

// visible reports whether the actor may even learn the requisition exists.
// A requisition in another organization is invisible to everyone except
// platform admins.
func visible(actor *auth.ActorContext, r *models.Requisition) bool {
	return r.OrganizationID == actor.OrganizationID || actor.PlatformAdmin
}

func resourceFor(r *models.Requisition) policy.Resource {
	return policy.Resource{
		OrganizationID: r.OrganizationID,
		ProjectID:      r.ProjectID,
		OwnerID:        r.RequesterID,
	}
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

// lineItemInput mirrors models.LineItem with binding validation.
type lineItemInput struct {
	Description string `json:"description" binding:"required"`
	Quantity    int64  `json:"quantity" binding:"required,gt=0"`
	UnitPrice   int64  `json:"unit_price" binding:"gte=0"`
}

func toLineItems(in []lineItemInput) []models.LineItem {
	lines := make([]models.LineItem, 0, len(in))
	for _, l := range in {
		lines = append(lines, models.LineItem{
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		})
	}
	return lines
}

// CreateRequest is the payload for creating a draft requisition.
type CreateRequest struct {
	ProjectID string          `json:"project_id" binding:"required"`
	AccountID string          `json:"account_id" binding:"required"`
	Title     string          `json:"title" binding:"required"`
	Lines     []lineItemInput `json:"lines" binding:"required,min=1,dive"`
}

// CreateHandler creates a draft requisition.
// POST /api/v1/requisitions
func (h *Handlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}

		var req CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		project, err := h.projectRepo.GetByID(c.Request.Context(), req.ProjectID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load project"})
			return
		}
		if project == nil || (project.OrganizationID != actor.OrganizationID && !actor.PlatformAdmin) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
			return
		}

		decision := policy.Authorize(actor, policy.Resource{
			OrganizationID: project.OrganizationID,
			ProjectID:      project.ID,
			OwnerID:        actor.UserID,
		}, policy.OpRequisitionCreate)
		if decision.Denied() {
			denyJSON(c, decision)
			return
		}

		if project.Status != "open" {
			c.JSON(http.StatusConflict, gin.H{"error": "Project is closed"})
			return
		}

		// The account must belong to the requisition's project so budget
		// settlement always debits the right ledger.
		account, err := h.budgetRepo.GetAccount(c.Request.Context(), req.AccountID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load budget account"})
			return
		}
		if account == nil || account.ProjectID != project.ID {
			c.JSON(http.StatusNotFound, gin.H{"error": "Budget account not found"})
			return
		}

		r := &models.Requisition{
			OrganizationID: project.OrganizationID,
			ProjectID:      project.ID,
			AccountID:      account.ID,
			RequesterID:    actor.UserID,
			Title:          req.Title,
			Lines:          toLineItems(req.Lines),
		}

		if err := h.reqRepo.CreateRequisition(c.Request.Context(), r); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create requisition"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"requisition": r})
	}
}

// GetHandler retrieves one requisition.
// GET /api/v1/requisitions/:id
func (h *Handlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}

		r, err := h.reqRepo.GetRequisition(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve requisition"})
			return
		}
		if r == nil || !visible(actor, r) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Requisition not found"})
			return
		}

		if d := policy.Authorize(actor, resourceFor(r), policy.OpRequisitionRead); d.Denied() {
			denyJSON(c, d)
			return
		}

		c.JSON(http.StatusOK, gin.H{"requisition": r})
	}
}

// ListHandler lists the organization's requisitions with optional state
// filter and pagination.
// GET /api/v1/requisitions?state=pending&page=1&per_page=20
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}

		// Platform admins may inspect any organization; everyone else is
		// pinned to the credential's tenant regardless of query input.
		orgID := actor.OrganizationID
		if actor.PlatformAdmin {
			if q := c.Query("organization_id"); q != "" {
				orgID = q
			}
		}

		state := models.RequisitionState(c.Query("state"))
		limit, offset := parsePagination(c)

		reqs, err := h.reqRepo.ListByOrganization(c.Request.Context(), orgID, state, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list requisitions"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"requisitions": reqs})
	}
}

// UpdateRequest is the payload for editing a draft (or rejected)
// requisition.
type UpdateRequest struct {
	Title string          `json:"title" binding:"required"`
	Lines []lineItemInput `json:"lines" binding:"required,min=1,dive"`
}

// UpdateHandler edits a requisition that is still editable. The state is
// never changed here; resubmission after rejection goes through the
// transition endpoint.
// PUT /api/v1/requisitions/:id
func (h *Handlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}

		var req UpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		r, err := h.reqRepo.GetRequisition(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve requisition"})
			return
		}
		if r == nil || !visible(actor, r) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Requisition not found"})
			return
		}

		if d := policy.Authorize(actor, resourceFor(r), policy.OpRequisitionEdit); d.Denied() {
			denyJSON(c, d)
			return
		}

		if !r.State.Editable() {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Requisition is not editable in state " + string(r.State),
			})
			return
		}

		r.Title = req.Title
		r.Lines = toLineItems(req.Lines)
		r.ComputeTotal()

		if err := h.reqRepo.UpdateDraft(c.Request.Context(), r); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update requisition"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"requisition": r})
	}
}

// DeleteHandler deletes a draft requisition. Anything past draft is
// preserved for the audit trail and can only be cancelled.
// DELETE /api/v1/requisitions/:id
func (h *Handlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}

		r, err := h.reqRepo.GetRequisition(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve requisition"})
			return
		}
		if r == nil || !visible(actor, r) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Requisition not found"})
			return
		}

		if d := policy.Authorize(actor, resourceFor(r), policy.OpRequisitionDelete); d.Denied() {
			denyJSON(c, d)
			return
		}

		if r.State != models.StateDraft {
			c.JSON(http.StatusConflict, gin.H{"error": "Only draft requisitions can be deleted"})
			return
		}

		if err := h.reqRepo.DeleteDraft(c.Request.Context(), r.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete requisition"})
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// HistoryHandler returns the audit trail of one requisition, oldest first.
// GET /api/v1/requisitions/:id/history
func (h *Handlers) HistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}

		r, err := h.reqRepo.GetRequisition(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve requisition"})
			return
		}
		if r == nil || !visible(actor, r) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Requisition not found"})
			return
		}

		if d := policy.Authorize(actor, resourceFor(r), policy.OpRequisitionRead); d.Denied() {
			denyJSON(c, d)
			return
		}

		entries, err := h.auditRepo.ListByEntity(c.Request.Context(), "requisition", r.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve history"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"entries": entries})
	}
}
