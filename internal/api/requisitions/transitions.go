// transitions.go maps workflow engine outcomes onto HTTP status codes. The
// engine owns all transition semantics; this file only translates.
package requisitions

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/procureflow/procureflow/internal/db/models"
	"github.com/procureflow/procureflow/internal/ledger"
	"github.com/procureflow/procureflow/internal/telemetry"
	"github.com/procureflow/procureflow/internal/workflow"
)

// TransitionRequest is the payload for applying a workflow action.
type TransitionRequest struct {
	Action string `json:"action" binding:"required"`
	Note   string `json:"note"`
}

func validAction(s string) (models.Action, bool) {
	for _, a := range models.ValidActions() {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

// TransitionHandler applies one workflow action to a requisition.
// POST /api/v1/requisitions/:id/transitions
func (h *Handlers) TransitionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := mustActor(c)
		if !ok {
			return
		}

		var req TransitionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		action, ok := validAction(req.Action)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown action: " + req.Action})
			return
		}

		if action == models.ActionSubmit {
			if !h.checkMonthlyQuota(c, actor.OrganizationID) {
				return
			}
		}

		result, err := h.engine.Transition(c.Request.Context(), actor, workflow.TransitionRequest{
			RequisitionID: c.Param("id"),
			Action:        action,
			Note:          req.Note,
			IPAddress:     c.ClientIP(),
		})
		if err != nil {
			h.transitionError(c, action, err)
			return
		}

		telemetry.WorkflowTransitionsTotal.WithLabelValues(string(action), "applied").Inc()
		c.JSON(http.StatusOK, gin.H{"requisition": result})
	}
}

// checkMonthlyQuota enforces the plan tier's submissions-per-month cap.
// Returns false after writing the response when the cap is reached.
func (h *Handlers) checkMonthlyQuota(c *gin.Context, orgID string) bool {
	org, err := h.orgRepo.GetByID(c.Request.Context(), orgID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load organization"})
		return false
	}
	if org == nil || org.MaxRequisitionsPerMonth <= 0 {
		return true
	}

	count, err := h.reqRepo.CountSubmittedThisMonth(c.Request.Context(), orgID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check submission quota"})
		return false
	}
	if count >= org.MaxRequisitionsPerMonth {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "Monthly requisition limit reached for this plan",
			"limit": org.MaxRequisitionsPerMonth,
		})
		return false
	}
	return true
}

func (h *Handlers) transitionError(c *gin.Context, action models.Action, err error) {
	var (
		status int
		result string
		msg    string
	)

	switch {
	case errors.Is(err, workflow.ErrNotFound):
		status, result, msg = http.StatusNotFound, "error", "Requisition not found"
	case errors.Is(err, workflow.ErrDenied):
		status, result, msg = http.StatusForbidden, "denied", "Transition not permitted"
	case errors.Is(err, workflow.ErrOrgInactive):
		status, result, msg = http.StatusForbidden, "denied", "Organization is suspended"
	case errors.Is(err, workflow.ErrInvalidTransition):
		status, result, msg = http.StatusUnprocessableEntity, "invalid", "Invalid transition for current state"
	case errors.Is(err, workflow.ErrConcurrencyConflict):
		status, result, msg = http.StatusConflict, "conflict", "Concurrent transition in progress, retry after re-reading"
	case errors.Is(err, ledger.ErrBudgetExceeded):
		status, result, msg = http.StatusUnprocessableEntity, "invalid", "Insufficient budget for this requisition"
		telemetry.BudgetReservationsTotal.WithLabelValues("exceeded").Inc()
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		status, result, msg = http.StatusConflict, "conflict", "Budget account contention, retry"
	default:
		status, result, msg = http.StatusInternalServerError, "error", "Transition failed"
	}

	telemetry.WorkflowTransitionsTotal.WithLabelValues(string(action), result).Inc()
	c.JSON(status, gin.H{"error": msg})
}
