// Package policy implements the authorization rules for the procurement
// backend as a pure function over (actor, resource, operation). The evaluator
// holds no state and performs no I/O, so it is safe to call from any
// goroutine and trivial to test exhaustively.
//
// Rules are evaluated in order, first match wins:
//
//  1. Cross-organization access is denied outright unless the actor is a
//     platform admin. This single rule is the whole tenant-isolation
//     guarantee; every rule below assumes it already passed.
//  2. Administrative operations require an owner or admin organization role.
//  3. Requisition operations require a workflow role on the resource's
//     project, or ownership of the requisition for draft-stage edits.
//  4. Everything else is denied.
//
// A Deny is a value, not an error: callers branch on the decision and treat
// denial as normal control flow.
package policy

import (
	"github.com/procureflow/procureflow/internal/auth"
	"github.com/procureflow/procureflow/internal/db/models"
)

// Effect is the outcome of an authorization check.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Reason is a machine-readable denial code. Reasons are safe to return to
// clients: they name the rule that fired, never the cross-tenant data the
// actor could not see.
type Reason string

const (
	ReasonTenantMismatch      Reason = "tenant_mismatch"
	ReasonOrgRoleRequired     Reason = "org_role_required"
	ReasonWorkflowRoleMissing Reason = "workflow_role_missing"
	ReasonNotOwner            Reason = "not_owner"
	ReasonNoMatchingPolicy    Reason = "no_matching_policy"
)

// Decision is the result of Authorize. Denied() and the Reason field give
// callers everything needed to render an actionable error without another
// lookup.
type Decision struct {
	Effect Effect `json:"effect"`
	Reason Reason `json:"reason,omitempty"`
}

// Allowed reports whether the decision permits the operation.
func (d Decision) Allowed() bool { return d.Effect == EffectAllow }

// Denied reports whether the decision blocks the operation.
func (d Decision) Denied() bool { return d.Effect == EffectDeny }

func allow() Decision { return Decision{Effect: EffectAllow} }

func deny(reason Reason) Decision { return Decision{Effect: EffectDeny, Reason: reason} }

// Operation names an action an actor wants to perform against a resource.
type Operation string

const (
	// Administrative operations, gated on the organization role.
	OpOrgRead          Operation = "org:read"
	OpOrgUpdate        Operation = "org:update"
	OpMemberManage     Operation = "members:manage"
	OpProjectManage    Operation = "projects:manage"
	OpAccountManage    Operation = "accounts:manage"
	OpRoleGrant        Operation = "roles:grant"
	OpAPIKeyManage     Operation = "api_keys:manage"
	OpAuditRead        Operation = "audit:read"
	OpNotificationRead Operation = "notifications:read"

	// Requisition operations, gated on workflow role or ownership.
	OpRequisitionCreate Operation = "requisitions:create"
	OpRequisitionRead   Operation = "requisitions:read"
	OpRequisitionEdit   Operation = "requisitions:edit"
	OpRequisitionDelete Operation = "requisitions:delete"

	// Workflow transitions, one operation per action verb.
	OpSubmit       Operation = "requisitions:submit"
	OpStartReview  Operation = "requisitions:start_review"
	OpMarkReviewed Operation = "requisitions:mark_reviewed"
	OpApprove      Operation = "requisitions:approve"
	OpReject       Operation = "requisitions:reject"
	OpComplete     Operation = "requisitions:complete"
	OpCancel       Operation = "requisitions:cancel"
)

// OperationForAction maps a workflow transition verb to its policy operation.
func OperationForAction(action models.Action) (Operation, bool) {
	switch action {
	case models.ActionSubmit:
		return OpSubmit, true
	case models.ActionStartReview:
		return OpStartReview, true
	case models.ActionMarkReviewed:
		return OpMarkReviewed, true
	case models.ActionApprove:
		return OpApprove, true
	case models.ActionReject:
		return OpReject, true
	case models.ActionComplete:
		return OpComplete, true
	case models.ActionCancel:
		return OpCancel, true
	}
	return "", false
}

// adminOps are the operations gated on the organization role alone.
var adminOps = map[Operation]bool{
	OpOrgUpdate:        true,
	OpMemberManage:     true,
	OpProjectManage:    true,
	OpAccountManage:    true,
	OpRoleGrant:        true,
	OpAPIKeyManage:     true,
	OpAuditRead:        true,
	OpNotificationRead: true,
}

// transitionRoles maps each transition operation to the workflow roles that
// may perform it. reject appears twice in the state machine (reviewer from
// under_review, approver from reviewed); the evaluator accepts either role
// and the workflow engine's transition table enforces the state-specific one.
var transitionRoles = map[Operation][]models.WorkflowRole{
	OpStartReview:  {models.RoleReviewer},
	OpMarkReviewed: {models.RoleReviewer},
	OpApprove:      {models.RoleApprover},
	OpReject:       {models.RoleReviewer, models.RoleApprover},
	OpComplete:     {models.RoleStoreManager},
}

// Resource describes the entity an operation targets: which organization it
// belongs to and, where applicable, its project and owning user. Callers
// populate it from the stored entity, never from client input.
type Resource struct {
	OrganizationID string
	ProjectID      string
	OwnerID        string
}

// Authorize evaluates the rules in order and returns the first match.
func Authorize(actor *auth.ActorContext, resource Resource, op Operation) Decision {
	if actor == nil {
		return deny(ReasonNoMatchingPolicy)
	}

	// Rule 1: tenant isolation. Nothing crosses the organization boundary
	// except a platform admin.
	if resource.OrganizationID != actor.OrganizationID && !actor.PlatformAdmin {
		return deny(ReasonTenantMismatch)
	}

	// Rule 2: administrative operations need owner or admin.
	if adminOps[op] {
		if actor.IsOrgAdmin() || actor.PlatformAdmin {
			return allow()
		}
		return deny(ReasonOrgRoleRequired)
	}
	if op == OpOrgRead {
		// Every member may read their own organization's profile.
		return allow()
	}

	switch op {
	case OpRequisitionCreate, OpSubmit:
		// Creating and submitting require the submitter role; submit is
		// further restricted to the requisition's owner.
		role, ok := actor.WorkflowRole(resource.ProjectID)
		if !ok || role != models.RoleSubmitter {
			return deny(ReasonWorkflowRoleMissing)
		}
		if op == OpSubmit && resource.OwnerID != actor.UserID {
			return deny(ReasonNotOwner)
		}
		return allow()

	case OpRequisitionRead:
		// Any workflow role on the project, ownership, or an admin role
		// grants read.
		if actor.IsOrgAdmin() || actor.PlatformAdmin {
			return allow()
		}
		if resource.OwnerID == actor.UserID {
			return allow()
		}
		if _, ok := actor.WorkflowRole(resource.ProjectID); ok {
			return allow()
		}
		return deny(ReasonWorkflowRoleMissing)

	case OpRequisitionEdit, OpRequisitionDelete:
		// Draft-stage edits belong to the owner alone. The workflow engine
		// separately refuses edits outside editable states.
		if resource.OwnerID == actor.UserID {
			return allow()
		}
		return deny(ReasonNotOwner)

	case OpCancel:
		// The original submitter or an org admin, never a reviewer or
		// approver acting on role alone.
		if resource.OwnerID == actor.UserID || actor.IsOrgAdmin() {
			return allow()
		}
		return deny(ReasonNotOwner)

	case OpStartReview, OpMarkReviewed, OpApprove, OpReject, OpComplete:
		role, ok := actor.WorkflowRole(resource.ProjectID)
		if !ok {
			return deny(ReasonWorkflowRoleMissing)
		}
		for _, allowed := range transitionRoles[op] {
			if role == allowed {
				return allow()
			}
		}
		return deny(ReasonWorkflowRoleMissing)
	}

	// Rule 4: nothing matched.
	return deny(ReasonNoMatchingPolicy)
}
