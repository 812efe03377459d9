// Package workflow drives a requisition through its approval state machine.
// The engine validates role-gated transitions against a fixed table and
// orchestrates the side effects of each executed transition: budget
// reservation and commit, exactly one audit entry, and exactly one
// notification enqueue.
package workflow

import (
	"github.com/procureflow/procureflow/internal/db/models"
)

// rule is one row of the transition table: who may take the action and where
// it leads.
type rule struct {
	To models.RequisitionState

	// Roles lists the workflow roles that may perform the transition.
	Roles []models.WorkflowRole

	// OwnerOnly restricts the transition to the requisition's requester.
	OwnerOnly bool

	// OrgAdminOverride additionally admits org owners and admins regardless
	// of workflow role or ownership.
	OrgAdminOverride bool
}

// transitions is the complete state machine. Anything absent from this table
// fails with ErrInvalidTransition. submit appears twice because a rejected
// requisition may be edited and resubmitted by its owner; that resubmission
// is a fresh pending transition on the same entity, not a new requisition.
var transitions = map[models.RequisitionState]map[models.Action]rule{
	models.StateDraft: {
		models.ActionSubmit: {To: models.StatePending, Roles: []models.WorkflowRole{models.RoleSubmitter}, OwnerOnly: true},
	},
	models.StateRejected: {
		models.ActionSubmit: {To: models.StatePending, Roles: []models.WorkflowRole{models.RoleSubmitter}, OwnerOnly: true},
	},
	models.StatePending: {
		models.ActionStartReview: {To: models.StateUnderReview, Roles: []models.WorkflowRole{models.RoleReviewer}},
		models.ActionCancel:      {To: models.StateCancelled, OwnerOnly: true, OrgAdminOverride: true},
	},
	models.StateUnderReview: {
		models.ActionMarkReviewed: {To: models.StateReviewed, Roles: []models.WorkflowRole{models.RoleReviewer}},
		models.ActionReject:       {To: models.StateRejected, Roles: []models.WorkflowRole{models.RoleReviewer}},
		models.ActionCancel:       {To: models.StateCancelled, OwnerOnly: true, OrgAdminOverride: true},
	},
	models.StateReviewed: {
		models.ActionApprove: {To: models.StateApproved, Roles: []models.WorkflowRole{models.RoleApprover}},
		models.ActionReject:  {To: models.StateRejected, Roles: []models.WorkflowRole{models.RoleApprover}},
		models.ActionCancel:  {To: models.StateCancelled, OwnerOnly: true, OrgAdminOverride: true},
	},
	models.StateApproved: {
		models.ActionComplete: {To: models.StateCompleted, Roles: []models.WorkflowRole{models.RoleStoreManager}},
	},
}

// lookup returns the transition rule for (state, action), if the table has
// one.
func lookup(from models.RequisitionState, action models.Action) (rule, bool) {
	row, ok := transitions[from]
	if !ok {
		return rule{}, false
	}
	r, ok := row[action]
	return r, ok
}

// TargetState returns where an action leads from a state, if legal.
func TargetState(from models.RequisitionState, action models.Action) (models.RequisitionState, bool) {
	r, ok := lookup(from, action)
	if !ok {
		return "", false
	}
	return r.To, true
}
