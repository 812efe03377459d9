package models

// Action is a workflow transition verb applied to a requisition. Actions are
// the only way a requisition leaves its current state; which actions are
// legal from which state is defined by the workflow package's transition
// table.
type Action string

const (
	ActionSubmit       Action = "submit"
	ActionStartReview  Action = "start_review"
	ActionMarkReviewed Action = "mark_reviewed"
	ActionApprove      Action = "approve"
	ActionReject       Action = "reject"
	ActionComplete     Action = "complete"
	ActionCancel       Action = "cancel"
)

// ValidActions returns every transition verb the workflow understands.
func ValidActions() []Action {
	return []Action{
		ActionSubmit,
		ActionStartReview,
		ActionMarkReviewed,
		ActionApprove,
		ActionReject,
		ActionComplete,
		ActionCancel,
	}
}
