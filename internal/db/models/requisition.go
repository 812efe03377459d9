// Package models - requisition.go defines the Requisition model and its line items.
// A requisition belongs to one organization and one project/account; its
// organization ID must always equal its project's and is immutable after
// creation.
package models

import "time"

// RequisitionState is the workflow state of a requisition. Transitions
// between states are validated by the workflow engine; the stored value is
// never written outside an engine transition or a draft save.
type RequisitionState string

const (
	StateDraft       RequisitionState = "draft"
	StatePending     RequisitionState = "pending"
	StateUnderReview RequisitionState = "under_review"
	StateReviewed    RequisitionState = "reviewed"
	StateApproved    RequisitionState = "approved"
	StateCompleted   RequisitionState = "completed"
	StateRejected    RequisitionState = "rejected"
	StateCancelled   RequisitionState = "cancelled"
)

// Terminal reports whether no further transition leaves this state.
// Rejected is not terminal: the owning submitter may edit and resubmit.
func (s RequisitionState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Editable reports whether the owning submitter may still edit header and
// line items.
func (s RequisitionState) Editable() bool {
	return s == StateDraft || s == StateRejected
}

// LineItem is one ordered line of a requisition. Stored as JSONB.
type LineItem struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"` // minor currency units
}

// Total returns quantity × unit price for the line.
func (l LineItem) Total() int64 {
	return l.Quantity * l.UnitPrice
}

// Requisition is a purchase requisition moving through the approval workflow.
type Requisition struct {
	ID             string           `json:"id"`
	OrganizationID string           `json:"organization_id"`
	ProjectID      string           `json:"project_id"`
	AccountID      string           `json:"account_id"`
	RequesterID    string           `json:"requester_id"` // owning submitter
	Title          string           `json:"title"`
	Lines          []LineItem       `json:"lines"`
	Total          int64            `json:"total"` // sum of line totals, recomputed on every draft save
	State          RequisitionState `json:"state"`
	Version        int64            `json:"version"` // optimistic concurrency token for transitions

	// ReservationToken references the active budget reservation taken at
	// submit time; nil while in draft or after release/commit.
	ReservationToken *string `json:"reservation_token,omitempty"`

	// Decision metadata, reset when a rejected requisition is resubmitted.
	ReviewedBy   *string    `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
	DecidedBy    *string    `json:"decided_by,omitempty"` // approver or rejecter
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	DecisionNote *string    `json:"decision_note,omitempty"`

	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ComputeTotal recalculates and stores the grand total from line items.
func (r *Requisition) ComputeTotal() int64 {
	var sum int64
	for _, l := range r.Lines {
		sum += l.Total()
	}
	r.Total = sum
	return sum
}

// ResetDecisionMetadata clears reviewer and approver decisions. Called when a
// rejected requisition is resubmitted so stale decisions cannot leak into the
// new review cycle.
func (r *Requisition) ResetDecisionMetadata() {
	r.ReviewedBy = nil
	r.ReviewedAt = nil
	r.DecidedBy = nil
	r.DecidedAt = nil
	r.DecisionNote = nil
}
