package workflow

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/procureflow/procureflow/internal/auth"
	"github.com/procureflow/procureflow/internal/db/models"
	"github.com/procureflow/procureflow/internal/notify"
	"github.com/procureflow/procureflow/internal/policy"
)

// RequisitionStore is the persistence surface the engine needs. GetRequisition
// returns (nil, nil) when the ID is unknown. UpdateRequisitionCAS must write
// the requisition and bump its version only if the stored version still
// equals expectedVersion, returning false (and writing nothing) otherwise.
type RequisitionStore interface {
	GetRequisition(ctx context.Context, id string) (*models.Requisition, error)
	UpdateRequisitionCAS(ctx context.Context, r *models.Requisition, expectedVersion int64) (bool, error)
}

// OrganizationStore looks up the tenant for suspension checks.
type OrganizationStore interface {
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)
}

// BudgetLedger is the budget surface consumed by transitions. Satisfied by
// *ledger.Ledger.
type BudgetLedger interface {
	Reserve(ctx context.Context, accountID string, amount int64) (string, error)
	Commit(ctx context.Context, token string) error
	Release(ctx context.Context, token string) error
}

// AuditRecorder is satisfied by *audit.Recorder. Only the engine holds a
// reference; nothing else in the codebase writes audit entries for workflow
// state.
type AuditRecorder interface {
	Record(ctx context.Context, entry *models.AuditEntry) error
}

// Notifier is satisfied by *notify.Dispatcher.
type Notifier interface {
	Enqueue(ctx context.Context, event *models.NotificationEvent) (string, error)
}

// TransitionRequest carries one transition attempt.
type TransitionRequest struct {
	RequisitionID string
	Action        models.Action
	// Note is an optional decision note, recorded for reject and approve.
	Note string
	// IPAddress of the caller, carried into the audit entry.
	IPAddress string
}

const lockStripes = 64

// Engine executes workflow transitions. Transitions on a single requisition
// are linearized by a striped in-process lock plus the store's version check:
// the lock serializes writers inside this process, the version check rejects
// anything stale that slips past it.
type Engine struct {
	requisitions RequisitionStore
	orgs         OrganizationStore
	ledger       BudgetLedger
	recorder     AuditRecorder
	notifier     Notifier
	logger       *slog.Logger

	locks [lockStripes]sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithOrganizationStore enables the suspended-tenant check on every
// transition.
func WithOrganizationStore(orgs OrganizationStore) Option {
	return func(e *Engine) { e.orgs = orgs }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an Engine.
func NewEngine(requisitions RequisitionStore, budget BudgetLedger, recorder AuditRecorder, notifier Notifier, opts ...Option) *Engine {
	e := &Engine{
		requisitions: requisitions,
		ledger:       budget,
		recorder:     recorder,
		notifier:     notifier,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) lockFor(requisitionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(requisitionID))
	return &e.locks[h.Sum32()%lockStripes]
}

// Transition validates and executes one workflow transition, orchestrating
// the budget, audit, and notification side effects. On success it returns the
// updated requisition.
func (e *Engine) Transition(ctx context.Context, actor *auth.ActorContext, req TransitionRequest) (*models.Requisition, error) {
	if actor == nil {
		return nil, ErrDenied
	}

	// Snapshot before taking the lock. A waiter whose snapshot goes stale
	// while it queues lost a race and gets ErrConcurrencyConflict, not a
	// confusing InvalidTransition against a state it never saw.
	snapshot, err := e.loadRequisition(ctx, req.RequisitionID)
	if err != nil {
		return nil, err
	}

	if err := e.authorize(ctx, actor, snapshot, req); err != nil {
		return nil, err
	}

	if err := e.checkOrgActive(ctx, snapshot.OrganizationID); err != nil {
		return nil, err
	}

	mu := e.lockFor(req.RequisitionID)
	mu.Lock()
	defer mu.Unlock()

	r, err := e.loadRequisition(ctx, req.RequisitionID)
	if err != nil {
		return nil, err
	}
	if r.Version != snapshot.Version {
		return nil, fmt.Errorf("%w: requisition %s changed while the transition was queued", ErrConcurrencyConflict, r.ID)
	}

	tr, ok := lookup(r.State, req.Action)
	if !ok {
		return nil, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, req.Action, r.State)
	}
	if err := e.checkRule(actor, r, tr); err != nil {
		return nil, err
	}

	priorState := r.State
	expectedVersion := r.Version
	now := time.Now().UTC()

	// Budget side effects that must precede the state write: the submit
	// reservation and the approval's budget validation both gate the
	// transition.
	releaseOnFailure := ""
	switch req.Action {
	case models.ActionSubmit:
		r.ComputeTotal()
		token, err := e.ledger.Reserve(ctx, r.AccountID, r.Total)
		if err != nil {
			return nil, err
		}
		releaseOnFailure = token
		r.ReservationToken = &token
	case models.ActionApprove:
		if r.ReservationToken == nil {
			// The reservation is the budget check; without one, take it now
			// so an over-budget approval aborts before any state change.
			token, err := e.ledger.Reserve(ctx, r.AccountID, r.Total)
			if err != nil {
				return nil, err
			}
			releaseOnFailure = token
			r.ReservationToken = &token
		}
	}

	e.applyTransitionFields(r, actor, req, tr.To, now)

	ok, err = e.requisitions.UpdateRequisitionCAS(ctx, r, expectedVersion)
	if err != nil || !ok {
		e.releaseToken(ctx, releaseOnFailure)
		if err != nil {
			return nil, fmt.Errorf("failed to write requisition %s: %w", r.ID, err)
		}
		return nil, fmt.Errorf("%w: requisition %s version %d", ErrConcurrencyConflict, r.ID, expectedVersion)
	}

	// The audit write is mandatory: an unauditable transition must not stand.
	// On failure the state write is reverted and the budget effects undone.
	if err := e.recordTransition(ctx, actor, r, req, priorState, now); err != nil {
		e.revertState(ctx, r, snapshot, expectedVersion+1)
		e.releaseToken(ctx, releaseOnFailure)
		return nil, err
	}

	// Settlement after the audited state write. Commit cannot exceed the
	// budget (the reservation already earmarked the amount); release and
	// commit failures here are infrastructure faults.
	if err := e.settleBudget(ctx, r, req.Action); err != nil {
		e.logger.Error("budget settlement failed after audited transition",
			"requisition_id", r.ID, "action", req.Action, "error", err)
		return nil, err
	}

	e.enqueueNotification(ctx, r, req.Action, priorState)

	e.logger.Info("requisition transition",
		"requisition_id", r.ID, "action", req.Action,
		"from", priorState, "to", r.State,
		"actor_id", actor.UserID, "org_id", r.OrganizationID)

	return r, nil
}

// loadRequisition maps missing rows to ErrNotFound.
func (e *Engine) loadRequisition(ctx context.Context, id string) (*models.Requisition, error) {
	r, err := e.requisitions.GetRequisition(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load requisition %s: %w", id, err)
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, nil
}

// authorize consults the policy evaluator and audit-logs denied mutation
// attempts. Cross-tenant denials surface as ErrNotFound so the response never
// confirms the requisition exists.
func (e *Engine) authorize(ctx context.Context, actor *auth.ActorContext, r *models.Requisition, req TransitionRequest) error {
	op, ok := policy.OperationForAction(req.Action)
	if !ok {
		return fmt.Errorf("%w: unknown action %s", ErrInvalidTransition, req.Action)
	}

	decision := policy.Authorize(actor, policy.Resource{
		OrganizationID: r.OrganizationID,
		ProjectID:      r.ProjectID,
		OwnerID:        r.RequesterID,
	}, op)
	if decision.Allowed() {
		return nil
	}

	e.recordDenial(ctx, actor, r, req, decision.Reason)

	if decision.Reason == policy.ReasonTenantMismatch {
		return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
	}
	return fmt.Errorf("%w: %s", ErrDenied, decision.Reason)
}

func (e *Engine) checkOrgActive(ctx context.Context, orgID string) error {
	if e.orgs == nil {
		return nil
	}
	org, err := e.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to load organization %s: %w", orgID, err)
	}
	if org == nil || !org.IsActive() {
		return ErrOrgInactive
	}
	return nil
}

// checkRule enforces the state-specific role and ownership constraints of the
// matched table row. The policy gate has already passed; this narrows to
// exactly the roles the row names.
func (e *Engine) checkRule(actor *auth.ActorContext, r *models.Requisition, tr rule) error {
	if tr.OwnerOnly {
		if r.RequesterID == actor.UserID {
			if len(tr.Roles) == 0 {
				return nil
			}
			if role, ok := actor.WorkflowRole(r.ProjectID); ok {
				for _, allowed := range tr.Roles {
					if role == allowed {
						return nil
					}
				}
			}
			return fmt.Errorf("%w: %s", ErrDenied, policy.ReasonWorkflowRoleMissing)
		}
		if tr.OrgAdminOverride && actor.IsOrgAdmin() {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDenied, policy.ReasonNotOwner)
	}

	role, ok := actor.WorkflowRole(r.ProjectID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDenied, policy.ReasonWorkflowRoleMissing)
	}
	for _, allowed := range tr.Roles {
		if role == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrDenied, policy.ReasonWorkflowRoleMissing)
}

// applyTransitionFields mutates the in-memory requisition to its
// post-transition shape.
func (e *Engine) applyTransitionFields(r *models.Requisition, actor *auth.ActorContext, req TransitionRequest, to models.RequisitionState, now time.Time) {
	switch req.Action {
	case models.ActionSubmit:
		// A resubmission after rejection starts a fresh review cycle; stale
		// reviewer and approver decisions must not leak into it.
		r.ResetDecisionMetadata()
		r.SubmittedAt = &now
	case models.ActionMarkReviewed:
		actorID := actor.UserID
		r.ReviewedBy = &actorID
		r.ReviewedAt = &now
	case models.ActionApprove, models.ActionReject:
		actorID := actor.UserID
		r.DecidedBy = &actorID
		r.DecidedAt = &now
		if req.Note != "" {
			note := req.Note
			r.DecisionNote = &note
		}
	case models.ActionComplete:
		r.CompletedAt = &now
	}

	r.State = to
	r.UpdatedAt = now
}

// recordTransition writes the single audit entry for an executed transition.
func (e *Engine) recordTransition(ctx context.Context, actor *auth.ActorContext, r *models.Requisition, req TransitionRequest, prior models.RequisitionState, now time.Time) error {
	actorID := actor.UserID
	orgID := r.OrganizationID
	entityType := "requisition"
	entityID := r.ID
	priorStr := string(prior)
	newStr := string(r.State)

	entry := &models.AuditEntry{
		ActorID:        &actorID,
		OrganizationID: &orgID,
		Action:         "requisition." + string(req.Action),
		EntityType:     &entityType,
		EntityID:       &entityID,
		PriorState:     &priorStr,
		NewState:       &newStr,
		Metadata: map[string]interface{}{
			"total":      r.Total,
			"project_id": r.ProjectID,
			"account_id": r.AccountID,
		},
		CreatedAt: now,
	}
	if req.Note != "" {
		entry.Metadata["note"] = req.Note
	}
	if req.IPAddress != "" {
		ip := req.IPAddress
		entry.IPAddress = &ip
	}
	return e.recorder.Record(ctx, entry)
}

// recordDenial audit-logs a denied mutation attempt. Best-effort: a failed
// denial log must not mask the denial itself.
func (e *Engine) recordDenial(ctx context.Context, actor *auth.ActorContext, r *models.Requisition, req TransitionRequest, reason policy.Reason) {
	actorID := actor.UserID
	orgID := r.OrganizationID
	entityType := "requisition"
	entityID := r.ID

	entry := &models.AuditEntry{
		ActorID:        &actorID,
		OrganizationID: &orgID,
		Action:         "policy.deny",
		EntityType:     &entityType,
		EntityID:       &entityID,
		Metadata: map[string]interface{}{
			"attempted_action": string(req.Action),
			"reason":           string(reason),
			"actor_org_id":     actor.OrganizationID,
		},
	}
	if req.IPAddress != "" {
		ip := req.IPAddress
		entry.IPAddress = &ip
	}
	if err := e.recorder.Record(ctx, entry); err != nil {
		e.logger.Error("failed to audit policy denial",
			"requisition_id", r.ID, "reason", reason, "error", err)
	}
}

// settleBudget finishes the money movement implied by the transition: commit
// on approval, release on rejection or cancellation.
func (e *Engine) settleBudget(ctx context.Context, r *models.Requisition, action models.Action) error {
	if r.ReservationToken == nil {
		return nil
	}
	token := *r.ReservationToken

	switch action {
	case models.ActionApprove:
		if err := e.ledger.Commit(ctx, token); err != nil {
			return fmt.Errorf("budget commit failed: %w", err)
		}
	case models.ActionReject, models.ActionCancel:
		if err := e.ledger.Release(ctx, token); err != nil {
			return fmt.Errorf("budget release failed: %w", err)
		}
	default:
		return nil
	}

	r.ReservationToken = nil
	if ok, err := e.requisitions.UpdateRequisitionCAS(ctx, r, r.Version); err != nil || !ok {
		e.logger.Error("failed to clear reservation token",
			"requisition_id", r.ID, "token", token, "error", err)
	}
	return nil
}

// revertState restores the pre-transition snapshot after a failed audit
// write.
func (e *Engine) revertState(ctx context.Context, current, snapshot *models.Requisition, writtenVersion int64) {
	restored := *snapshot
	if ok, err := e.requisitions.UpdateRequisitionCAS(ctx, &restored, writtenVersion); err != nil || !ok {
		e.logger.Error("failed to revert requisition after audit failure",
			"requisition_id", current.ID, "error", err)
	}
}

func (e *Engine) releaseToken(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if err := e.ledger.Release(ctx, token); err != nil {
		e.logger.Error("failed to release budget reservation", "token", token, "error", err)
	}
}

// notificationPlans maps each action to its event type and default recipient
// roles.
var notificationPlans = map[models.Action]struct {
	EventType  string
	Recipients []string
}{
	models.ActionSubmit:       {"requisition.submitted", []string{string(models.RoleReviewer)}},
	models.ActionStartReview:  {"requisition.review_started", []string{string(models.RoleSubmitter)}},
	models.ActionMarkReviewed: {"requisition.reviewed", []string{string(models.RoleApprover)}},
	models.ActionApprove:      {"requisition.approved", []string{string(models.RoleSubmitter), string(models.RoleStoreManager)}},
	models.ActionReject:       {"requisition.rejected", []string{string(models.RoleSubmitter)}},
	models.ActionComplete:     {"requisition.completed", []string{string(models.RoleSubmitter)}},
	models.ActionCancel:       {"requisition.cancelled", []string{string(models.RoleReviewer)}},
}

// enqueueNotification writes the outbox event for an executed transition.
// Enqueue failure does not roll the transition back: the state change and its
// audit entry are already durable, and surfacing a fault here would invite a
// retry of an action that can no longer be retried.
func (e *Engine) enqueueNotification(ctx context.Context, r *models.Requisition, action models.Action, prior models.RequisitionState) {
	plan, ok := notificationPlans[action]
	if !ok {
		return
	}

	event := &models.NotificationEvent{
		OrganizationID: r.OrganizationID,
		RequisitionID:  r.ID,
		EventType:      plan.EventType,
		RecipientRoles: plan.Recipients,
		Payload: map[string]interface{}{
			"requisition_id": r.ID,
			"title":          r.Title,
			"total":          r.Total,
			"prior_state":    string(prior),
			"new_state":      string(r.State),
			"requester_id":   r.RequesterID,
		},
		IdempotencyKey: notify.IdempotencyKey(r.ID, action, r.State),
	}
	if _, err := e.notifier.Enqueue(ctx, event); err != nil {
		e.logger.Error("failed to enqueue notification",
			"requisition_id", r.ID, "action", action, "error", err)
	}
}
