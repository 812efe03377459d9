package workflow

import "errors"

var (
	// ErrInvalidTransition means no table row exists for (current state,
	// action). This is a caller bug or stale client state; it is surfaced
	// verbatim and never retried.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrConcurrencyConflict means a concurrent transition on the same
	// requisition won the race. Transient; safe to retry after re-reading.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrNotFound means the requisition does not exist in the actor's
	// organization. Cross-tenant lookups produce this same error so the
	// payload never reveals whether the entity exists elsewhere.
	ErrNotFound = errors.New("requisition not found")

	// ErrDenied means the policy evaluator refused the transition.
	ErrDenied = errors.New("authorization denied")

	// ErrOrgInactive means the organization is suspended and accepts no
	// mutations.
	ErrOrgInactive = errors.New("organization is not active")
)
