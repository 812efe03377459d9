package ledger

import "errors"

var (
	// ErrBudgetExceeded means the requested amount does not fit in the
	// account's available budget. A business-rule rejection, surfaced to the
	// user for remediation and never retried automatically.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrConcurrencyConflict means the bounded optimistic-retry loop lost
	// every round against concurrent writers. Transient; callers may retry
	// with backoff.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrAccountNotFound means the budget account does not exist.
	ErrAccountNotFound = errors.New("budget account not found")

	// ErrReservationNotFound means the reservation token is unknown,
	// already committed, or already released.
	ErrReservationNotFound = errors.New("reservation not found")
)
