// Package ledger tracks allocated versus committed spend per budget account
// and exposes the reserve/commit/release operations the workflow engine uses
// as transition side effects.
//
// A reservation earmarks an amount without permanently consuming it, so the
// workflow can re-validate totals at approval time (line items may have been
// edited between submission and approval). Commit is the only operation that
// permanently reduces the available budget.
//
// All three operations run an optimistic read-compute-write cycle against the
// account's version column: read the account, compute the new balances, write
// only if the version is unchanged. On a version miss the cycle retries with
// exponential backoff a bounded number of times before surfacing
// ErrConcurrencyConflict. The invariant committed + reserved <= allocated is
// checked on every reserve, so available never goes negative.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/procureflow/procureflow/internal/db/models"
)

// DefaultMaxRetries bounds the optimistic retry loop. Past this many version
// misses the account is under heavy contention and the caller gets
// ErrConcurrencyConflict instead of more spinning.
const DefaultMaxRetries = 5

// Reservation is an earmark of amount against an account, identified by an
// opaque token the workflow stores on the requisition.
type Reservation struct {
	Token     string    `db:"token" json:"token"`
	AccountID string    `db:"account_id" json:"account_id"`
	Amount    int64     `db:"amount" json:"amount"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AccountStore is the persistence surface the ledger needs: a point read and
// a guarded write. UpdateWithVersion must persist the account's new balances
// and bump the version only if the stored version still equals
// expectedVersion, returning false (and writing nothing) otherwise.
type AccountStore interface {
	GetAccount(ctx context.Context, accountID string) (*models.BudgetAccount, error)
	UpdateWithVersion(ctx context.Context, account *models.BudgetAccount, expectedVersion int64) (bool, error)
}

// ReservationStore persists reservations between Reserve and the eventual
// Commit or Release.
type ReservationStore interface {
	CreateReservation(ctx context.Context, r *Reservation) error
	GetReservation(ctx context.Context, token string) (*Reservation, error)
	DeleteReservation(ctx context.Context, token string) error
}

// Ledger coordinates budget accounting over an AccountStore and a
// ReservationStore. Safe for concurrent use; all synchronization happens
// through the store's version check.
type Ledger struct {
	accounts     AccountStore
	reservations ReservationStore
	maxRetries   uint
	logger       *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMaxRetries overrides the bounded retry count for the optimistic loop.
func WithMaxRetries(n uint) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxRetries = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New creates a Ledger over the given stores.
func New(accounts AccountStore, reservations ReservationStore, opts ...Option) *Ledger {
	l := &Ledger{
		accounts:     accounts,
		reservations: reservations,
		maxRetries:   DefaultMaxRetries,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Reserve earmarks amount against the account and returns a reservation
// token. Fails with ErrBudgetExceeded if the amount does not fit in the
// available budget, or ErrConcurrencyConflict if the retry budget runs out.
func (l *Ledger) Reserve(ctx context.Context, accountID string, amount int64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("reserve amount must be positive, got %d", amount)
	}

	err := l.casUpdate(ctx, accountID, func(acc *models.BudgetAccount) error {
		if acc.Available() < amount {
			return backoff.Permanent(fmt.Errorf("%w: requested %d, available %d on account %s",
				ErrBudgetExceeded, amount, acc.Available(), accountID))
		}
		acc.Reserved += amount
		return nil
	})
	if err != nil {
		return "", err
	}

	res := &Reservation{
		Token:     uuid.New().String(),
		AccountID: accountID,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.reservations.CreateReservation(ctx, res); err != nil {
		// Undo the earmark so the account does not leak reserved budget.
		if relErr := l.casUpdate(ctx, accountID, func(acc *models.BudgetAccount) error {
			acc.Reserved -= amount
			return nil
		}); relErr != nil {
			l.logger.Error("failed to roll back reservation earmark",
				"account_id", accountID, "amount", amount, "error", relErr)
		}
		return "", fmt.Errorf("failed to persist reservation: %w", err)
	}

	l.logger.Debug("budget reserved",
		"account_id", accountID, "amount", amount, "token", res.Token)
	return res.Token, nil
}

// Commit turns a reservation into committed spend. This is the only
// operation that permanently reduces the available budget.
func (l *Ledger) Commit(ctx context.Context, token string) error {
	res, err := l.lookupReservation(ctx, token)
	if err != nil {
		return err
	}

	err = l.casUpdate(ctx, res.AccountID, func(acc *models.BudgetAccount) error {
		acc.Reserved -= res.Amount
		acc.Committed += res.Amount
		return nil
	})
	if err != nil {
		return err
	}

	if err := l.reservations.DeleteReservation(ctx, token); err != nil {
		return fmt.Errorf("failed to delete committed reservation %s: %w", token, err)
	}

	l.logger.Debug("budget committed",
		"account_id", res.AccountID, "amount", res.Amount, "token", token)
	return nil
}

// Release returns a reservation's amount to the available budget, for
// rejected or cancelled requisitions.
func (l *Ledger) Release(ctx context.Context, token string) error {
	res, err := l.lookupReservation(ctx, token)
	if err != nil {
		return err
	}

	err = l.casUpdate(ctx, res.AccountID, func(acc *models.BudgetAccount) error {
		acc.Reserved -= res.Amount
		return nil
	})
	if err != nil {
		return err
	}

	if err := l.reservations.DeleteReservation(ctx, token); err != nil {
		return fmt.Errorf("failed to delete released reservation %s: %w", token, err)
	}

	l.logger.Debug("budget released",
		"account_id", res.AccountID, "amount", res.Amount, "token", token)
	return nil
}

func (l *Ledger) lookupReservation(ctx context.Context, token string) (*Reservation, error) {
	if token == "" {
		return nil, ErrReservationNotFound
	}
	res, err := l.reservations.GetReservation(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to load reservation %s: %w", token, err)
	}
	if res == nil {
		return nil, fmt.Errorf("%w: %s", ErrReservationNotFound, token)
	}
	return res, nil
}

// casUpdate runs one read-compute-write cycle per attempt: load the account,
// apply mutate, and write guarded by the version read. Version misses retry
// with exponential backoff until maxRetries, then surface
// ErrConcurrencyConflict.
func (l *Ledger) casUpdate(ctx context.Context, accountID string, mutate func(*models.BudgetAccount) error) error {
	attempt := func() (struct{}, error) {
		acc, err := l.accounts.GetAccount(ctx, accountID)
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("failed to load account %s: %w", accountID, err))
		}
		if acc == nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: %s", ErrAccountNotFound, accountID))
		}

		expected := acc.Version
		if err := mutate(acc); err != nil {
			return struct{}{}, err
		}
		if acc.Committed+acc.Reserved > acc.Allocated || acc.Committed < 0 || acc.Reserved < 0 {
			return struct{}{}, backoff.Permanent(fmt.Errorf(
				"account %s balance invariant violated: allocated=%d committed=%d reserved=%d",
				accountID, acc.Allocated, acc.Committed, acc.Reserved))
		}

		ok, err := l.accounts.UpdateWithVersion(ctx, acc, expected)
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("failed to write account %s: %w", accountID, err))
		}
		if !ok {
			// Lost the race; retryable.
			return struct{}{}, fmt.Errorf("%w: account %s version %d", ErrConcurrencyConflict, accountID, expected)
		}
		return struct{}{}, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Millisecond
	bo.MaxInterval = 50 * time.Millisecond

	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(l.maxRetries))
	return err
}
