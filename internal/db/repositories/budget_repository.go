// budget_repository.go implements BudgetRepository, the persistence backend for
// the budget ledger. Account balance writes are guarded by an optimistic
// version check so concurrent reservations cannot overdraw an account.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/procureflow/procureflow/internal/db/models"
	"github.com/procureflow/procureflow/internal/ledger"
)

// BudgetRepository handles database operations for budget accounts and
// reservations. It satisfies ledger.AccountStore and ledger.ReservationStore.
type BudgetRepository struct {
	db *sql.DB
}

// NewBudgetRepository creates a new budget repository
func NewBudgetRepository(db *sql.DB) *BudgetRepository {
	return &BudgetRepository{db: db}
}

// GetAccount retrieves a budget account by ID
func (r *BudgetRepository) GetAccount(ctx context.Context, accountID string) (*models.BudgetAccount, error) {
	query := `
		SELECT id, project_id, code, allocated, committed, reserved, version, created_at, updated_at
		FROM budget_accounts
		WHERE id = $1
	`

	acc := &models.BudgetAccount{}
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(
		&acc.ID,
		&acc.ProjectID,
		&acc.Code,
		&acc.Allocated,
		&acc.Committed,
		&acc.Reserved,
		&acc.Version,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get budget account: %w", err)
	}

	return acc, nil
}

// UpdateWithVersion writes the account's balances only if the stored version
// still equals expectedVersion. On success the version is bumped and written
// back into the passed struct; returns false when another writer got there
// first.
func (r *BudgetRepository) UpdateWithVersion(ctx context.Context, account *models.BudgetAccount, expectedVersion int64) (bool, error) {
	query := `
		UPDATE budget_accounts
		SET allocated = $2, committed = $3, reserved = $4, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $5
	`

	result, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.Allocated,
		account.Committed,
		account.Reserved,
		expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update budget account: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return false, nil // Version mismatch; caller retries
	}

	account.Version = expectedVersion + 1
	return true, nil
}

// CreateAccount creates a new budget account under a project
func (r *BudgetRepository) CreateAccount(ctx context.Context, acc *models.BudgetAccount) error {
	query := `
		INSERT INTO budget_accounts (project_id, code, allocated)
		VALUES ($1, $2, $3)
		RETURNING id, committed, reserved, version, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query, acc.ProjectID, acc.Code, acc.Allocated).Scan(
		&acc.ID,
		&acc.Committed,
		&acc.Reserved,
		&acc.Version,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create budget account: %w", err)
	}

	return nil
}

// ListByProject lists all budget accounts of a project
func (r *BudgetRepository) ListByProject(ctx context.Context, projectID string) ([]*models.BudgetAccount, error) {
	query := `
		SELECT id, project_id, code, allocated, committed, reserved, version, created_at, updated_at
		FROM budget_accounts
		WHERE project_id = $1
		ORDER BY code
	`

	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list budget accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.BudgetAccount
	for rows.Next() {
		acc := &models.BudgetAccount{}
		err := rows.Scan(
			&acc.ID,
			&acc.ProjectID,
			&acc.Code,
			&acc.Allocated,
			&acc.Committed,
			&acc.Reserved,
			&acc.Version,
			&acc.CreatedAt,
			&acc.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan budget account: %w", err)
		}
		accounts = append(accounts, acc)
	}

	return accounts, rows.Err()
}

// === Reservation Operations ===

// CreateReservation persists a reservation taken by the ledger
func (r *BudgetRepository) CreateReservation(ctx context.Context, res *ledger.Reservation) error {
	query := `
		INSERT INTO budget_reservations (token, account_id, amount, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.ExecContext(ctx, query, res.Token, res.AccountID, res.Amount, res.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create reservation: %w", err)
	}

	return nil
}

// GetReservation retrieves a reservation by token
func (r *BudgetRepository) GetReservation(ctx context.Context, token string) (*ledger.Reservation, error) {
	query := `
		SELECT token, account_id, amount, created_at
		FROM budget_reservations
		WHERE token = $1
	`

	res := &ledger.Reservation{}
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&res.Token,
		&res.AccountID,
		&res.Amount,
		&res.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}

	return res, nil
}

// DeleteReservation removes a reservation after commit or release
func (r *BudgetRepository) DeleteReservation(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM budget_reservations WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("failed to delete reservation: %w", err)
	}

	return nil
}
