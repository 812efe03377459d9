package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/procureflow/procureflow/internal/db/models"
	"github.com/procureflow/procureflow/internal/ledger"
)

var budgetAccountCols = []string{
	"id", "project_id", "code", "allocated", "committed", "reserved", "version",
	"created_at", "updated_at",
}
var reservationCols = []string{"token", "account_id", "amount", "created_at"}

func sampleAccountRow() *sqlmock.Rows {
	return sqlmock.NewRows(budgetAccountCols).
		AddRow("acct-1", "proj-1", "CAPEX-2026", int64(1000), int64(0), int64(0), int64(3), time.Now(), time.Now())
}

func newBudgetRepo(t *testing.T) (*BudgetRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewBudgetRepository(db), mock
}

func TestGetAccount_Found(t *testing.T) {
	repo, mock := newBudgetRepo(t)
	mock.ExpectQuery("SELECT.*FROM budget_accounts WHERE id").
		WithArgs("acct-1").
		WillReturnRows(sampleAccountRow())

	acc, err := repo.GetAccount(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acc == nil {
		t.Fatal("expected account, got nil")
	}
	if acc.Allocated != 1000 || acc.Version != 3 {
		t.Errorf("Allocated = %d, Version = %d, want 1000, 3", acc.Allocated, acc.Version)
	}
	if acc.Available() != 1000 {
		t.Errorf("Available() = %d, want 1000", acc.Available())
	}
}

func TestGetAccount_NotFound(t *testing.T) {
	repo, mock := newBudgetRepo(t)
	mock.ExpectQuery("SELECT.*FROM budget_accounts WHERE id").
		WillReturnRows(sqlmock.NewRows(budgetAccountCols))

	acc, err := repo.GetAccount(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acc != nil {
		t.Error("expected nil, got non-nil")
	}
}

func TestUpdateWithVersion_Success(t *testing.T) {
	repo, mock := newBudgetRepo(t)
	mock.ExpectExec("UPDATE budget_accounts.*WHERE id = \\$1 AND version").
		WithArgs("acct-1", int64(1000), int64(400), int64(0), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	acc := &models.BudgetAccount{ID: "acct-1", Allocated: 1000, Committed: 400, Reserved: 0, Version: 3}
	ok, err := repo.UpdateWithVersion(context.Background(), acc, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected write to apply")
	}
	if acc.Version != 4 {
		t.Errorf("Version = %d, want 4 after successful write", acc.Version)
	}
}

func TestUpdateWithVersion_Conflict(t *testing.T) {
	repo, mock := newBudgetRepo(t)
	mock.ExpectExec("UPDATE budget_accounts.*WHERE id = \\$1 AND version").
		WillReturnResult(sqlmock.NewResult(0, 0))

	acc := &models.BudgetAccount{ID: "acct-1", Version: 3}
	ok, err := repo.UpdateWithVersion(context.Background(), acc, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected version conflict, got applied write")
	}
	if acc.Version != 3 {
		t.Errorf("Version = %d, want unchanged 3 on conflict", acc.Version)
	}
}

func TestUpdateWithVersion_DBError(t *testing.T) {
	repo, mock := newBudgetRepo(t)
	mock.ExpectExec("UPDATE budget_accounts").
		WillReturnError(errDB)

	acc := &models.BudgetAccount{ID: "acct-1"}
	if _, err := repo.UpdateWithVersion(context.Background(), acc, 0); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestCreateAccount_Success(t *testing.T) {
	repo, mock := newBudgetRepo(t)
	mock.ExpectQuery("INSERT INTO budget_accounts").
		WillReturnRows(sqlmock.NewRows([]string{"id", "committed", "reserved", "version", "created_at", "updated_at"}).
			AddRow("acct-new", int64(0), int64(0), int64(0), time.Now(), time.Now()))

	acc := &models.BudgetAccount{ProjectID: "proj-1", Code: "OPEX-2026", Allocated: 5000}
	if err := repo.CreateAccount(context.Background(), acc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acc.ID != "acct-new" {
		t.Errorf("ID = %s, want acct-new", acc.ID)
	}
}

func TestCreateReservation_Success(t *testing.T) {
	repo, mock := newBudgetRepo(t)
	mock.ExpectExec("INSERT INTO budget_reservations").
		WithArgs("tok-1", "acct-1", int64(400), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res := &ledger.Reservation{Token: "tok-1", AccountID: "acct-1", Amount: 400, CreatedAt: time.Now()}
	if err := repo.CreateReservation(context.Background(), res); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetReservation_Found(t *testing.T) {
	repo, mock := newBudgetRepo(t)
	mock.ExpectQuery("SELECT.*FROM budget_reservations WHERE token").
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows(reservationCols).
			AddRow("tok-1", "acct-1", int64(400), time.Now()))

	res, err := repo.GetReservation(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res == nil {
		t.Fatal("expected reservation, got nil")
	}
	if res.Amount != 400 {
		t.Errorf("Amount = %d, want 400", res.Amount)
	}
}

func TestGetReservation_NotFound(t *testing.T) {
	repo, mock := newBudgetRepo(t)
	mock.ExpectQuery("SELECT.*FROM budget_reservations WHERE token").
		WillReturnRows(sqlmock.NewRows(reservationCols))

	res, err := repo.GetReservation(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != nil {
		t.Error("expected nil, got non-nil")
	}
}

func TestDeleteReservation_Success(t *testing.T) {
	repo, mock := newBudgetRepo(t)
	mock.ExpectExec("DELETE FROM budget_reservations").
		WithArgs("tok-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.DeleteReservation(context.Background(), "tok-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
