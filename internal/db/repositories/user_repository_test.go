package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/procureflow/procureflow/internal/db/models"
)

var errDB = errors.New("db error")

var userCols = []string{"id", "email", "name", "created_at", "updated_at"}

func sampleUserRow() *sqlmock.Rows {
	return sqlmock.NewRows(userCols).
		AddRow("user-1", "alice@example.com", "Alice", time.Now(), time.Now())
}

func newUserRepo(t *testing.T) (*UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewUserRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func TestUserGetByID_Found(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM users WHERE id").
		WithArgs("user-1").
		WillReturnRows(sampleUserRow())

	user, err := repo.GetByID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil {
		t.Fatal("expected user, got nil")
	}
	if user.Email != "alice@example.com" {
		t.Errorf("Email = %s, want alice@example.com", user.Email)
	}
}

func TestUserGetByID_NotFound(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM users WHERE id").
		WillReturnRows(sqlmock.NewRows(userCols))

	user, err := repo.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != nil {
		t.Error("expected nil, got non-nil")
	}
}

func TestUserGetByEmail_Found(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM users WHERE email").
		WithArgs("alice@example.com").
		WillReturnRows(sampleUserRow())

	user, err := repo.GetByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil {
		t.Fatal("expected user, got nil")
	}
}

func TestCreateUser_Success(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("INSERT INTO users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow("user-new", time.Now(), time.Now()))

	user := &models.User{Email: "bob@example.com", Name: "Bob"}
	if err := repo.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != "user-new" {
		t.Errorf("ID = %s, want user-new", user.ID)
	}
}

func TestCreateUser_DBError(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("INSERT INTO users").
		WillReturnError(errDB)

	user := &models.User{Email: "bob@example.com"}
	if err := repo.CreateUser(context.Background(), user); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestUpdateUser_Success(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectExec("UPDATE users").
		WillReturnResult(sqlmock.NewResult(0, 1))

	user := &models.User{ID: "user-1", Name: "Alice Updated"}
	if err := repo.UpdateUser(context.Background(), user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
