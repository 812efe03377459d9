package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/procureflow/procureflow/internal/db/models"
	"github.com/procureflow/procureflow/internal/notify"
)

var notificationCols = []string{
	"id", "organization_id", "requisition_id", "event_type", "recipient_roles",
	"payload", "idempotency_key", "status", "retry_count", "created_at", "updated_at",
}

func sampleNotificationRow() *sqlmock.Rows {
	return sqlmock.NewRows(notificationCols).
		AddRow("evt-1", "org-1", "req-1", "requisition.submitted",
			[]byte(`["reviewer"]`), []byte(`{"total":400}`),
			"req-1:submit:pending", "pending", 0, time.Now(), time.Now())
}

func newNotificationRepo(t *testing.T) (*NotificationRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewNotificationRepository(db), mock
}

func sampleEvent() *models.NotificationEvent {
	return &models.NotificationEvent{
		ID:             "evt-1",
		OrganizationID: "org-1",
		RequisitionID:  "req-1",
		EventType:      "requisition.submitted",
		RecipientRoles: []string{"reviewer"},
		Payload:        map[string]interface{}{"total": 400},
		IdempotencyKey: "req-1:submit:pending",
		Status:         models.NotificationPending,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
}

func TestInsertEvent_Success(t *testing.T) {
	repo, mock := newNotificationRepo(t)
	mock.ExpectExec("INSERT INTO notification_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.InsertEvent(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestInsertEvent_DuplicateKey(t *testing.T) {
	repo, mock := newNotificationRepo(t)
	mock.ExpectExec("INSERT INTO notification_events").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.InsertEvent(context.Background(), sampleEvent())
	if !errors.Is(err, notify.ErrDuplicateKey) {
		t.Fatalf("err = %v, want ErrDuplicateKey", err)
	}
}

func TestInsertEvent_OtherDBError(t *testing.T) {
	repo, mock := newNotificationRepo(t)
	mock.ExpectExec("INSERT INTO notification_events").
		WillReturnError(errDB)

	err := repo.InsertEvent(context.Background(), sampleEvent())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if errors.Is(err, notify.ErrDuplicateKey) {
		t.Error("generic failure must not map to ErrDuplicateKey")
	}
}

func TestGetEventByKey_Found(t *testing.T) {
	repo, mock := newNotificationRepo(t)
	mock.ExpectQuery("SELECT.*FROM notification_events WHERE idempotency_key").
		WithArgs("req-1:submit:pending").
		WillReturnRows(sampleNotificationRow())

	event, err := repo.GetEventByKey(context.Background(), "req-1:submit:pending")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event == nil {
		t.Fatal("expected event, got nil")
	}
	if len(event.RecipientRoles) != 1 || event.RecipientRoles[0] != "reviewer" {
		t.Errorf("RecipientRoles = %v, want [reviewer]", event.RecipientRoles)
	}
}

func TestGetEventByKey_NotFound(t *testing.T) {
	repo, mock := newNotificationRepo(t)
	mock.ExpectQuery("SELECT.*FROM notification_events WHERE idempotency_key").
		WillReturnRows(sqlmock.NewRows(notificationCols))

	event, err := repo.GetEventByKey(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event != nil {
		t.Error("expected nil, got non-nil")
	}
}

func TestListPendingEvents(t *testing.T) {
	repo, mock := newNotificationRepo(t)
	mock.ExpectQuery("SELECT.*FROM notification_events.*WHERE status = 'pending'").
		WithArgs(50).
		WillReturnRows(sampleNotificationRow())

	events, err := repo.ListPending(context.Background(), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].Status != models.NotificationPending {
		t.Errorf("Status = %s, want pending", events[0].Status)
	}
}

func TestUpdateNotificationStatus(t *testing.T) {
	repo, mock := newNotificationRepo(t)
	mock.ExpectExec("UPDATE notification_events").
		WithArgs("evt-1", models.NotificationSent, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateStatus(context.Background(), "evt-1", models.NotificationSent, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
