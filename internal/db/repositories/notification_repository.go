// notification_repository.go implements NotificationRepository, the durable
// outbox behind the notification dispatcher. The unique constraint on
// idempotency_key is what makes concurrent enqueues of the same transition
// collapse to one event.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/procureflow/procureflow/internal/db/models"
	"github.com/procureflow/procureflow/internal/notify"
)

// NotificationRepository handles database operations for notification events.
// It satisfies notify.Store.
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const notificationColumns = `id, organization_id, requisition_id, event_type, recipient_roles,
		payload, idempotency_key, status, retry_count, created_at, updated_at`

// InsertEvent appends one outbox event. A duplicate idempotency key maps to
// notify.ErrDuplicateKey so the dispatcher can resolve the race.
func (r *NotificationRepository) InsertEvent(ctx context.Context, event *models.NotificationEvent) error {
	roles, err := json.Marshal(event.RecipientRoles)
	if err != nil {
		return fmt.Errorf("failed to encode recipient roles: %w", err)
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	query := `
		INSERT INTO notification_events (id, organization_id, requisition_id, event_type,
		                                 recipient_roles, payload, idempotency_key, status, retry_count,
		                                 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		event.OrganizationID,
		event.RequisitionID,
		event.EventType,
		roles,
		payload,
		event.IdempotencyKey,
		event.Status,
		event.RetryCount,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return notify.ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert notification event: %w", err)
	}

	return nil
}

// GetEventByKey retrieves an event by idempotency key
func (r *NotificationRepository) GetEventByKey(ctx context.Context, idempotencyKey string) (*models.NotificationEvent, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notification_events
		WHERE idempotency_key = $1
	`

	event, err := scanNotificationEvent(r.db.QueryRowContext(ctx, query, idempotencyKey))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get notification event: %w", err)
	}

	return event, nil
}

// ListPending returns pending events oldest first, for the mailer job
func (r *NotificationRepository) ListPending(ctx context.Context, limit int) ([]*models.NotificationEvent, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notification_events
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending events: %w", err)
	}
	defer rows.Close()

	var events []*models.NotificationEvent
	for rows.Next() {
		event, err := scanNotificationEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification event: %w", err)
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// ListByOrganization returns an organization's events newest first
func (r *NotificationRepository) ListByOrganization(ctx context.Context, orgID string, limit, offset int) ([]*models.NotificationEvent, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notification_events
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification events: %w", err)
	}
	defer rows.Close()

	var events []*models.NotificationEvent
	for rows.Next() {
		event, err := scanNotificationEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification event: %w", err)
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// UpdateStatus records a delivery attempt's outcome
func (r *NotificationRepository) UpdateStatus(ctx context.Context, eventID string, status models.NotificationStatus, retryCount int) error {
	query := `
		UPDATE notification_events
		SET status = $2, retry_count = $3, updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, eventID, status, retryCount)
	if err != nil {
		return fmt.Errorf("failed to update notification status: %w", err)
	}

	return nil
}

func scanNotificationEvent(row rowScanner) (*models.NotificationEvent, error) {
	event := &models.NotificationEvent{}
	var roles, payload []byte
	err := row.Scan(
		&event.ID,
		&event.OrganizationID,
		&event.RequisitionID,
		&event.EventType,
		&roles,
		&payload,
		&event.IdempotencyKey,
		&event.Status,
		&event.RetryCount,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(roles) > 0 {
		if err := json.Unmarshal(roles, &event.RecipientRoles); err != nil {
			return nil, fmt.Errorf("failed to decode recipient roles: %w", err)
		}
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &event.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload: %w", err)
		}
	}
	return event, nil
}
