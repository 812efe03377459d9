// Package notify implements the notification outbox. The workflow engine
// enqueues one event per executed transition as a durable local write; the
// background mailer job reads pending events and handles actual delivery and
// retry. Enqueue never blocks on network I/O.
//
// Enqueue is idempotent: the idempotency key is derived from the requisition,
// the transition verb, and the target state, so a retried transition that
// calls Enqueue again lands on the existing event instead of producing a
// duplicate delivery.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/procureflow/procureflow/internal/db/models"
)

// ErrDuplicateKey is returned by Store implementations when an insert loses a
// race against another writer using the same idempotency key. The dispatcher
// resolves it by returning the event that won.
var ErrDuplicateKey = errors.New("duplicate idempotency key")

// Store persists outbox events. InsertEvent must enforce idempotency-key
// uniqueness and return ErrDuplicateKey on violation.
type Store interface {
	InsertEvent(ctx context.Context, event *models.NotificationEvent) error
	GetEventByKey(ctx context.Context, idempotencyKey string) (*models.NotificationEvent, error)
}

// IdempotencyKey derives the dedup key for one transition on one requisition.
func IdempotencyKey(requisitionID string, action models.Action, toState models.RequisitionState) string {
	return fmt.Sprintf("%s:%s:%s", requisitionID, action, toState)
}

// Dispatcher is the enqueue side of the outbox.
type Dispatcher struct {
	store  Store
	logger *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// NewDispatcher creates a Dispatcher over the given store.
func NewDispatcher(store Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue durably records the event and returns its ID. When an event with
// the same idempotency key already exists, the existing event's ID is
// returned and nothing new is written.
func (d *Dispatcher) Enqueue(ctx context.Context, event *models.NotificationEvent) (string, error) {
	if event.IdempotencyKey == "" {
		return "", fmt.Errorf("notification event requires an idempotency key")
	}

	existing, err := d.store.GetEventByKey(ctx, event.IdempotencyKey)
	if err != nil {
		return "", fmt.Errorf("failed to check idempotency key %s: %w", event.IdempotencyKey, err)
	}
	if existing != nil {
		d.logger.Debug("notification enqueue deduplicated",
			"idempotency_key", event.IdempotencyKey, "event_id", existing.ID)
		return existing.ID, nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Status == "" {
		event.Status = models.NotificationPending
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	if err := d.store.InsertEvent(ctx, event); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			// Lost the insert race; the winner's event is the logical one.
			winner, getErr := d.store.GetEventByKey(ctx, event.IdempotencyKey)
			if getErr != nil || winner == nil {
				return "", fmt.Errorf("failed to resolve duplicate key %s: %v", event.IdempotencyKey, getErr)
			}
			return winner.ID, nil
		}
		return "", fmt.Errorf("failed to enqueue notification: %w", err)
	}

	d.logger.Debug("notification enqueued",
		"event_id", event.ID, "event_type", event.EventType,
		"requisition_id", event.RequisitionID, "recipient_roles", event.RecipientRoles)
	return event.ID, nil
}
