// Package models - notification_event.go defines the NotificationEvent outbox record.
// Events are written once per workflow transition, deduplicated by an
// idempotency key, and consumed by the background mailer job.
package models

import "time"

// NotificationStatus is the delivery status of an event.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// NotificationEvent is one durable outbox entry. The core guarantees
// enqueue-once per transition via the idempotency key; delivery and retry are
// the mailer's concern.
type NotificationEvent struct {
	ID             string                 `json:"id"`
	OrganizationID string                 `json:"organization_id"`
	RequisitionID  string                 `json:"requisition_id"`
	EventType      string                 `json:"event_type"`      // "requisition.submitted", "requisition.approved", ...
	RecipientRoles []string               `json:"recipient_roles"` // workflow roles to notify, e.g. ["reviewer"]
	Payload        map[string]interface{} `json:"payload,omitempty"`
	// IdempotencyKey is requisitionID:action:toState. A retried transition
	// re-enqueues with the same key and must not produce a second event.
	IdempotencyKey string             `json:"idempotency_key"`
	Status         NotificationStatus `json:"status"`
	RetryCount     int                `json:"retry_count"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}
