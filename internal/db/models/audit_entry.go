// Package models - audit_entry.go defines the AuditEntry model for recording workflow
// state changes and denied mutation attempts. Entries are immutable once
// written; no update or delete path exists anywhere in the codebase.
package models

import "time"

// AuditEntry represents one append-only audit record. Entries are produced
// only by the workflow engine (on every executed transition) and by the deny
// path of the policy gate (on mutation attempts).
type AuditEntry struct {
	ID             string                 `json:"id"`
	ActorID        *string                `json:"actor_id,omitempty"` // Nullable for system actions
	OrganizationID *string                `json:"organization_id,omitempty"`
	Action         string                 `json:"action"`                // "requisition.approve", "policy.deny", "organization.suspend"
	EntityType     *string                `json:"entity_type,omitempty"` // "requisition", "budget_account", "organization"
	EntityID       *string                `json:"entity_id,omitempty"`
	PriorState     *string                `json:"prior_state,omitempty"`
	NewState       *string                `json:"new_state,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"` // JSONB: additional context
	IPAddress      *string                `json:"ip_address,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}
