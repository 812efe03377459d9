// Package models defines the database model types for the procurement backend.
// Each type corresponds to a database table. Models are pure data types —
// business logic belongs in the workflow/policy packages, query logic in the
// repositories layer.
package models

import "time"

// APIKey represents a long-lived credential for service integrations (ERP
// sync, reporting extracts). Keys are scoped to one organization and carry an
// org role used by the policy evaluator exactly as a user membership would.
type APIKey struct {
	ID             string     `json:"id"`
	UserID         *string    `json:"user_id,omitempty"` // Optional: can be a service account key
	OrganizationID string     `json:"organization_id"`
	Name           string     `json:"name"`       // Friendly name (e.g., "ERP Export Key")
	KeyHash        string     `json:"-"`          // Bcrypt hash of the full key, never serialized
	KeyPrefix      string     `json:"key_prefix"` // First 8-10 chars for display (e.g., "prq_abc123")
	OrgRole        OrgRole    `json:"org_role"`   // Role the key acts with inside its organization
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
