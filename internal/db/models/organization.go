// Package models - organization.go defines the Organization model representing a tenant
// boundary, including plan tier, resource limits, and lifecycle status.
package models

import "time"

// OrgStatus is the lifecycle status of an organization. Organizations are
// never physically deleted; they are soft-disabled by setting status to
// suspended.
type OrgStatus string

const (
	OrgStatusActive    OrgStatus = "active"
	OrgStatusSuspended OrgStatus = "suspended"
	OrgStatusTrial     OrgStatus = "trial"
)

// Organization represents a tenant in the system. Every resource and every
// authorization decision is scoped to exactly one organization.
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`         // URL-safe name
	DisplayName string    `json:"display_name"` // Human-readable display name
	PlanTier    string    `json:"plan_tier"`    // "free", "team", "enterprise"
	Status      OrgStatus `json:"status"`
	// Resource limits for the plan tier; zero means unlimited
	MaxUsers                int       `json:"max_users"`
	MaxProjects             int       `json:"max_projects"`
	MaxRequisitionsPerMonth int       `json:"max_requisitions_per_month"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// IsActive reports whether the organization may accept mutations.
// Trial organizations are treated as active until they are suspended.
func (o *Organization) IsActive() bool {
	return o.Status == OrgStatusActive || o.Status == OrgStatusTrial
}
