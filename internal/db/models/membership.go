// Package models - membership.go defines models for user-to-organization membership.
// The organization role (owner/admin/member) is independent of any per-project
// workflow role a user may additionally hold.
package models

import "time"

// OrgRole is a user's role within an organization.
type OrgRole string

const (
	OrgRoleOwner  OrgRole = "owner"
	OrgRoleAdmin  OrgRole = "admin"
	OrgRoleMember OrgRole = "member"
)

// IsAdmin reports whether the role carries organization administration rights
// (settings and membership changes).
func (r OrgRole) IsAdmin() bool {
	return r == OrgRoleOwner || r == OrgRoleAdmin
}

// Membership represents a user's membership in an organization. A user may
// belong to several organizations, but every request is scoped to exactly one
// of them via the credential's tenant claim.
type Membership struct {
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	Role           OrgRole   `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

// MembershipWithUser includes user details for display in member listings.
type MembershipWithUser struct {
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	Role           OrgRole   `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
	UserName       string    `json:"user_name"`
	UserEmail      string    `json:"user_email"`
}
