// Package models - workflow_role.go defines the per-project workflow capability a user
// holds, distinct from the organization-level Membership role.
package models

import "time"

// WorkflowRole is a per-(user, project) capability in the requisition
// workflow. A user may hold different workflow roles on different projects.
type WorkflowRole string

const (
	RoleSubmitter    WorkflowRole = "submitter"
	RoleReviewer     WorkflowRole = "reviewer"
	RoleApprover     WorkflowRole = "approver"
	RoleStoreManager WorkflowRole = "store_manager"
)

// ValidWorkflowRoles returns all assignable workflow roles.
func ValidWorkflowRoles() []WorkflowRole {
	return []WorkflowRole{RoleSubmitter, RoleReviewer, RoleApprover, RoleStoreManager}
}

// ProjectRole is the assignment of a workflow role to a user on a project.
type ProjectRole struct {
	ProjectID string       `json:"project_id"`
	UserID    string       `json:"user_id"`
	Role      WorkflowRole `json:"role"`
	CreatedAt time.Time    `json:"created_at"`
}
