// Package models - project.go defines the Project and BudgetAccount models. A project
// belongs to exactly one organization and holds one or more budget accounts
// against which requisitions are raised.
package models

import "time"

// Project represents a procurement project within an organization.
type Project struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Description    *string   `json:"description,omitempty"`
	Status         string    `json:"status"` // "open", "closed"
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// BudgetAccount tracks allocated versus committed spend for one account of a
// project. Available funds are allocated − committed − reserved and must never
// go negative. Version is the optimistic concurrency token: every write
// increments it, and writers re-read and retry on mismatch.
type BudgetAccount struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Code      string    `json:"code"`      // e.g. "CAPEX-2026"
	Allocated int64     `json:"allocated"` // minor currency units
	Committed int64     `json:"committed"`
	Reserved  int64     `json:"reserved"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Available returns the funds still open for reservation.
func (a *BudgetAccount) Available() int64 {
	return a.Allocated - a.Committed - a.Reserved
}
