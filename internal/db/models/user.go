// Package models - user.go defines the User model for accounts with email and
// display name.
package models

import "time"

// User represents a user account. Organization and workflow roles live in
// Membership and ProjectRole; the user row itself is tenant-neutral.
type User struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
