// Package models contains the domain entities and request/response types
// shared across the runtime.
package models

import "time"

// UserRole controls what a user may do inside a tenant.
type UserRole string

const (
	RoleAdmin  UserRole = "admin"
	RoleUser   UserRole = "user"
	RoleViewer UserRole = "viewer"
)

// Tenant is an isolated customer workspace. Every row in every table hangs
// off a tenant and every query is scoped by tenant ID.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a human account within a tenant.
type User struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	Email       string         `json:"email"`
	DisplayName string         `json:"display_name"`
	Role        UserRole       `json:"role"`
	Preferences map[string]any `json:"preferences,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
