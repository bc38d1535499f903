package domain

import "time"

// Role enumerates principal roles known to the helpdesk.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleAgent    Role = "agent"
	RoleCustomer Role = "customer"
)

// Valid reports whether the role is known.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAgent, RoleCustomer:
		return true
	}
	return false
}

// User is the domain model for everyone who touches tickets. Identity and
// credentials are owned by the external auth service; this service only
// reads users to resolve roles and display names.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

// AgentStats aggregates per-agent ticket counts for the admin dashboard.
type AgentStats struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	InProgress int    `json:"in_progress"`
	Resolved   int    `json:"resolved"`
	Closed     int    `json:"closed"`
}
