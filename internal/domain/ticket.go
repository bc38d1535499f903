package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
)

// Valid reports whether the status is a known lifecycle state.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

// Valid reports whether the priority is a known level.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityUrgent:
		return true
	}
	return false
}

// EscalatePriority returns the next priority level. Urgent is terminal:
// escalating an urgent ticket yields urgent again.
func EscalatePriority(p TicketPriority) TicketPriority {
	switch p {
	case TicketPriorityLow:
		return TicketPriorityMedium
	case TicketPriorityMedium:
		return TicketPriorityHigh
	case TicketPriorityHigh, TicketPriorityUrgent:
		return TicketPriorityUrgent
	}
	return p
}

// Ticket is the aggregate for support requests. Version guards optimistic
// updates: every persisted mutation increments it, and a writer presenting
// a stale version is rejected.
type Ticket struct {
	ID          string
	Title       string
	Description string
	Status      TicketStatus
	Priority    TicketPriority
	CustomerID  string
	AgentID     *string

	CreatedAt       time.Time
	UpdatedAt       time.Time
	FirstResponseAt *time.Time
	ResolvedAt      *time.Time
	ClosedAt        *time.Time

	SLADeadline              *time.Time
	CustomerResponseDeadline *time.Time
	Escalated                bool
	EscalationCount          int

	Version int64
}

// AssignedTo reports whether the ticket is claimed by the given agent.
func (t *Ticket) AssignedTo(agentID string) bool {
	return t.AgentID != nil && *t.AgentID == agentID
}

// Unassigned reports whether the ticket has no agent.
func (t *Ticket) Unassigned() bool {
	return t.AgentID == nil
}
