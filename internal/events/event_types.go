package events

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated            EventType = "ticket_created"
	EventTicketAssigned           EventType = "ticket_assigned"
	EventTicketStatusChanged      EventType = "ticket_status_changed"
	EventTicketEscalated          EventType = "ticket_escalated"
	EventTicketAutoClosed         EventType = "ticket_auto_closed"
	EventTicketResolutionRejected EventType = "ticket_resolution_rejected"
	EventTicketCommentAdded       EventType = "ticket_comment_added"
	EventTicketDeleted            EventType = "ticket_deleted"
)

// Actor encapsulates actor metadata for an event. UserID is nil for
// changes applied by the SLA engine.
type Actor struct {
	Role   *domain.Role `json:"role,omitempty"`
	UserID *string      `json:"user_id,omitempty"`
}

// SystemActor marks an event produced by time-based reconciliation.
func SystemActor() Actor { return Actor{} }

// PrincipalActor marks an event produced by a person.
func PrincipalActor(id string, role domain.Role) Actor {
	return Actor{Role: &role, UserID: &id}
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Title       string                `json:"title"`
	Priority    domain.TicketPriority `json:"priority"`
	SLADeadline time.Time             `json:"sla_deadline"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	AgentID string `json:"agent_id"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
}

// TicketEscalatedPayload payload.
type TicketEscalatedPayload struct {
	Reason          string                `json:"reason"`
	NewPriority     domain.TicketPriority `json:"new_priority"`
	EscalationCount int                   `json:"escalation_count"`
}

// TicketCommentAddedPayload payload.
type TicketCommentAddedPayload struct {
	CommentID     string `json:"comment_id"`
	AuthorID      string `json:"author_id"`
	FirstResponse bool   `json:"first_response"`
}
