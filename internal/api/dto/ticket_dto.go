package dto

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Priority    domain.TicketPriority `json:"priority"`
	Attachments []AttachmentRequest   `json:"attachments"`
}

// AttachmentRequest references a blob staged through the files endpoint.
type AttachmentRequest struct {
	StorageKey string `json:"storage_key"`
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type"`
	SizeBytes  int64  `json:"size_bytes"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status domain.TicketStatus `json:"status"`
}

// AssignTicketRequest payload. AgentID defaults to the caller.
type AssignTicketRequest struct {
	AgentID *string `json:"agent_id"`
}

// CreateCommentRequest payload.
type CreateCommentRequest struct {
	Content string `json:"content"`
}

// TicketSummary response.
type TicketSummary struct {
	ID                       string                `json:"id"`
	Title                    string                `json:"title"`
	Status                   domain.TicketStatus   `json:"status"`
	Priority                 domain.TicketPriority `json:"priority"`
	CustomerID               string                `json:"customer_id"`
	AgentID                  *string               `json:"agent_id"`
	CreatedAt                time.Time             `json:"created_at"`
	UpdatedAt                time.Time             `json:"updated_at"`
	SLADeadline              *time.Time            `json:"sla_deadline"`
	CustomerResponseDeadline *time.Time            `json:"customer_response_deadline"`
	Escalated                bool                  `json:"escalated"`
	EscalationCount          int                   `json:"escalation_count"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	ID                       string                `json:"id"`
	Title                    string                `json:"title"`
	Description              string                `json:"description"`
	Status                   domain.TicketStatus   `json:"status"`
	Priority                 domain.TicketPriority `json:"priority"`
	CustomerID               string                `json:"customer_id"`
	AgentID                  *string               `json:"agent_id"`
	CreatedAt                time.Time             `json:"created_at"`
	UpdatedAt                time.Time             `json:"updated_at"`
	FirstResponseAt          *time.Time            `json:"first_response_at"`
	ResolvedAt               *time.Time            `json:"resolved_at"`
	ClosedAt                 *time.Time            `json:"closed_at"`
	SLADeadline              *time.Time            `json:"sla_deadline"`
	CustomerResponseDeadline *time.Time            `json:"customer_response_deadline"`
	Escalated                bool                  `json:"escalated"`
	EscalationCount          int                   `json:"escalation_count"`
	Comments                 []CommentResponse     `json:"comments"`
	Attachments              []AttachmentResponse  `json:"attachments"`
}

// CommentResponse represents a thread entry.
type CommentResponse struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// AttachmentResponse metadata.
type AttachmentResponse struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	FileName  string    `json:"file_name"`
	MimeType  string    `json:"mime_type"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// UploadResponse returns the staged blob reference.
type UploadResponse struct {
	StorageKey string `json:"storage_key"`
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type"`
	SizeBytes  int64  `json:"size_bytes"`
}

// TicketHistoryResponse audit entry.
type TicketHistoryResponse struct {
	ID         string            `json:"id"`
	TicketID   string            `json:"ticket_id"`
	ActorID    *string           `json:"actor_id"`
	ActorRole  *domain.Role      `json:"actor_role"`
	ChangeType domain.ChangeType `json:"change_type"`
	OldValue   map[string]any    `json:"old_value"`
	NewValue   map[string]any    `json:"new_value"`
	CreatedAt  time.Time         `json:"created_at"`
}
