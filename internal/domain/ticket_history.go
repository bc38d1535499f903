package domain

import "time"

// ChangeType categorizes audited ticket mutations.
type ChangeType string

const (
	ChangeTypeStatus     ChangeType = "STATUS"
	ChangeTypePriority   ChangeType = "PRIORITY"
	ChangeTypeAssignee   ChangeType = "ASSIGNEE"
	ChangeTypeEscalation ChangeType = "ESCALATION"
	ChangeTypeAutoClose  ChangeType = "AUTO_CLOSE"
)

// TicketHistory records a single audited change. ActorID is nil for
// changes applied by the SLA engine rather than a person.
type TicketHistory struct {
	ID         string
	TicketID   string
	ActorID    *string
	ActorRole  *Role
	ChangeType ChangeType
	OldValue   map[string]any
	NewValue   map[string]any
	CreatedAt  time.Time
}
