package domain

import "time"

// Comment is an agent reply in a ticket thread. Comments are append-only;
// the chronologically first comment on a ticket marks its first response.
type Comment struct {
	ID        string
	TicketID  string
	UserID    string
	Content   string
	CreatedAt time.Time
}
