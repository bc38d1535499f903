package domain

import "time"

// Attachment stores file metadata for a ticket. The bytes themselves live
// in the blob store under StorageKey; attachment rows are cascade-deleted
// with their ticket.
type Attachment struct {
	ID         string
	TicketID   string
	CommentID  *string
	StorageKey string
	FileName   string
	MimeType   string
	SizeBytes  int64
	UploadedBy string
	CreatedAt  time.Time
}
