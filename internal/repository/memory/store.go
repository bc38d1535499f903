// Package memory provides an in-process store implementing the repository
// interfaces with the same semantics as the Postgres implementations,
// including optimistic version checks and cascade deletes. Service and SLA
// tests run against it instead of a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/repository"
)

// Store holds all entities behind one mutex and hands out repository views
// over the shared state. Operations on different tickets still appear
// independent to callers; the single lock just keeps the fake simple.
type Store struct {
	mu          sync.Mutex
	tickets     map[string]domain.Ticket
	comments    map[string]domain.Comment
	attachments map[string]domain.Attachment
	users       map[string]domain.User
	history     []domain.TicketHistory

	// FailGetIDs makes ticket GetByID return an error for the listed ids,
	// used to exercise partial-failure isolation in reconciliation.
	FailGetIDs map[string]error

	// FailAttachmentCreate, when set, makes attachment Create fail with
	// the given error after AttachmentCreateOK successes.
	FailAttachmentCreate error
	AttachmentCreateOK   int
}

// NewStore builds an empty store.
func NewStore() *Store {
	return &Store{
		tickets:     make(map[string]domain.Ticket),
		comments:    make(map[string]domain.Comment),
		attachments: make(map[string]domain.Attachment),
		users:       make(map[string]domain.User),
		FailGetIDs:  make(map[string]error),
	}
}

// Tickets returns the ticket repository view.
func (s *Store) Tickets() repository.TicketRepository { return &ticketStore{s} }

// Comments returns the comment repository view.
func (s *Store) Comments() repository.CommentRepository { return &commentStore{s} }

// Attachments returns the attachment repository view.
func (s *Store) Attachments() repository.AttachmentRepository { return &attachmentStore{s} }

// Users returns the user repository view.
func (s *Store) Users() repository.UserRepository { return &userStore{s} }

// History returns the ticket history repository view.
func (s *Store) History() repository.TicketHistoryRepository { return &historyStore{s} }

type ticketStore struct{ *Store }

func (s *ticketStore) Create(ctx context.Context, ticket *domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	ticket.Version = 1
	s.tickets[ticket.ID] = *ticket
	return nil
}

func (s *ticketStore) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.FailGetIDs[id]; ok {
		return nil, err
	}
	ticket, ok := s.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := ticket
	return &copied, nil
}

func (s *ticketStore) Update(ctx context.Context, ticket *domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tickets[ticket.ID]
	if !ok || current.Version != ticket.Version {
		return repository.ErrVersionConflict
	}
	ticket.Version++
	s.tickets[ticket.ID] = *ticket
	return nil
}

func (s *ticketStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(s.tickets, id)
	for commentID, comment := range s.comments {
		if comment.TicketID == id {
			delete(s.comments, commentID)
		}
	}
	for attachmentID, attachment := range s.attachments {
		if attachment.TicketID == id {
			delete(s.attachments, attachmentID)
		}
	}
	return nil
}

func (s *ticketStore) ListByCustomer(ctx context.Context, customerID string) ([]domain.Ticket, error) {
	return s.list(func(t domain.Ticket) bool { return t.CustomerID == customerID }, byCreatedDesc), nil
}

func (s *ticketStore) ListForAgent(ctx context.Context, agentID string) ([]domain.Ticket, error) {
	group := func(t domain.Ticket) int {
		switch {
		case t.Status != domain.TicketStatusClosed && t.AssignedTo(agentID):
			return 1
		case t.Status != domain.TicketStatusClosed && t.Unassigned():
			return 2
		case t.Status != domain.TicketStatusClosed:
			return 3
		default:
			return 4
		}
	}
	tickets := s.list(func(domain.Ticket) bool { return true }, nil)
	sort.SliceStable(tickets, func(i, j int) bool {
		gi, gj := group(tickets[i]), group(tickets[j])
		if gi != gj {
			return gi < gj
		}
		return tickets[i].CreatedAt.After(tickets[j].CreatedAt)
	})
	return tickets, nil
}

func (s *ticketStore) ListAll(ctx context.Context) ([]domain.Ticket, error) {
	return s.list(func(domain.Ticket) bool { return true }, byCreatedDesc), nil
}

func (s *ticketStore) ListActive(ctx context.Context) ([]domain.Ticket, error) {
	return s.list(func(t domain.Ticket) bool {
		return t.Status != domain.TicketStatusClosed && t.Status != domain.TicketStatusResolved
	}, byCreatedAsc), nil
}

func (s *ticketStore) CloseExpiredResolved(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, ticket := range s.tickets {
		if ticket.Status != domain.TicketStatusResolved {
			continue
		}
		if ticket.CustomerResponseDeadline == nil || !ticket.CustomerResponseDeadline.Before(now) {
			continue
		}
		closedAt := now
		ticket.Status = domain.TicketStatusClosed
		ticket.ClosedAt = &closedAt
		ticket.UpdatedAt = now
		ticket.CustomerResponseDeadline = nil
		ticket.Version++
		s.tickets[id] = ticket
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *ticketStore) CountUnassigned(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, ticket := range s.tickets {
		if ticket.AgentID == nil {
			count++
		}
	}
	return count, nil
}

func (s *ticketStore) list(match func(domain.Ticket) bool, less func(a, b domain.Ticket) bool) []domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []domain.Ticket
	for _, ticket := range s.tickets {
		if match(ticket) {
			result = append(result, ticket)
		}
	}
	if less != nil {
		sort.SliceStable(result, func(i, j int) bool { return less(result[i], result[j]) })
	}
	return result
}

func byCreatedDesc(a, b domain.Ticket) bool { return a.CreatedAt.After(b.CreatedAt) }
func byCreatedAsc(a, b domain.Ticket) bool  { return a.CreatedAt.Before(b.CreatedAt) }

type commentStore struct{ *Store }

func (s *commentStore) Create(ctx context.Context, comment *domain.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	s.comments[comment.ID] = *comment
	return nil
}

func (s *commentStore) ListByTicket(ctx context.Context, ticketID string) ([]domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []domain.Comment
	for _, comment := range s.comments {
		if comment.TicketID == ticketID {
			result = append(result, comment)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *commentStore) CountByTicket(ctx context.Context, ticketID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, comment := range s.comments {
		if comment.TicketID == ticketID {
			count++
		}
	}
	return count, nil
}

type attachmentStore struct{ *Store }

func (s *attachmentStore) Create(ctx context.Context, attachment *domain.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAttachmentCreate != nil {
		if s.AttachmentCreateOK > 0 {
			s.AttachmentCreateOK--
		} else {
			return s.FailAttachmentCreate
		}
	}
	if attachment.ID == "" {
		attachment.ID = uuid.NewString()
	}
	s.attachments[attachment.ID] = *attachment
	return nil
}

func (s *attachmentStore) GetByID(ctx context.Context, id string) (*domain.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attachment, ok := s.attachments[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := attachment
	return &copied, nil
}

func (s *attachmentStore) ListByTicket(ctx context.Context, ticketID string) ([]domain.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []domain.Attachment
	for _, attachment := range s.attachments {
		if attachment.TicketID == ticketID {
			result = append(result, attachment)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *attachmentStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attachments[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(s.attachments, id)
	return nil
}

type userStore struct{ *Store }

func (s *userStore) Create(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	s.users[user.ID] = *user
	return nil
}

func (s *userStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := user
	return &copied, nil
}

func (s *userStore) AgentStatistics(ctx context.Context) ([]domain.AgentStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []domain.AgentStats
	for _, user := range s.users {
		if user.Role != domain.RoleAgent {
			continue
		}
		stats := domain.AgentStats{ID: user.ID, Username: user.Username, Email: user.Email}
		for _, ticket := range s.tickets {
			if !ticket.AssignedTo(user.ID) {
				continue
			}
			switch ticket.Status {
			case domain.TicketStatusInProgress:
				stats.InProgress++
			case domain.TicketStatusResolved:
				stats.Resolved++
			case domain.TicketStatusClosed:
				stats.Closed++
			}
		}
		result = append(result, stats)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result, nil
}

type historyStore struct{ *Store }

func (s *historyStore) Create(ctx context.Context, entry *domain.TicketHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	s.history = append(s.history, *entry)
	return nil
}

func (s *historyStore) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []domain.TicketHistory
	for _, entry := range s.history {
		if entry.TicketID == ticketID {
			result = append(result, entry)
		}
	}
	return result, nil
}
