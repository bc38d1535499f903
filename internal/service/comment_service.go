package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/clock"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/sla"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

// CommentService appends agent replies to tickets. The first comment on a
// ticket is its first response and rearms the SLA clock for resolution.
type CommentService struct {
	tickets    repository.TicketRepository
	comments   repository.CommentRepository
	windows    sla.Windows
	clock      clock.Clock
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// CommentDependencies bundles collaborators for the comment service.
type CommentDependencies struct {
	TicketRepo  repository.TicketRepository
	CommentRepo repository.CommentRepository
	Windows     sla.Windows
	Clock       clock.Clock
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
}

// NewCommentService constructs the service.
func NewCommentService(deps CommentDependencies) *CommentService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &CommentService{
		tickets:    deps.TicketRepo,
		comments:   deps.CommentRepo,
		windows:    deps.Windows,
		clock:      clk,
		dispatcher: deps.Dispatcher,
		logger:     logger,
	}
}

// AddComment appends an agent reply. An unclaimed ticket is claimed by the
// commenting agent and moved to in_progress.
func (s *CommentService) AddComment(ctx context.Context, actor auth.Principal, ticketID, content string) (*domain.Comment, error) {
	if err := authorize(opAddComment, actor.Role); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.NewValidationError("content is required", nil)
	}

	now := s.clock.Now()
	ticket, err := s.updateTicket(ctx, ticketID, func(t *domain.Ticket) error {
		if t.Status == domain.TicketStatusClosed {
			return apperrors.NewStateError("cannot comment on closed tickets", nil)
		}
		if t.AgentID != nil && *t.AgentID != actor.ID {
			return apperrors.NewForbidden("ticket is assigned to another agent")
		}
		if t.AgentID == nil {
			agentID := actor.ID
			t.AgentID = &agentID
			t.Status = domain.TicketStatusInProgress
		}
		t.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	comment := &domain.Comment{
		TicketID:  ticket.ID,
		UserID:    actor.ID,
		Content:   content,
		CreatedAt: now,
	}
	if err := s.comments.Create(ctx, comment); err != nil {
		return nil, apperrors.MapError(err)
	}

	count, err := s.comments.CountByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	firstResponse := count == 1
	if firstResponse {
		if _, err := s.updateTicket(ctx, ticket.ID, func(t *domain.Ticket) error {
			if t.FirstResponseAt != nil {
				return nil
			}
			respondedAt := now
			deadline := now.Add(s.windows.Resolution)
			t.FirstResponseAt = &respondedAt
			t.SLADeadline = &deadline
			t.UpdatedAt = now
			return nil
		}); err != nil {
			return nil, err
		}
	}

	s.publish(ctx, events.Event{
		Type:      events.EventTicketCommentAdded,
		TicketID:  ticket.ID,
		Actor:     events.PrincipalActor(actor.ID, actor.Role),
		Timestamp: now,
		Payload: events.TicketCommentAddedPayload{
			CommentID:     comment.ID,
			AuthorID:      actor.ID,
			FirstResponse: firstResponse,
		},
	})
	return comment, nil
}

// ListComments returns a ticket's thread, oldest first. Customers may only
// read threads on their own tickets.
func (s *CommentService) ListComments(ctx context.Context, actor auth.Principal, ticketID string) ([]domain.Comment, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	if actor.Role == domain.RoleCustomer && ticket.CustomerID != actor.ID {
		return nil, apperrors.NewForbidden("access denied")
	}
	comments, err := s.comments.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return comments, nil
}

func (s *CommentService) updateTicket(ctx context.Context, ticketID string, mutate func(*domain.Ticket) error) (*domain.Ticket, error) {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		ticket, err := s.tickets.GetByID(ctx, ticketID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
			}
			return nil, apperrors.MapError(err)
		}
		if err := mutate(ticket); err != nil {
			return nil, err
		}
		if err := s.tickets.Update(ctx, ticket); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				continue
			}
			return nil, apperrors.MapError(err)
		}
		return ticket, nil
	}
	return nil, apperrors.NewConflict("ticket modified concurrently", map[string]any{"ticket_id": ticketID})
}

func (s *CommentService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	_ = s.dispatcher.Publish(ctx, event)
}
