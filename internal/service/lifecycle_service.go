package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/blob"
	"github.com/spec-kit/helpdesk/internal/cache"
	"github.com/spec-kit/helpdesk/internal/clock"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/sla"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

// maxUpdateRetries bounds optimistic-write retries for user-initiated
// transitions racing the SLA engine on the same ticket.
const maxUpdateRetries = 3

// LifecycleService authorizes and applies user-triggered ticket
// transitions, and delegates time-based ones to the SLA reconciler at the
// top of every read.
type LifecycleService struct {
	tickets     repository.TicketRepository
	comments    repository.CommentRepository
	attachments repository.AttachmentRepository
	users       repository.UserRepository
	history     repository.TicketHistoryRepository
	blobs       blob.Store
	reconciler  *sla.Reconciler
	clock       clock.Clock
	dispatcher  events.Dispatcher
	statsCache  *cache.StatsCache
	logger      *zap.Logger
}

// LifecycleDependencies bundles collaborators for the lifecycle service.
type LifecycleDependencies struct {
	TicketRepo     repository.TicketRepository
	CommentRepo    repository.CommentRepository
	AttachmentRepo repository.AttachmentRepository
	UserRepo       repository.UserRepository
	HistoryRepo    repository.TicketHistoryRepository
	Blobs          blob.Store
	Reconciler     *sla.Reconciler
	Clock          clock.Clock
	Dispatcher     events.Dispatcher
	StatsCache     *cache.StatsCache
	Logger         *zap.Logger
}

// NewLifecycleService constructs the service.
func NewLifecycleService(deps LifecycleDependencies) *LifecycleService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &LifecycleService{
		tickets:     deps.TicketRepo,
		comments:    deps.CommentRepo,
		attachments: deps.AttachmentRepo,
		users:       deps.UserRepo,
		history:     deps.HistoryRepo,
		blobs:       deps.Blobs,
		reconciler:  deps.Reconciler,
		clock:       clk,
		dispatcher:  deps.Dispatcher,
		statsCache:  deps.StatsCache,
		logger:      logger,
	}
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description string
	Priority    domain.TicketPriority
}

// AttachmentInput describes a staged attachment: the bytes are already in
// the blob store under StorageKey.
type AttachmentInput struct {
	StorageKey string
	FileName   string
	MimeType   string
	SizeBytes  int64
}

// TicketDetail is the single-ticket read model.
type TicketDetail struct {
	Ticket      *domain.Ticket
	Comments    []domain.Comment
	Attachments []domain.Attachment
}

// AgentStatistics is the admin dashboard aggregate.
type AgentStatistics struct {
	Agents          []domain.AgentStats `json:"agents"`
	UnassignedCount int                 `json:"unassigned_tickets"`
}

// CreateTicket opens a new ticket for a customer. On validation failure
// any staged attachment blobs are discarded before the error is returned.
func (s *LifecycleService) CreateTicket(ctx context.Context, actor auth.Principal, input TicketCreateInput, attachments []AttachmentInput) (*domain.Ticket, []domain.Attachment, error) {
	if err := authorize(opCreateTicket, actor.Role); err != nil {
		s.discardBlobs(ctx, attachments)
		return nil, nil, err
	}

	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" || description == "" {
		s.discardBlobs(ctx, attachments)
		return nil, nil, apperrors.NewValidationError("title and description are required", nil)
	}

	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}
	if !priority.Valid() {
		s.discardBlobs(ctx, attachments)
		return nil, nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": priority})
	}

	now := s.clock.Now()
	deadline := now.Add(s.reconciler.Windows().FirstResponse)
	ticket := &domain.Ticket{
		Title:       title,
		Description: description,
		Status:      domain.TicketStatusOpen,
		Priority:    priority,
		CustomerID:  actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
		SLADeadline: &deadline,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		s.discardBlobs(ctx, attachments)
		return nil, nil, apperrors.MapError(err)
	}

	saved := make([]domain.Attachment, 0, len(attachments))
	for _, input := range attachments {
		record := &domain.Attachment{
			TicketID:   ticket.ID,
			StorageKey: input.StorageKey,
			FileName:   input.FileName,
			MimeType:   input.MimeType,
			SizeBytes:  input.SizeBytes,
			UploadedBy: actor.ID,
			CreatedAt:  now,
		}
		if err := s.attachments.Create(ctx, record); err != nil {
			// Roll back the half-created ticket so a failed attachment
			// insert does not leave orphaned rows or staged blobs behind.
			if delErr := s.tickets.Delete(ctx, ticket.ID); delErr != nil {
				s.logger.Warn("failed to roll back ticket after attachment error",
					zap.String("ticket_id", ticket.ID), zap.Error(delErr))
			}
			s.discardBlobs(ctx, attachments)
			return nil, nil, apperrors.MapError(err)
		}
		saved = append(saved, *record)
	}

	s.publish(ctx, events.Event{
		Type:      events.EventTicketCreated,
		TicketID:  ticket.ID,
		Actor:     events.PrincipalActor(actor.ID, actor.Role),
		Timestamp: now,
		Payload: events.TicketCreatedPayload{
			Title:       ticket.Title,
			Priority:    ticket.Priority,
			SLADeadline: deadline,
		},
	})
	return ticket, saved, nil
}

// List reconciles all time-dependent state, then returns tickets scoped
// and ordered for the caller's role.
func (s *LifecycleService) List(ctx context.Context, actor auth.Principal) ([]domain.Ticket, error) {
	now := s.clock.Now()
	if _, err := s.reconciler.ReconcileAll(ctx, now); err != nil {
		return nil, apperrors.MapError(err)
	}

	var (
		tickets []domain.Ticket
		err     error
	)
	switch actor.Role {
	case domain.RoleCustomer:
		tickets, err = s.tickets.ListByCustomer(ctx, actor.ID)
	case domain.RoleAgent:
		tickets, err = s.tickets.ListForAgent(ctx, actor.ID)
	case domain.RoleAdmin:
		tickets, err = s.tickets.ListAll(ctx)
	default:
		return nil, apperrors.NewForbidden("unknown role")
	}
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// Get reconciles one ticket, then returns it with comments and attachment
// metadata. Customers may only read their own tickets.
func (s *LifecycleService) Get(ctx context.Context, actor auth.Principal, ticketID string) (*TicketDetail, error) {
	now := s.clock.Now()
	if _, err := s.reconciler.ReconcileOne(ctx, ticketID, now); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}

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
	attachments, err := s.attachments.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return &TicketDetail{Ticket: ticket, Comments: comments, Attachments: attachments}, nil
}

// Assign claims a ticket for an agent. A ticket already claimed by a
// different agent cannot be reassigned until an escalation or rejection
// clears it.
func (s *LifecycleService) Assign(ctx context.Context, actor auth.Principal, ticketID string, requestedAgentID *string) (*domain.Ticket, error) {
	if err := authorize(opAssignTicket, actor.Role); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var oldAgent *string
	ticket, err := s.updateTicket(ctx, ticketID, func(t *domain.Ticket) error {
		if t.AgentID != nil && *t.AgentID != actor.ID &&
			(requestedAgentID == nil || *t.AgentID != *requestedAgentID) {
			return apperrors.NewConflict("ticket is already assigned to another agent",
				map[string]any{"ticket_id": ticketID})
		}
		oldAgent = t.AgentID
		agentID := actor.ID
		if requestedAgentID != nil {
			agentID = *requestedAgentID
		}
		t.AgentID = &agentID
		t.Status = domain.TicketStatusInProgress
		t.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordHistory(ctx, actor, ticket.ID, domain.ChangeTypeAssignee,
		map[string]any{"agent_id": oldAgent},
		map[string]any{"agent_id": ticket.AgentID})
	s.publish(ctx, events.Event{
		Type:      events.EventTicketAssigned,
		TicketID:  ticket.ID,
		Actor:     events.PrincipalActor(actor.ID, actor.Role),
		Timestamp: now,
		Payload:   events.TicketAssignedPayload{AgentID: *ticket.AgentID},
	})
	return ticket, nil
}

// ChangeStatus applies an agent-driven status transition, handling the
// first-response and customer-confirmation timers as side effects.
func (s *LifecycleService) ChangeStatus(ctx context.Context, actor auth.Principal, ticketID string, newStatus domain.TicketStatus) (*domain.Ticket, error) {
	if err := authorize(opChangeStatus, actor.Role); err != nil {
		return nil, err
	}
	if !newStatus.Valid() {
		return nil, apperrors.NewValidationError("invalid status", map[string]any{"status": newStatus})
	}

	windows := s.reconciler.Windows()
	now := s.clock.Now()
	var oldStatus domain.TicketStatus
	ticket, err := s.updateTicket(ctx, ticketID, func(t *domain.Ticket) error {
		if t.Status == domain.TicketStatusClosed {
			return apperrors.NewStateError("cannot modify closed tickets", nil)
		}
		if t.AgentID != nil && *t.AgentID != actor.ID {
			return apperrors.NewForbidden("ticket is assigned to another agent")
		}
		oldStatus = t.Status
		if t.AgentID == nil {
			agentID := actor.ID
			t.AgentID = &agentID
		}

		if newStatus == domain.TicketStatusInProgress && t.FirstResponseAt == nil {
			firstResponse := now
			deadline := now.Add(windows.Resolution)
			t.FirstResponseAt = &firstResponse
			t.SLADeadline = &deadline
		}

		switch newStatus {
		case domain.TicketStatusResolved:
			resolvedAt := now
			confirmBy := now.Add(windows.CustomerConfirm)
			t.ResolvedAt = &resolvedAt
			t.CustomerResponseDeadline = &confirmBy
		case domain.TicketStatusClosed:
			closedAt := now
			t.ClosedAt = &closedAt
			t.CustomerResponseDeadline = nil
		default:
			t.CustomerResponseDeadline = nil
		}

		t.Status = newStatus
		t.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordHistory(ctx, actor, ticket.ID, domain.ChangeTypeStatus,
		map[string]any{"status": oldStatus},
		map[string]any{"status": newStatus})
	s.publish(ctx, events.Event{
		Type:      events.EventTicketStatusChanged,
		TicketID:  ticket.ID,
		Actor:     events.PrincipalActor(actor.ID, actor.Role),
		Timestamp: now,
		Payload:   events.TicketStatusChangedPayload{OldStatus: oldStatus, NewStatus: newStatus},
	})
	return ticket, nil
}

// ConfirmResolved lets the owning customer accept a resolution, closing
// the ticket permanently.
func (s *LifecycleService) ConfirmResolved(ctx context.Context, actor auth.Principal, ticketID string) (*domain.Ticket, error) {
	if err := authorize(opConfirmResolved, actor.Role); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	ticket, err := s.updateTicket(ctx, ticketID, func(t *domain.Ticket) error {
		if t.CustomerID != actor.ID {
			return apperrors.NewForbidden("access denied")
		}
		if t.Status != domain.TicketStatusResolved {
			return apperrors.NewStateError("ticket must be resolved to confirm", nil)
		}
		closedAt := now
		t.Status = domain.TicketStatusClosed
		t.ClosedAt = &closedAt
		t.CustomerResponseDeadline = nil
		t.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordHistory(ctx, actor, ticket.ID, domain.ChangeTypeStatus,
		map[string]any{"status": domain.TicketStatusResolved},
		map[string]any{"status": domain.TicketStatusClosed})
	s.publish(ctx, events.Event{
		Type:      events.EventTicketStatusChanged,
		TicketID:  ticket.ID,
		Actor:     events.PrincipalActor(actor.ID, actor.Role),
		Timestamp: now,
		Payload: events.TicketStatusChangedPayload{
			OldStatus: domain.TicketStatusResolved,
			NewStatus: domain.TicketStatusClosed,
		},
	})
	return ticket, nil
}

// RejectResolved lets the owning customer reject a resolution: the ticket
// reopens unassigned with escalated priority and fresh timers.
func (s *LifecycleService) RejectResolved(ctx context.Context, actor auth.Principal, ticketID string) (*domain.Ticket, error) {
	if err := authorize(opRejectResolved, actor.Role); err != nil {
		return nil, err
	}

	windows := s.reconciler.Windows()
	now := s.clock.Now()
	var oldPriority domain.TicketPriority
	ticket, err := s.updateTicket(ctx, ticketID, func(t *domain.Ticket) error {
		if t.CustomerID != actor.ID {
			return apperrors.NewForbidden("access denied")
		}
		if t.Status != domain.TicketStatusResolved {
			return apperrors.NewStateError("ticket must be resolved to reject", nil)
		}
		oldPriority = t.Priority
		deadline := now.Add(windows.FirstResponse)
		t.Status = domain.TicketStatusOpen
		t.AgentID = nil
		t.Priority = domain.EscalatePriority(t.Priority)
		t.Escalated = true
		t.EscalationCount++
		t.SLADeadline = &deadline
		t.FirstResponseAt = nil
		t.ResolvedAt = nil
		t.CustomerResponseDeadline = nil
		t.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordHistory(ctx, actor, ticket.ID, domain.ChangeTypeEscalation,
		map[string]any{"status": domain.TicketStatusResolved, "priority": oldPriority},
		map[string]any{"status": ticket.Status, "priority": ticket.Priority, "reason": "resolution rejected by customer"})
	s.publish(ctx, events.Event{
		Type:      events.EventTicketResolutionRejected,
		TicketID:  ticket.ID,
		Actor:     events.PrincipalActor(actor.ID, actor.Role),
		Timestamp: now,
		Payload: events.TicketEscalatedPayload{
			Reason:          "resolution rejected by customer",
			NewPriority:     ticket.Priority,
			EscalationCount: ticket.EscalationCount,
		},
	})
	return ticket, nil
}

// Delete removes a ticket with its comments and attachments. Agents may
// only delete unclaimed tickets or their own.
func (s *LifecycleService) Delete(ctx context.Context, actor auth.Principal, ticketID string) error {
	if err := authorize(opDeleteTicket, actor.Role); err != nil {
		return err
	}

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return apperrors.MapError(err)
	}
	if ticket.AgentID != nil && *ticket.AgentID != actor.ID {
		return apperrors.NewForbidden("only unassigned tickets or tickets assigned to you can be deleted")
	}

	attachments, err := s.attachments.ListByTicket(ctx, ticketID)
	if err != nil {
		return apperrors.MapError(err)
	}
	for _, attachment := range attachments {
		if s.blobs == nil {
			break
		}
		if err := s.blobs.Delete(ctx, attachment.StorageKey); err != nil {
			s.logger.Warn("delete attachment blob",
				zap.String("storage_key", attachment.StorageKey), zap.Error(err))
		}
	}

	if err := s.tickets.Delete(ctx, ticketID); err != nil {
		return apperrors.MapError(err)
	}
	s.publish(ctx, events.Event{
		Type:      events.EventTicketDeleted,
		TicketID:  ticketID,
		Actor:     events.PrincipalActor(actor.ID, actor.Role),
		Timestamp: s.clock.Now(),
	})
	return nil
}

// History returns the audit trail for a ticket, oldest first. Customers
// may only read trails on their own tickets.
func (s *LifecycleService) History(ctx context.Context, actor auth.Principal, ticketID string) ([]domain.TicketHistory, error) {
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
	entries, err := s.history.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

// Statistics returns per-agent ticket counts and the unassigned backlog
// for admins, cached briefly in Redis.
func (s *LifecycleService) Statistics(ctx context.Context, actor auth.Principal) (*AgentStatistics, error) {
	if err := authorize(opAgentStats, actor.Role); err != nil {
		return nil, err
	}

	var cached AgentStatistics
	if hit, err := s.statsCache.Get(ctx, &cached); err != nil {
		s.logger.Warn("stats cache read", zap.Error(err))
	} else if hit {
		return &cached, nil
	}

	agents, err := s.users.AgentStatistics(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	unassigned, err := s.tickets.CountUnassigned(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	stats := &AgentStatistics{Agents: agents, UnassignedCount: unassigned}
	if err := s.statsCache.Set(ctx, stats); err != nil {
		s.logger.Warn("stats cache write", zap.Error(err))
	}
	return stats, nil
}

// updateTicket runs an optimistic read-modify-write loop against a single
// ticket so user transitions and SLA escalations never interleave partial
// field updates.
func (s *LifecycleService) updateTicket(ctx context.Context, ticketID string, mutate func(*domain.Ticket) error) (*domain.Ticket, error) {
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

func (s *LifecycleService) recordHistory(ctx context.Context, actor auth.Principal, ticketID string, changeType domain.ChangeType, oldValue, newValue map[string]any) {
	if s.history == nil {
		return
	}
	actorID := actor.ID
	actorRole := actor.Role
	entry := &domain.TicketHistory{
		TicketID:   ticketID,
		ActorID:    &actorID,
		ActorRole:  &actorRole,
		ChangeType: changeType,
		OldValue:   oldValue,
		NewValue:   newValue,
	}
	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Warn("record ticket history", zap.Error(err))
	}
}

func (s *LifecycleService) discardBlobs(ctx context.Context, attachments []AttachmentInput) {
	if s.blobs == nil {
		return
	}
	for _, attachment := range attachments {
		if err := s.blobs.Delete(ctx, attachment.StorageKey); err != nil {
			s.logger.Warn("discard staged blob",
				zap.String("storage_key", attachment.StorageKey), zap.Error(err))
		}
	}
}

func (s *LifecycleService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}
