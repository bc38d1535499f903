package sla

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
)

// maxRetries bounds optimistic-write retries per ticket. A conflict means
// another writer just touched the row; the fresh snapshot is re-evaluated.
const maxRetries = 3

// Failure records one ticket that could not be reconciled.
type Failure struct {
	TicketID string
	Err      error
}

// Report summarizes one reconciliation pass. Failures never abort the
// pass; they are collected here so callers can surface partial results.
type Report struct {
	AutoClosed  []string
	Escalations []EscalationEvent
	Failures    []Failure
}

// Reconciler applies the engine's time-based decisions to stored tickets.
// It runs inline on ticket reads rather than on a timer, so breach
// detection latency is bounded by the time to the next access.
type Reconciler struct {
	tickets    repository.TicketRepository
	history    repository.TicketHistoryRepository
	windows    Windows
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewReconciler constructs a reconciler. History and dispatcher may be nil.
func NewReconciler(tickets repository.TicketRepository, history repository.TicketHistoryRepository, windows Windows, dispatcher events.Dispatcher, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		tickets:    tickets,
		history:    history,
		windows:    windows,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Windows returns the windows in force.
func (r *Reconciler) Windows() Windows { return r.windows }

// ReconcileAll auto-closes every overdue resolved ticket in one set-based
// update, then checks every remaining active ticket for escalation.
// Auto-close runs first so a ticket closed in this pass is never also
// escalated. Running the pass twice at the same instant is a no-op the
// second time.
func (r *Reconciler) ReconcileAll(ctx context.Context, now time.Time) (*Report, error) {
	report := &Report{}

	closed, err := r.tickets.CloseExpiredResolved(ctx, now)
	if err != nil {
		return nil, err
	}
	report.AutoClosed = closed
	for _, id := range closed {
		r.recordAutoClose(ctx, id, now)
	}

	active, err := r.tickets.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for i := range active {
		event, err := r.escalateIfBreached(ctx, active[i].ID, now)
		if err != nil {
			r.logger.Warn("escalation check failed",
				zap.String("ticket_id", active[i].ID), zap.Error(err))
			report.Failures = append(report.Failures, Failure{TicketID: active[i].ID, Err: err})
			continue
		}
		if event != nil {
			report.Escalations = append(report.Escalations, *event)
		}
	}
	return report, nil
}

// ReconcileOne applies auto-close then escalation to a single ticket.
func (r *Reconciler) ReconcileOne(ctx context.Context, ticketID string, now time.Time) (*Report, error) {
	report := &Report{}

	closed, err := r.autoCloseIfDue(ctx, ticketID, now)
	if err != nil {
		return nil, err
	}
	if closed {
		report.AutoClosed = append(report.AutoClosed, ticketID)
		return report, nil
	}

	event, err := r.escalateIfBreached(ctx, ticketID, now)
	if err != nil {
		return nil, err
	}
	if event != nil {
		report.Escalations = append(report.Escalations, *event)
	}
	return report, nil
}

func (r *Reconciler) escalateIfBreached(ctx context.Context, ticketID string, now time.Time) (*EscalationEvent, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		ticket, err := r.tickets.GetByID(ctx, ticketID)
		if err != nil {
			return nil, err
		}
		updated, event := r.windows.EvaluateEscalation(*ticket, now)
		if event == nil {
			return nil, nil
		}
		if err := r.tickets.Update(ctx, &updated); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				continue
			}
			return nil, err
		}
		r.recordEscalation(ctx, ticket, &updated, event, now)
		return event, nil
	}
	return nil, repository.ErrVersionConflict
}

func (r *Reconciler) autoCloseIfDue(ctx context.Context, ticketID string, now time.Time) (bool, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		ticket, err := r.tickets.GetByID(ctx, ticketID)
		if err != nil {
			return false, err
		}
		updated, due := r.windows.EvaluateAutoClose(*ticket, now)
		if !due {
			return false, nil
		}
		if err := r.tickets.Update(ctx, &updated); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				continue
			}
			return false, err
		}
		r.recordAutoClose(ctx, ticketID, now)
		return true, nil
	}
	return false, repository.ErrVersionConflict
}

func (r *Reconciler) recordEscalation(ctx context.Context, before, after *domain.Ticket, event *EscalationEvent, now time.Time) {
	r.logger.Info("ticket escalated",
		zap.String("ticket_id", event.TicketID),
		zap.String("reason", event.Reason),
		zap.String("new_priority", string(event.NewPriority)),
		zap.Int("escalation_count", event.EscalationCount))

	if r.history != nil {
		entry := &domain.TicketHistory{
			TicketID:   event.TicketID,
			ChangeType: domain.ChangeTypeEscalation,
			OldValue: map[string]any{
				"status":   before.Status,
				"priority": before.Priority,
				"agent_id": before.AgentID,
			},
			NewValue: map[string]any{
				"status":   after.Status,
				"priority": after.Priority,
				"agent_id": nil,
				"reason":   event.Reason,
			},
		}
		if err := r.history.Create(ctx, entry); err != nil {
			r.logger.Warn("record escalation history", zap.Error(err))
		}
	}

	r.publish(ctx, events.Event{
		Type:      events.EventTicketEscalated,
		TicketID:  event.TicketID,
		Actor:     events.SystemActor(),
		Timestamp: now,
		Payload: events.TicketEscalatedPayload{
			Reason:          event.Reason,
			NewPriority:     event.NewPriority,
			EscalationCount: event.EscalationCount,
		},
	})
}

func (r *Reconciler) recordAutoClose(ctx context.Context, ticketID string, now time.Time) {
	r.logger.Info("ticket auto-closed", zap.String("ticket_id", ticketID))

	if r.history != nil {
		entry := &domain.TicketHistory{
			TicketID:   ticketID,
			ChangeType: domain.ChangeTypeAutoClose,
			OldValue:   map[string]any{"status": domain.TicketStatusResolved},
			NewValue:   map[string]any{"status": domain.TicketStatusClosed},
		}
		if err := r.history.Create(ctx, entry); err != nil {
			r.logger.Warn("record auto-close history", zap.Error(err))
		}
	}

	r.publish(ctx, events.Event{
		Type:      events.EventTicketAutoClosed,
		TicketID:  ticketID,
		Actor:     events.SystemActor(),
		Timestamp: now,
	})
}

func (r *Reconciler) publish(ctx context.Context, event events.Event) {
	if r.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	_ = r.dispatcher.Publish(ctx, event)
}
