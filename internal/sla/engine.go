// Package sla implements the escalation and auto-close rules that keep
// ticket state consistent with elapsed time. The decision functions are
// pure: they map a ticket snapshot and a point in time to the next state,
// and the reconciler persists whatever they decide.
package sla

import (
	"fmt"
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// Windows bundles the SLA durations in force.
type Windows struct {
	FirstResponse   time.Duration
	Resolution      time.Duration
	CustomerConfirm time.Duration
}

// DefaultWindows matches the reference deployment (5m / 15m / 5m).
func DefaultWindows() Windows {
	return Windows{
		FirstResponse:   5 * time.Minute,
		Resolution:      15 * time.Minute,
		CustomerConfirm: 5 * time.Minute,
	}
}

// EscalationEvent describes one escalation decided by the engine.
type EscalationEvent struct {
	TicketID        string                `json:"ticket_id"`
	Reason          string                `json:"reason"`
	NewPriority     domain.TicketPriority `json:"new_priority"`
	EscalationCount int                   `json:"escalation_count"`
}

// EvaluateEscalation decides whether the ticket has breached its current
// SLA window at the given instant. Closed and resolved tickets are never
// escalated. On breach it returns the escalated snapshot and an event;
// otherwise the snapshot is returned unchanged and the event is nil.
//
// Before the first response the window is measured from created_at, or
// from updated_at when the ticket has already been escalated (the clock
// restarts at each escalation). After the first response the resolution
// window is measured from first_response_at.
func (w Windows) EvaluateEscalation(ticket domain.Ticket, now time.Time) (domain.Ticket, *EscalationEvent) {
	if ticket.Status == domain.TicketStatusClosed || ticket.Status == domain.TicketStatusResolved {
		return ticket, nil
	}

	var reason string
	if ticket.FirstResponseAt == nil {
		start := ticket.CreatedAt
		if ticket.Escalated {
			start = ticket.UpdatedAt
		}
		if now.Sub(start) <= w.FirstResponse {
			return ticket, nil
		}
		reason = fmt.Sprintf("first response not provided within %s", w.FirstResponse)
	} else {
		if now.Sub(*ticket.FirstResponseAt) <= w.Resolution {
			return ticket, nil
		}
		reason = fmt.Sprintf("resolution not provided within %s of first response", w.Resolution)
	}

	deadline := now.Add(w.FirstResponse)
	ticket.Priority = domain.EscalatePriority(ticket.Priority)
	ticket.Escalated = true
	ticket.EscalationCount++
	ticket.AgentID = nil
	ticket.Status = domain.TicketStatusOpen
	ticket.FirstResponseAt = nil
	ticket.SLADeadline = &deadline
	ticket.UpdatedAt = now

	return ticket, &EscalationEvent{
		TicketID:        ticket.ID,
		Reason:          reason,
		NewPriority:     ticket.Priority,
		EscalationCount: ticket.EscalationCount,
	}
}

// EvaluateAutoClose decides whether a resolved ticket whose customer
// response deadline has lapsed should close. It returns the closed
// snapshot and true when it fires.
func (w Windows) EvaluateAutoClose(ticket domain.Ticket, now time.Time) (domain.Ticket, bool) {
	if ticket.Status != domain.TicketStatusResolved {
		return ticket, false
	}
	if ticket.CustomerResponseDeadline == nil || !now.After(*ticket.CustomerResponseDeadline) {
		return ticket, false
	}

	closedAt := now
	ticket.Status = domain.TicketStatusClosed
	ticket.ClosedAt = &closedAt
	ticket.UpdatedAt = now
	ticket.CustomerResponseDeadline = nil
	return ticket, true
}
