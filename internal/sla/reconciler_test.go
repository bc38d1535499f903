package sla

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/repository/memory"
)

func seedTicket(t *testing.T, store *memory.Store, ticket domain.Ticket) string {
	t.Helper()
	if err := store.Tickets().Create(context.Background(), &ticket); err != nil {
		t.Fatalf("seed ticket: %v", err)
	}
	return ticket.ID
}

func TestReconcileAllAutoClosesBeforeEscalating(t *testing.T) {
	store := memory.NewStore()
	r := NewReconciler(store.Tickets(), store.History(), DefaultWindows(), nil, nil)

	resolvedAt := baseTime
	deadline := resolvedAt.Add(5 * time.Minute)
	ticket := newTicket(domain.TicketStatusResolved, domain.TicketPriorityMedium)
	ticket.ID = ""
	ticket.ResolvedAt = &resolvedAt
	ticket.CustomerResponseDeadline = &deadline
	id := seedTicket(t, store, ticket)

	report, err := r.ReconcileAll(context.Background(), deadline.Add(time.Second))
	if err != nil {
		t.Fatalf("ReconcileAll: %v", err)
	}
	if len(report.AutoClosed) != 1 || report.AutoClosed[0] != id {
		t.Fatalf("auto-closed = %v, want [%s]", report.AutoClosed, id)
	}
	if len(report.Escalations) != 0 {
		t.Fatalf("closed ticket also escalated: %+v", report.Escalations)
	}

	got, err := store.Tickets().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.TicketStatusClosed {
		t.Errorf("status = %s, want closed", got.Status)
	}
	if got.Priority != domain.TicketPriorityMedium {
		t.Errorf("priority changed on auto-close: %s", got.Priority)
	}
}

func TestReconcileAllEscalatesAndIsIdempotent(t *testing.T) {
	store := memory.NewStore()
	r := NewReconciler(store.Tickets(), store.History(), DefaultWindows(), nil, nil)

	ticket := newTicket(domain.TicketStatusOpen, domain.TicketPriorityLow)
	ticket.ID = ""
	id := seedTicket(t, store, ticket)

	now := baseTime.Add(5*time.Minute + time.Second)
	report, err := r.ReconcileAll(context.Background(), now)
	if err != nil {
		t.Fatalf("ReconcileAll: %v", err)
	}
	if len(report.Escalations) != 1 {
		t.Fatalf("escalations = %d, want 1", len(report.Escalations))
	}

	got, err := store.Tickets().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Priority != domain.TicketPriorityMedium || got.EscalationCount != 1 {
		t.Fatalf("after pass: priority=%s count=%d", got.Priority, got.EscalationCount)
	}

	// A second pass at the same instant decides nothing new.
	report, err = r.ReconcileAll(context.Background(), now)
	if err != nil {
		t.Fatalf("second ReconcileAll: %v", err)
	}
	if len(report.Escalations) != 0 || len(report.AutoClosed) != 0 {
		t.Fatalf("second pass not idempotent: %+v", report)
	}
	got, _ = store.Tickets().GetByID(context.Background(), id)
	if got.EscalationCount != 1 {
		t.Errorf("count advanced on idempotent pass: %d", got.EscalationCount)
	}
}

func TestReconcileAllIsolatesPerTicketFailures(t *testing.T) {
	store := memory.NewStore()
	r := NewReconciler(store.Tickets(), store.History(), DefaultWindows(), nil, nil)

	bad := newTicket(domain.TicketStatusOpen, domain.TicketPriorityLow)
	bad.ID = ""
	badID := seedTicket(t, store, bad)

	good := newTicket(domain.TicketStatusOpen, domain.TicketPriorityLow)
	good.ID = ""
	good.CreatedAt = baseTime.Add(time.Second)
	goodID := seedTicket(t, store, good)

	store.FailGetIDs[badID] = errors.New("row deadlock")

	report, err := r.ReconcileAll(context.Background(), baseTime.Add(6*time.Minute))
	if err != nil {
		t.Fatalf("ReconcileAll: %v", err)
	}
	if len(report.Failures) != 1 || report.Failures[0].TicketID != badID {
		t.Fatalf("failures = %+v, want one for %s", report.Failures, badID)
	}
	if len(report.Escalations) != 1 || report.Escalations[0].TicketID != goodID {
		t.Fatalf("escalations = %+v, want one for %s", report.Escalations, goodID)
	}
}

func TestReconcileOne(t *testing.T) {
	store := memory.NewStore()
	r := NewReconciler(store.Tickets(), store.History(), DefaultWindows(), nil, nil)

	t.Run("escalates a breached ticket", func(t *testing.T) {
		ticket := newTicket(domain.TicketStatusOpen, domain.TicketPriorityMedium)
		ticket.ID = ""
		id := seedTicket(t, store, ticket)

		report, err := r.ReconcileOne(context.Background(), id, baseTime.Add(6*time.Minute))
		if err != nil {
			t.Fatalf("ReconcileOne: %v", err)
		}
		if len(report.Escalations) != 1 {
			t.Fatalf("escalations = %+v", report.Escalations)
		}

		entries, err := store.History().ListByTicket(context.Background(), id)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(entries) != 1 || entries[0].ChangeType != domain.ChangeTypeEscalation {
			t.Errorf("history = %+v, want one ESCALATION entry", entries)
		}
	})

	t.Run("closes an overdue resolved ticket", func(t *testing.T) {
		deadline := baseTime.Add(5 * time.Minute)
		ticket := newTicket(domain.TicketStatusResolved, domain.TicketPriorityMedium)
		ticket.ID = ""
		ticket.CustomerResponseDeadline = &deadline
		id := seedTicket(t, store, ticket)

		report, err := r.ReconcileOne(context.Background(), id, deadline.Add(time.Minute))
		if err != nil {
			t.Fatalf("ReconcileOne: %v", err)
		}
		if len(report.AutoClosed) != 1 || report.AutoClosed[0] != id {
			t.Fatalf("auto-closed = %v", report.AutoClosed)
		}

		got, _ := store.Tickets().GetByID(context.Background(), id)
		if got.Status != domain.TicketStatusClosed {
			t.Errorf("status = %s, want closed", got.Status)
		}
	})

	t.Run("untouched ticket is a no-op", func(t *testing.T) {
		ticket := newTicket(domain.TicketStatusOpen, domain.TicketPriorityMedium)
		ticket.ID = ""
		id := seedTicket(t, store, ticket)

		report, err := r.ReconcileOne(context.Background(), id, baseTime.Add(time.Minute))
		if err != nil {
			t.Fatalf("ReconcileOne: %v", err)
		}
		if len(report.AutoClosed) != 0 || len(report.Escalations) != 0 {
			t.Fatalf("unexpected actions: %+v", report)
		}
	})
}

// contendedTicketRepo fails a set number of version-guarded writes with
// ErrVersionConflict before delegating. A negative count fails every write.
type contendedTicketRepo struct {
	repository.TicketRepository
	conflicts int
}

func (r *contendedTicketRepo) Update(ctx context.Context, ticket *domain.Ticket) error {
	if r.conflicts != 0 {
		if r.conflicts > 0 {
			r.conflicts--
		}
		return repository.ErrVersionConflict
	}
	return r.TicketRepository.Update(ctx, ticket)
}

func TestReconcileAllUnderWriteContention(t *testing.T) {
	t.Run("lost race is retried", func(t *testing.T) {
		store := memory.NewStore()
		repo := &contendedTicketRepo{TicketRepository: store.Tickets(), conflicts: 1}
		r := NewReconciler(repo, store.History(), DefaultWindows(), nil, nil)

		ticket := newTicket(domain.TicketStatusOpen, domain.TicketPriorityMedium)
		ticket.ID = ""
		id := seedTicket(t, store, ticket)

		report, err := r.ReconcileAll(context.Background(), baseTime.Add(6*time.Minute))
		if err != nil {
			t.Fatalf("ReconcileAll: %v", err)
		}
		if len(report.Escalations) != 1 {
			t.Fatalf("escalations = %d, want 1", len(report.Escalations))
		}
		if len(report.Failures) != 0 {
			t.Fatalf("failures = %+v, want none", report.Failures)
		}
		got, err := store.Tickets().GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Priority != domain.TicketPriorityHigh {
			t.Errorf("priority = %s, want high", got.Priority)
		}
	})

	t.Run("persistent contention is reported per ticket", func(t *testing.T) {
		store := memory.NewStore()
		repo := &contendedTicketRepo{TicketRepository: store.Tickets(), conflicts: -1}
		r := NewReconciler(repo, store.History(), DefaultWindows(), nil, nil)

		contested := newTicket(domain.TicketStatusOpen, domain.TicketPriorityMedium)
		contested.ID = ""
		contestedID := seedTicket(t, store, contested)

		report, err := r.ReconcileAll(context.Background(), baseTime.Add(6*time.Minute))
		if err != nil {
			t.Fatalf("ReconcileAll: %v", err)
		}
		if len(report.Failures) != 1 {
			t.Fatalf("failures = %d, want 1", len(report.Failures))
		}
		if report.Failures[0].TicketID != contestedID {
			t.Errorf("failure ticket = %s, want %s", report.Failures[0].TicketID, contestedID)
		}
		if !errors.Is(report.Failures[0].Err, repository.ErrVersionConflict) {
			t.Errorf("failure err = %v, want ErrVersionConflict", report.Failures[0].Err)
		}
		if len(report.Escalations) != 0 {
			t.Errorf("escalations = %+v, want none", report.Escalations)
		}
	})
}
