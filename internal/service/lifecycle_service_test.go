package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/clock"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/repository/memory"
	"github.com/spec-kit/helpdesk/internal/sla"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

var testStart = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

var (
	customer      = auth.Principal{ID: "cust-1", Role: domain.RoleCustomer}
	otherCustomer = auth.Principal{ID: "cust-2", Role: domain.RoleCustomer}
	agent         = auth.Principal{ID: "agent-1", Role: domain.RoleAgent}
	otherAgent    = auth.Principal{ID: "agent-2", Role: domain.RoleAgent}
	admin         = auth.Principal{ID: "admin-1", Role: domain.RoleAdmin}
)

func newFixture(t *testing.T) (*LifecycleService, *memory.Store, *clock.Fake) {
	t.Helper()
	store := memory.NewStore()
	clk := clock.NewFake(testStart)
	windows := sla.DefaultWindows()
	reconciler := sla.NewReconciler(store.Tickets(), store.History(), windows, nil, nil)
	svc := NewLifecycleService(LifecycleDependencies{
		TicketRepo:     store.Tickets(),
		CommentRepo:    store.Comments(),
		AttachmentRepo: store.Attachments(),
		UserRepo:       store.Users(),
		HistoryRepo:    store.History(),
		Reconciler:     reconciler,
		Clock:          clk,
	})
	return svc, store, clk
}

func mustCreate(t *testing.T, svc *LifecycleService, priority domain.TicketPriority) *domain.Ticket {
	t.Helper()
	ticket, _, err := svc.CreateTicket(context.Background(), customer, TicketCreateInput{
		Title:       "vpn drops every hour",
		Description: "connection resets on the hour, every hour",
		Priority:    priority,
	}, nil)
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	return ticket
}

func TestCreateTicket(t *testing.T) {
	svc, _, _ := newFixture(t)

	t.Run("defaults", func(t *testing.T) {
		ticket := mustCreate(t, svc, "")
		if ticket.Status != domain.TicketStatusOpen {
			t.Errorf("status = %s, want open", ticket.Status)
		}
		if ticket.Priority != domain.TicketPriorityMedium {
			t.Errorf("priority = %s, want medium", ticket.Priority)
		}
		wantDeadline := testStart.Add(5 * time.Minute)
		if ticket.SLADeadline == nil || !ticket.SLADeadline.Equal(wantDeadline) {
			t.Errorf("deadline = %v, want %v", ticket.SLADeadline, wantDeadline)
		}
	})

	t.Run("rejects blank fields", func(t *testing.T) {
		_, _, err := svc.CreateTicket(context.Background(), customer, TicketCreateInput{
			Title: "   ",
		}, nil)
		if !apperrors.IsCode(err, "VALIDATION_FAILED") {
			t.Errorf("err = %v, want VALIDATION_FAILED", err)
		}
	})

	t.Run("rejects unknown priority", func(t *testing.T) {
		_, _, err := svc.CreateTicket(context.Background(), customer, TicketCreateInput{
			Title:       "x",
			Description: "y",
			Priority:    "blocker",
		}, nil)
		if !apperrors.IsCode(err, "VALIDATION_FAILED") {
			t.Errorf("err = %v, want VALIDATION_FAILED", err)
		}
	})

	t.Run("only customers create", func(t *testing.T) {
		_, _, err := svc.CreateTicket(context.Background(), agent, TicketCreateInput{
			Title:       "x",
			Description: "y",
		}, nil)
		if !apperrors.IsCode(err, "FORBIDDEN") {
			t.Errorf("err = %v, want FORBIDDEN", err)
		}
	})
}

func TestListEscalatesBreachedTickets(t *testing.T) {
	svc, _, clk := newFixture(t)
	ticket := mustCreate(t, svc, domain.TicketPriorityMedium)

	if _, err := svc.Assign(context.Background(), agent, ticket.ID, nil); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	clk.Advance(5*time.Minute + time.Second)
	tickets, err := svc.List(context.Background(), customer)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tickets) != 1 {
		t.Fatalf("len = %d, want 1", len(tickets))
	}

	got := tickets[0]
	if got.Priority != domain.TicketPriorityHigh {
		t.Errorf("priority = %s, want high", got.Priority)
	}
	if got.Status != domain.TicketStatusOpen {
		t.Errorf("status = %s, want open", got.Status)
	}
	if got.AgentID != nil {
		t.Errorf("agent still assigned: %v", *got.AgentID)
	}
	if got.EscalationCount != 1 || !got.Escalated {
		t.Errorf("escalated=%v count=%d", got.Escalated, got.EscalationCount)
	}
}

func TestResolvedTicketAutoClosesOnRead(t *testing.T) {
	svc, _, clk := newFixture(t)
	ticket := mustCreate(t, svc, domain.TicketPriorityMedium)

	clk.Advance(2 * time.Minute)
	if _, err := svc.ChangeStatus(context.Background(), agent, ticket.ID, domain.TicketStatusInProgress); err != nil {
		t.Fatalf("ChangeStatus in_progress: %v", err)
	}

	clk.Advance(3 * time.Minute)
	resolved, err := svc.ChangeStatus(context.Background(), agent, ticket.ID, domain.TicketStatusResolved)
	if err != nil {
		t.Fatalf("ChangeStatus resolved: %v", err)
	}
	wantDeadline := clk.Now().Add(5 * time.Minute)
	if resolved.CustomerResponseDeadline == nil || !resolved.CustomerResponseDeadline.Equal(wantDeadline) {
		t.Fatalf("confirm deadline = %v, want %v", resolved.CustomerResponseDeadline, wantDeadline)
	}

	clk.Advance(5*time.Minute + time.Second)
	detail, err := svc.Get(context.Background(), customer, ticket.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if detail.Ticket.Status != domain.TicketStatusClosed {
		t.Errorf("status = %s, want closed after confirm window lapsed", detail.Ticket.Status)
	}
	if detail.Ticket.ClosedAt == nil {
		t.Error("closed_at not set")
	}
}

func TestChangeStatusFirstResponse(t *testing.T) {
	svc, _, clk := newFixture(t)
	ticket := mustCreate(t, svc, domain.TicketPriorityMedium)

	clk.Advance(2 * time.Minute)
	got, err := svc.ChangeStatus(context.Background(), agent, ticket.ID, domain.TicketStatusInProgress)
	if err != nil {
		t.Fatalf("ChangeStatus: %v", err)
	}
	if got.FirstResponseAt == nil || !got.FirstResponseAt.Equal(clk.Now()) {
		t.Errorf("first_response_at = %v, want %v", got.FirstResponseAt, clk.Now())
	}
	wantDeadline := clk.Now().Add(15 * time.Minute)
	if got.SLADeadline == nil || !got.SLADeadline.Equal(wantDeadline) {
		t.Errorf("deadline = %v, want %v", got.SLADeadline, wantDeadline)
	}
	if got.AgentID == nil || *got.AgentID != agent.ID {
		t.Errorf("agent = %v, want auto-assign to %s", got.AgentID, agent.ID)
	}
}

func TestChangeStatusGuards(t *testing.T) {
	svc, _, _ := newFixture(t)
	ticket := mustCreate(t, svc, domain.TicketPriorityMedium)

	if _, err := svc.ChangeStatus(context.Background(), agent, ticket.ID, domain.TicketStatusInProgress); err != nil {
		t.Fatalf("claim: %v", err)
	}

	t.Run("other agent blocked", func(t *testing.T) {
		_, err := svc.ChangeStatus(context.Background(), otherAgent, ticket.ID, domain.TicketStatusResolved)
		if !apperrors.IsCode(err, "FORBIDDEN") {
			t.Errorf("err = %v, want FORBIDDEN", err)
		}
	})

	t.Run("customer blocked", func(t *testing.T) {
		_, err := svc.ChangeStatus(context.Background(), customer, ticket.ID, domain.TicketStatusResolved)
		if !apperrors.IsCode(err, "FORBIDDEN") {
			t.Errorf("err = %v, want FORBIDDEN", err)
		}
	})

	t.Run("invalid status rejected", func(t *testing.T) {
		_, err := svc.ChangeStatus(context.Background(), agent, ticket.ID, "reopened")
		if !apperrors.IsCode(err, "VALIDATION_FAILED") {
			t.Errorf("err = %v, want VALIDATION_FAILED", err)
		}
	})

	t.Run("closed is terminal", func(t *testing.T) {
		if _, err := svc.ChangeStatus(context.Background(), agent, ticket.ID, domain.TicketStatusClosed); err != nil {
			t.Fatalf("close: %v", err)
		}
		_, err := svc.ChangeStatus(context.Background(), agent, ticket.ID, domain.TicketStatusOpen)
		if !apperrors.IsCode(err, "INVALID_STATE") {
			t.Errorf("err = %v, want INVALID_STATE", err)
		}
	})
}

func TestAssign(t *testing.T) {
	svc, _, _ := newFixture(t)
	ticket := mustCreate(t, svc, domain.TicketPriorityMedium)

	got, err := svc.Assign(context.Background(), agent, ticket.ID, nil)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if got.AgentID == nil || *got.AgentID != agent.ID {
		t.Fatalf("agent = %v, want %s", got.AgentID, agent.ID)
	}
	if got.Status != domain.TicketStatusInProgress {
		t.Errorf("status = %s, want in_progress", got.Status)
	}

	t.Run("claimed ticket conflicts", func(t *testing.T) {
		_, err := svc.Assign(context.Background(), otherAgent, ticket.ID, nil)
		if !apperrors.IsCode(err, "CONFLICT") {
			t.Errorf("err = %v, want CONFLICT", err)
		}
	})

	t.Run("customer cannot assign", func(t *testing.T) {
		_, err := svc.Assign(context.Background(), customer, ticket.ID, nil)
		if !apperrors.IsCode(err, "FORBIDDEN") {
			t.Errorf("err = %v, want FORBIDDEN", err)
		}
	})
}

func TestConfirmResolved(t *testing.T) {
	svc, _, _ := newFixture(t)
	ticket := mustCreate(t, svc, domain.TicketPriorityMedium)

	t.Run("requires resolved state", func(t *testing.T) {
		_, err := svc.ConfirmResolved(context.Background(), customer, ticket.ID)
		if !apperrors.IsCode(err, "INVALID_STATE") {
			t.Errorf("err = %v, want INVALID_STATE", err)
		}
	})

	if _, err := svc.ChangeStatus(context.Background(), agent, ticket.ID, domain.TicketStatusResolved); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	t.Run("owner only", func(t *testing.T) {
		_, err := svc.ConfirmResolved(context.Background(), otherCustomer, ticket.ID)
		if !apperrors.IsCode(err, "FORBIDDEN") {
			t.Errorf("err = %v, want FORBIDDEN", err)
		}
	})

	t.Run("closes the ticket", func(t *testing.T) {
		got, err := svc.ConfirmResolved(context.Background(), customer, ticket.ID)
		if err != nil {
			t.Fatalf("ConfirmResolved: %v", err)
		}
		if got.Status != domain.TicketStatusClosed || got.ClosedAt == nil {
			t.Errorf("ticket not closed: %+v", got)
		}
		if got.CustomerResponseDeadline != nil {
			t.Error("confirm deadline not cleared")
		}
	})
}

func TestRejectResolved(t *testing.T) {
	svc, _, clk := newFixture(t)
	ticket := mustCreate(t, svc, domain.TicketPriorityHigh)

	if _, err := svc.Assign(context.Background(), agent, ticket.ID, nil); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := svc.ChangeStatus(context.Background(), agent, ticket.ID, domain.TicketStatusResolved); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	clk.Advance(time.Minute)
	got, err := svc.RejectResolved(context.Background(), customer, ticket.ID)
	if err != nil {
		t.Fatalf("RejectResolved: %v", err)
	}
	if got.Status != domain.TicketStatusOpen {
		t.Errorf("status = %s, want open", got.Status)
	}
	if got.Priority != domain.TicketPriorityUrgent {
		t.Errorf("priority = %s, want urgent", got.Priority)
	}
	if got.AgentID != nil {
		t.Errorf("agent not cleared: %v", *got.AgentID)
	}
	if got.FirstResponseAt != nil || got.ResolvedAt != nil {
		t.Error("response markers not reset")
	}
	if !got.Escalated || got.EscalationCount != 1 {
		t.Errorf("escalated=%v count=%d", got.Escalated, got.EscalationCount)
	}
	wantDeadline := clk.Now().Add(5 * time.Minute)
	if got.SLADeadline == nil || !got.SLADeadline.Equal(wantDeadline) {
		t.Errorf("deadline = %v, want %v", got.SLADeadline, wantDeadline)
	}
}

func TestRejectThenFreshFirstResponse(t *testing.T) {
	svc, _, clk := newFixture(t)
	ticket := mustCreate(t, svc, domain.TicketPriorityMedium)

	if _, err := svc.ChangeStatus(context.Background(), agent, ticket.ID, domain.TicketStatusResolved); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := svc.RejectResolved(context.Background(), customer, ticket.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}

	// A different agent picks the reopened ticket up; the whole response
	// cycle starts over.
	clk.Advance(time.Minute)
	got, err := svc.ChangeStatus(context.Background(), otherAgent, ticket.ID, domain.TicketStatusInProgress)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if got.FirstResponseAt == nil || !got.FirstResponseAt.Equal(clk.Now()) {
		t.Errorf("fresh first response = %v, want %v", got.FirstResponseAt, clk.Now())
	}
	wantDeadline := clk.Now().Add(15 * time.Minute)
	if got.SLADeadline == nil || !got.SLADeadline.Equal(wantDeadline) {
		t.Errorf("deadline = %v, want %v", got.SLADeadline, wantDeadline)
	}
}

func TestGetOwnership(t *testing.T) {
	svc, _, _ := newFixture(t)
	ticket := mustCreate(t, svc, domain.TicketPriorityMedium)

	if _, err := svc.Get(context.Background(), otherCustomer, ticket.ID); !apperrors.IsCode(err, "FORBIDDEN") {
		t.Errorf("err = %v, want FORBIDDEN", err)
	}
	if _, err := svc.Get(context.Background(), agent, ticket.ID); err != nil {
		t.Errorf("agent read failed: %v", err)
	}
	if _, err := svc.Get(context.Background(), customer, "nope"); !apperrors.IsCode(err, "NOT_FOUND") {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestDelete(t *testing.T) {
	svc, store, _ := newFixture(t)
	ticket := mustCreate(t, svc, domain.TicketPriorityMedium)

	if err := store.Comments().Create(context.Background(), &domain.Comment{
		TicketID: ticket.ID, UserID: agent.ID, Content: "looking into it",
	}); err != nil {
		t.Fatalf("seed comment: %v", err)
	}

	t.Run("customer blocked", func(t *testing.T) {
		err := svc.Delete(context.Background(), customer, ticket.ID)
		if !apperrors.IsCode(err, "FORBIDDEN") {
			t.Errorf("err = %v, want FORBIDDEN", err)
		}
	})

	t.Run("other agent blocked on a claimed ticket", func(t *testing.T) {
		if _, err := svc.Assign(context.Background(), agent, ticket.ID, nil); err != nil {
			t.Fatalf("Assign: %v", err)
		}
		err := svc.Delete(context.Background(), otherAgent, ticket.ID)
		if !apperrors.IsCode(err, "FORBIDDEN") {
			t.Errorf("err = %v, want FORBIDDEN", err)
		}
	})

	t.Run("owning agent deletes with cascade", func(t *testing.T) {
		if err := svc.Delete(context.Background(), agent, ticket.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := store.Tickets().GetByID(context.Background(), ticket.ID); err == nil {
			t.Error("ticket still present")
		}
		comments, _ := store.Comments().ListByTicket(context.Background(), ticket.ID)
		if len(comments) != 0 {
			t.Errorf("comments survived delete: %d", len(comments))
		}
	})
}

func TestStatistics(t *testing.T) {
	svc, store, _ := newFixture(t)

	agentUser := domain.User{ID: agent.ID, Username: "agent1", Email: "agent1@example.com", Role: domain.RoleAgent}
	if err := store.Users().Create(context.Background(), &agentUser); err != nil {
		t.Fatalf("seed agent: %v", err)
	}

	ticket := mustCreate(t, svc, domain.TicketPriorityMedium)
	if _, err := svc.Assign(context.Background(), agent, ticket.ID, nil); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	mustCreate(t, svc, domain.TicketPriorityLow)

	t.Run("admin only", func(t *testing.T) {
		if _, err := svc.Statistics(context.Background(), agent); !apperrors.IsCode(err, "FORBIDDEN") {
			t.Errorf("agent err = %v, want FORBIDDEN", err)
		}
		if _, err := svc.Statistics(context.Background(), customer); !apperrors.IsCode(err, "FORBIDDEN") {
			t.Errorf("customer err = %v, want FORBIDDEN", err)
		}
	})

	t.Run("aggregates", func(t *testing.T) {
		stats, err := svc.Statistics(context.Background(), admin)
		if err != nil {
			t.Fatalf("Statistics: %v", err)
		}
		if stats.UnassignedCount != 1 {
			t.Errorf("unassigned = %d, want 1", stats.UnassignedCount)
		}
		if len(stats.Agents) != 1 || stats.Agents[0].InProgress != 1 {
			t.Errorf("agents = %+v", stats.Agents)
		}
	})
}

func TestAuthorizationMatrix(t *testing.T) {
	tests := []struct {
		op      operation
		role    domain.Role
		allowed bool
	}{
		{opCreateTicket, domain.RoleCustomer, true},
		{opCreateTicket, domain.RoleAgent, false},
		{opCreateTicket, domain.RoleAdmin, false},
		{opAssignTicket, domain.RoleAgent, true},
		{opAssignTicket, domain.RoleCustomer, false},
		{opAssignTicket, domain.RoleAdmin, false},
		{opChangeStatus, domain.RoleAgent, true},
		{opChangeStatus, domain.RoleCustomer, false},
		{opChangeStatus, domain.RoleAdmin, false},
		{opAddComment, domain.RoleAgent, true},
		{opAddComment, domain.RoleCustomer, false},
		{opAddComment, domain.RoleAdmin, false},
		{opConfirmResolved, domain.RoleCustomer, true},
		{opConfirmResolved, domain.RoleAgent, false},
		{opRejectResolved, domain.RoleCustomer, true},
		{opRejectResolved, domain.RoleAgent, false},
		{opDeleteTicket, domain.RoleAgent, true},
		{opDeleteTicket, domain.RoleAdmin, false},
		{opAgentStats, domain.RoleAdmin, true},
		{opAgentStats, domain.RoleAgent, false},
	}
	for _, tt := range tests {
		err := authorize(tt.op, tt.role)
		if tt.allowed && err != nil {
			t.Errorf("%s as %s: unexpected %v", tt.op, tt.role, err)
		}
		if !tt.allowed && !apperrors.IsCode(err, "FORBIDDEN") {
			t.Errorf("%s as %s: err = %v, want FORBIDDEN", tt.op, tt.role, err)
		}
	}
}

func TestHistoryRecordsEscalation(t *testing.T) {
	svc, store, clk := newFixture(t)
	ticket := mustCreate(t, svc, domain.TicketPriorityMedium)

	clk.Advance(6 * time.Minute)
	if _, err := svc.List(context.Background(), customer); err != nil {
		t.Fatalf("List: %v", err)
	}

	entries, err := store.History().ListByTicket(context.Background(), ticket.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].ChangeType != domain.ChangeTypeEscalation {
		t.Errorf("change type = %s, want ESCALATION", entries[0].ChangeType)
	}
	if entries[0].ActorID != nil {
		t.Errorf("engine change attributed to a person: %v", *entries[0].ActorID)
	}
}

// flakyTicketRepo fails a set number of version-guarded writes with
// ErrVersionConflict before delegating, simulating lost update races.
// A negative count fails every write.
type flakyTicketRepo struct {
	repository.TicketRepository
	conflicts int
}

func (r *flakyTicketRepo) Update(ctx context.Context, ticket *domain.Ticket) error {
	if r.conflicts != 0 {
		if r.conflicts > 0 {
			r.conflicts--
		}
		return repository.ErrVersionConflict
	}
	return r.TicketRepository.Update(ctx, ticket)
}

func newConflictFixture(t *testing.T, conflicts int) (*LifecycleService, *memory.Store, *flakyTicketRepo) {
	t.Helper()
	store := memory.NewStore()
	repo := &flakyTicketRepo{TicketRepository: store.Tickets(), conflicts: conflicts}
	svc := NewLifecycleService(LifecycleDependencies{
		TicketRepo:     repo,
		CommentRepo:    store.Comments(),
		AttachmentRepo: store.Attachments(),
		UserRepo:       store.Users(),
		HistoryRepo:    store.History(),
		Reconciler:     sla.NewReconciler(store.Tickets(), store.History(), sla.DefaultWindows(), nil, nil),
		Clock:          clock.NewFake(testStart),
	})
	return svc, store, repo
}

func TestConcurrentTicketUpdates(t *testing.T) {
	t.Run("stale write is rejected", func(t *testing.T) {
		svc, store, _ := newFixture(t)
		ticket := mustCreate(t, svc, "")

		stale, err := store.Tickets().GetByID(context.Background(), ticket.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		current, err := store.Tickets().GetByID(context.Background(), ticket.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		current.Priority = domain.TicketPriorityHigh
		if err := store.Tickets().Update(context.Background(), current); err != nil {
			t.Fatalf("competing update: %v", err)
		}

		stale.Priority = domain.TicketPriorityLow
		if err := store.Tickets().Update(context.Background(), stale); !errors.Is(err, repository.ErrVersionConflict) {
			t.Errorf("stale update err = %v, want ErrVersionConflict", err)
		}
	})

	t.Run("lost race is retried", func(t *testing.T) {
		svc, store, repo := newConflictFixture(t, 1)
		ticket := mustCreate(t, svc, "")

		got, err := svc.Assign(context.Background(), agent, ticket.ID, nil)
		if err != nil {
			t.Fatalf("Assign: %v", err)
		}
		if got.AgentID == nil || *got.AgentID != agent.ID {
			t.Errorf("agent = %v, want %s", got.AgentID, agent.ID)
		}
		if repo.conflicts != 0 {
			t.Errorf("conflicts remaining = %d, want 0", repo.conflicts)
		}
		persisted, err := store.Tickets().GetByID(context.Background(), ticket.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if persisted.AgentID == nil || *persisted.AgentID != agent.ID {
			t.Errorf("persisted agent = %v, want %s", persisted.AgentID, agent.ID)
		}
	})

	t.Run("conflict surfaces after retries are exhausted", func(t *testing.T) {
		svc, store, _ := newConflictFixture(t, -1)
		ticket := mustCreate(t, svc, "")

		_, err := svc.Assign(context.Background(), agent, ticket.ID, nil)
		if !apperrors.IsCode(err, "CONFLICT") {
			t.Fatalf("err = %v, want CONFLICT", err)
		}
		persisted, err := store.Tickets().GetByID(context.Background(), ticket.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if persisted.AgentID != nil {
			t.Errorf("ticket assigned despite conflict: %v", *persisted.AgentID)
		}
	})
}

// recordingBlobStore tracks deletions so cleanup paths can be asserted.
type recordingBlobStore struct {
	deleted []string
}

func (b *recordingBlobStore) Save(ctx context.Context, data []byte, fileName string) (string, error) {
	return "key-" + fileName, nil
}

func (b *recordingBlobStore) Open(ctx context.Context, key string) ([]byte, error) {
	return nil, nil
}

func (b *recordingBlobStore) Delete(ctx context.Context, key string) error {
	b.deleted = append(b.deleted, key)
	return nil
}

func TestCreateTicketRollsBackOnAttachmentFailure(t *testing.T) {
	store := memory.NewStore()
	store.FailAttachmentCreate = errors.New("attachment insert failed")
	store.AttachmentCreateOK = 1
	blobs := &recordingBlobStore{}
	svc := NewLifecycleService(LifecycleDependencies{
		TicketRepo:     store.Tickets(),
		CommentRepo:    store.Comments(),
		AttachmentRepo: store.Attachments(),
		UserRepo:       store.Users(),
		HistoryRepo:    store.History(),
		Blobs:          blobs,
		Reconciler:     sla.NewReconciler(store.Tickets(), store.History(), sla.DefaultWindows(), nil, nil),
		Clock:          clock.NewFake(testStart),
	})

	attachments := []AttachmentInput{
		{StorageKey: "blob-1", FileName: "trace.log", MimeType: "text/plain", SizeBytes: 42},
		{StorageKey: "blob-2", FileName: "screen.png", MimeType: "image/png", SizeBytes: 1024},
	}
	_, _, err := svc.CreateTicket(context.Background(), customer, TicketCreateInput{
		Title:       "cannot log in",
		Description: "password reset loops forever",
	}, attachments)
	if !apperrors.IsCode(err, "INTERNAL_ERROR") {
		t.Fatalf("err = %v, want INTERNAL_ERROR", err)
	}

	remaining, err := store.Tickets().ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("tickets left behind = %d, want 0", len(remaining))
	}

	if len(blobs.deleted) != 2 {
		t.Fatalf("discarded blobs = %d, want 2", len(blobs.deleted))
	}
	want := map[string]bool{"blob-1": true, "blob-2": true}
	for _, key := range blobs.deleted {
		if !want[key] {
			t.Errorf("unexpected blob discarded: %s", key)
		}
	}
}
