package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// ErrVersionConflict is returned when an optimistic update loses the race:
// the row changed since the snapshot was loaded. Callers reload and retry.
var ErrVersionConflict = errors.New("ticket modified concurrently")

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// Update persists the ticket conditioned on its loaded Version and bumps
	// the version on success. ErrVersionConflict signals a lost race.
	Update(ctx context.Context, ticket *domain.Ticket) error
	Delete(ctx context.Context, id string) error
	ListByCustomer(ctx context.Context, customerID string) ([]domain.Ticket, error)
	// ListForAgent orders the queue the way agents triage: own open work,
	// then unclaimed, then other agents' work, then closed; newest first
	// within each group.
	ListForAgent(ctx context.Context, agentID string) ([]domain.Ticket, error)
	ListAll(ctx context.Context) ([]domain.Ticket, error)
	// ListActive returns tickets subject to escalation, i.e. status not in
	// (closed, resolved).
	ListActive(ctx context.Context) ([]domain.Ticket, error)
	// CloseExpiredResolved closes every resolved ticket whose customer
	// response deadline has lapsed in one set-based update and returns the
	// affected ids.
	CloseExpiredResolved(ctx context.Context, now time.Time) ([]string, error)
	CountUnassigned(ctx context.Context) (int, error)
}

const ticketColumns = `id, title, description, status, priority, customer_id, agent_id,
               created_at, updated_at, first_response_at, resolved_at, closed_at,
               sla_deadline, customer_response_deadline, escalated, escalation_count, version`

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (title, description, status, priority, customer_id, agent_id,
            created_at, updated_at, first_response_at, resolved_at, closed_at,
            sla_deadline, customer_response_deadline, escalated, escalation_count, version)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,1)
        RETURNING id, version`
	return r.pool.QueryRow(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.CustomerID,
		ticket.AgentID,
		ticket.CreatedAt,
		ticket.UpdatedAt,
		ticket.FirstResponseAt,
		ticket.ResolvedAt,
		ticket.ClosedAt,
		ticket.SLADeadline,
		ticket.CustomerResponseDeadline,
		ticket.Escalated,
		ticket.EscalationCount,
	).Scan(&ticket.ID, &ticket.Version)
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET status=$1, priority=$2, agent_id=$3, updated_at=$4,
            first_response_at=$5, resolved_at=$6, closed_at=$7,
            sla_deadline=$8, customer_response_deadline=$9,
            escalated=$10, escalation_count=$11, version=version+1
        WHERE id=$12 AND version=$13`
	cmd, err := r.pool.Exec(ctx, query,
		ticket.Status,
		ticket.Priority,
		ticket.AgentID,
		ticket.UpdatedAt,
		ticket.FirstResponseAt,
		ticket.ResolvedAt,
		ticket.ClosedAt,
		ticket.SLADeadline,
		ticket.CustomerResponseDeadline,
		ticket.Escalated,
		ticket.EscalationCount,
		ticket.ID,
		ticket.Version,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	ticket.Version++
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	var ticket domain.Ticket
	if err := r.pool.QueryRow(ctx, query, id).Scan(ticketFields(&ticket)...); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM tickets WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) ListByCustomer(ctx context.Context, customerID string) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE customer_id=$1 ORDER BY created_at DESC`
	return r.list(ctx, query, customerID)
}

func (r *ticketRepository) ListForAgent(ctx context.Context, agentID string) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + `,
               CASE
                 WHEN agent_id = $1 AND status != 'closed' THEN 1
                 WHEN agent_id IS NULL AND status != 'closed' THEN 2
                 WHEN agent_id IS NOT NULL AND agent_id != $1 AND status != 'closed' THEN 3
                 ELSE 4
               END AS sort_order
        FROM tickets ORDER BY sort_order, created_at DESC`

	rows, err := r.pool.Query(ctx, query, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		var sortOrder int
		fields := append(ticketFields(&ticket), &sortOrder)
		if err := rows.Scan(fields...); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

func (r *ticketRepository) ListAll(ctx context.Context) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets ORDER BY created_at DESC`
	return r.list(ctx, query)
}

func (r *ticketRepository) ListActive(ctx context.Context) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE status NOT IN ('closed', 'resolved') ORDER BY created_at`
	return r.list(ctx, query)
}

func (r *ticketRepository) CloseExpiredResolved(ctx context.Context, now time.Time) ([]string, error) {
	const query = `
        UPDATE tickets
        SET status='closed', closed_at=$1, updated_at=$1,
            customer_response_deadline=NULL, version=version+1
        WHERE status='resolved'
          AND customer_response_deadline IS NOT NULL
          AND customer_response_deadline < $1
        RETURNING id`
	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ticketRepository) CountUnassigned(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE agent_id IS NULL`).Scan(&count)
	return count, err
}

func (r *ticketRepository) list(ctx context.Context, query string, args ...any) ([]domain.Ticket, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(ticketFields(&ticket)...); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

func ticketFields(t *domain.Ticket) []any {
	return []any{
		&t.ID,
		&t.Title,
		&t.Description,
		&t.Status,
		&t.Priority,
		&t.CustomerID,
		&t.AgentID,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.FirstResponseAt,
		&t.ResolvedAt,
		&t.ClosedAt,
		&t.SLADeadline,
		&t.CustomerResponseDeadline,
		&t.Escalated,
		&t.EscalationCount,
		&t.Version,
	}
}
