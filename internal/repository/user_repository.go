package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// UserRepository defines persistence access for users. Account management
// is owned by the external identity service; this service reads users to
// resolve roles and aggregate statistics, and writes them only when seeding.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// AgentStatistics returns per-agent counts of in-progress, resolved and
	// closed tickets, ordered by username.
	AgentStatistics(ctx context.Context) ([]domain.AgentStats, error)
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (username, email, password_hash, role)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Role,
	).Scan(&user.ID, &user.CreatedAt)
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `
        SELECT id, username, email, password_hash, role, created_at
        FROM users WHERE id=$1`
	var user domain.User
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) AgentStatistics(ctx context.Context) ([]domain.AgentStats, error) {
	const query = `
        SELECT u.id, u.username, u.email,
               COUNT(CASE WHEN t.status = 'in_progress' THEN 1 END) AS in_progress_count,
               COUNT(CASE WHEN t.status = 'resolved' THEN 1 END) AS resolved_count,
               COUNT(CASE WHEN t.status = 'closed' THEN 1 END) AS closed_count
        FROM users u
        LEFT JOIN tickets t ON u.id = t.agent_id
        WHERE u.role = 'agent'
        GROUP BY u.id, u.username, u.email
        ORDER BY u.username`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AgentStats
	for rows.Next() {
		var stats domain.AgentStats
		if err := rows.Scan(
			&stats.ID,
			&stats.Username,
			&stats.Email,
			&stats.InProgress,
			&stats.Resolved,
			&stats.Closed,
		); err != nil {
			return nil, err
		}
		result = append(result, stats)
	}
	return result, rows.Err()
}
