package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/otaviofarias/ticketstream/internal/models"
)

type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

func (s *UserStore) Create(ctx context.Context, u *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (id, tenant_id, email, name, password_hash, profile_id, super_admin, created_at)
		VALUES (uuid_generate_v4(), $1, $2, $3, $4, $5, $6, now())
		RETURNING id, created_at`

	err := s.pool.QueryRow(ctx, query,
		u.TenantID, u.Email, u.Name, u.PasswordHash, u.ProfileID, u.SuperAdmin,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByID(ctx context.Context, tenantID uuid.UUID, userID uuid.UUID) (*models.User, error) {
	query := `
		SELECT id, tenant_id, email, name, password_hash, profile_id, super_admin, created_at
		FROM users
		WHERE id = $1 AND tenant_id = $2`

	var u models.User
	err := s.pool.QueryRow(ctx, query, userID, tenantID).Scan(
		&u.ID, &u.TenantID, &u.Email, &u.Name, &u.PasswordHash, &u.ProfileID, &u.SuperAdmin, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	queueIDs, err := s.queueIDsForUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.QueueIDs = queueIDs
	return &u, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, tenant_id, email, name, password_hash, profile_id, super_admin, created_at
		FROM users
		WHERE email = $1`

	var u models.User
	err := s.pool.QueryRow(ctx, query, email).Scan(
		&u.ID, &u.TenantID, &u.Email, &u.Name, &u.PasswordHash, &u.ProfileID, &u.SuperAdmin, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// Update persists profile fields and replaces the queue memberships in one
// transaction, so a half-applied queue swap can never be observed.
func (s *UserStore) Update(ctx context.Context, u *models.User) (*models.User, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update user: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE users SET email = $1, name = $2, profile_id = $3, super_admin = $4
		WHERE id = $5 AND tenant_id = $6`
	tag, err := tx.Exec(ctx, query, u.Email, u.Name, u.ProfileID, u.SuperAdmin, u.ID, u.TenantID)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}

	if _, err := tx.Exec(ctx, `DELETE FROM user_queues WHERE user_id = $1`, u.ID); err != nil {
		return nil, fmt.Errorf("clear user queues: %w", err)
	}
	for _, queueID := range u.QueueIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_queues (user_id, queue_id) VALUES ($1, $2)`, u.ID, queueID); err != nil {
			return nil, fmt.Errorf("insert user queue: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update user: %w", err)
	}
	return s.GetByID(ctx, u.TenantID, u.ID)
}

func (s *UserStore) queueIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT queue_id FROM user_queues WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user queues: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan queue id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user queues: %w", err)
	}
	return ids, nil
}
