package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PermissionStore struct {
	pool *pgxpool.Pool
}

func NewPermissionStore(pool *pgxpool.Pool) *PermissionStore {
	return &PermissionStore{pool: pool}
}

// HasCapability resolves user -> profile -> capability in one query. This is
// a hot path: it runs before every send and on every listing, so it stays a
// single indexed lookup. A missing user, profile, or mapping is false, nil —
// never an error.
func (s *PermissionStore) HasCapability(ctx context.Context, userID, tenantID uuid.UUID, capability string) (bool, error) {
	query := `
		SELECT 1
		FROM users u
		JOIN profile_capabilities pc ON pc.profile_id = u.profile_id
		WHERE u.id = $1 AND u.tenant_id = $2 AND pc.capability = $3`

	var one int
	err := s.pool.QueryRow(ctx, query, userID, tenantID, capability).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check capability: %w", err)
	}
	return true, nil
}
