package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/otaviofarias/ticketstream/internal/models"
	"github.com/otaviofarias/ticketstream/internal/permission"
)

type TenantStore struct {
	pool *pgxpool.Pool
}

func NewTenantStore(pool *pgxpool.Pool) *TenantStore {
	return &TenantStore{pool: pool}
}

// Create inserts the tenant and bootstraps an "admin" profile holding every
// capability, all in one transaction — a tenant without an admin profile
// would be unusable (nobody could send or see all tickets).
func (s *TenantStore) Create(ctx context.Context, name string) (*models.Tenant, uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("begin create tenant: %w", err)
	}
	defer tx.Rollback(ctx)

	var t models.Tenant
	err = tx.QueryRow(ctx, `
		INSERT INTO tenants (id, name, created_at)
		VALUES (uuid_generate_v4(), $1, now())
		RETURNING id, name, created_at`, name,
	).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("insert tenant: %w", err)
	}

	var profileID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO profiles (id, tenant_id, name)
		VALUES (uuid_generate_v4(), $1, 'admin')
		RETURNING id`, t.ID,
	).Scan(&profileID)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("insert admin profile: %w", err)
	}

	for _, capability := range []string{permission.CapSendMessage, permission.CapShowAllTickets} {
		if _, err := tx.Exec(ctx, `
			INSERT INTO profile_capabilities (profile_id, capability)
			VALUES ($1, $2)`, profileID, capability); err != nil {
			return nil, uuid.Nil, fmt.Errorf("grant capability: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, uuid.Nil, fmt.Errorf("commit create tenant: %w", err)
	}
	return &t, profileID, nil
}
