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

type ChannelStore struct {
	pool *pgxpool.Pool
}

func NewChannelStore(pool *pgxpool.Pool) *ChannelStore {
	return &ChannelStore{pool: pool}
}

func (s *ChannelStore) GetByID(ctx context.Context, tenantID uuid.UUID, channelID uuid.UUID) (*models.Channel, error) {
	// Soft-deleted channels are returned on purpose: the dispatch path needs
	// to see them to refuse the send, not treat them as missing.
	query := `
		SELECT id, tenant_id, name, status, deleted
		FROM channels
		WHERE id = $1 AND tenant_id = $2`

	var ch models.Channel
	err := s.pool.QueryRow(ctx, query, channelID, tenantID).Scan(
		&ch.ID, &ch.TenantID, &ch.Name, &ch.Status, &ch.Deleted,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return &ch, nil
}

func (s *ChannelStore) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Channel, error) {
	query := `
		SELECT id, tenant_id, name, status, deleted
		FROM channels
		WHERE tenant_id = $1 AND deleted = false
		ORDER BY name ASC`

	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	channels := make([]models.Channel, 0)
	for rows.Next() {
		var ch models.Channel
		if err := rows.Scan(&ch.ID, &ch.TenantID, &ch.Name, &ch.Status, &ch.Deleted); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}

	for i := range channels {
		queues, err := s.queuesForChannel(ctx, tenantID, channels[i].ID)
		if err != nil {
			return nil, err
		}
		channels[i].Queues = queues
	}

	return channels, nil
}

// queuesForChannel loads a channel's queues with each queue's categories
// nested, the shape the channel listing promises its clients.
func (s *ChannelStore) queuesForChannel(ctx context.Context, tenantID, channelID uuid.UUID) ([]models.Queue, error) {
	query := `
		SELECT q.id, q.tenant_id, q.name, q.color
		FROM queues q
		JOIN channel_queues cq ON cq.queue_id = q.id
		WHERE cq.channel_id = $1 AND q.tenant_id = $2
		ORDER BY q.name ASC`

	rows, err := s.pool.Query(ctx, query, channelID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list channel queues: %w", err)
	}
	defer rows.Close()

	queues := make([]models.Queue, 0)
	for rows.Next() {
		var q models.Queue
		if err := rows.Scan(&q.ID, &q.TenantID, &q.Name, &q.Color); err != nil {
			return nil, fmt.Errorf("scan queue: %w", err)
		}
		queues = append(queues, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queues: %w", err)
	}

	for i := range queues {
		categories, err := s.categoriesForQueue(ctx, tenantID, queues[i].ID)
		if err != nil {
			return nil, err
		}
		queues[i].Categories = categories
	}
	return queues, nil
}

func (s *ChannelStore) categoriesForQueue(ctx context.Context, tenantID, queueID uuid.UUID) ([]models.Category, error) {
	query := `
		SELECT cat.id, cat.tenant_id, cat.name, cat.color
		FROM categories cat
		JOIN queue_categories qc ON qc.category_id = cat.id
		WHERE qc.queue_id = $1 AND cat.tenant_id = $2
		ORDER BY cat.name ASC`

	rows, err := s.pool.Query(ctx, query, queueID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list queue categories: %w", err)
	}
	defer rows.Close()

	categories := make([]models.Category, 0)
	for rows.Next() {
		var cat models.Category
		if err := rows.Scan(&cat.ID, &cat.TenantID, &cat.Name, &cat.Color); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, cat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return categories, nil
}
