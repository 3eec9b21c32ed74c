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

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

const messageColumns = `id, tenant_id, ticket_id, contact_id, body, from_me, removed,
	media_url, media_type, quoted_msg_id, sent_at, delivered_at, read_at, error_at, created_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	err := row.Scan(
		&m.ID, &m.TenantID, &m.TicketID, &m.ContactID, &m.Body, &m.FromMe, &m.Removed,
		&m.MediaURL, &m.MediaType, &m.QuotedMsgID,
		&m.SentAt, &m.DeliveredAt, &m.ReadAt, &m.ErrorAt, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *MessageStore) Create(ctx context.Context, msg *models.Message) (*models.Message, error) {
	// Messages use bigserial, Postgres generates the ID; RETURNING gives the
	// full row back so callers see defaults without a second query.
	query := `
		INSERT INTO messages (tenant_id, ticket_id, contact_id, body, from_me,
			media_url, media_type, quoted_msg_id, sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		RETURNING ` + messageColumns

	m, err := scanMessage(s.pool.QueryRow(ctx, query,
		msg.TenantID, msg.TicketID, msg.ContactID, msg.Body, msg.FromMe,
		msg.MediaURL, msg.MediaType, msg.QuotedMsgID, msg.SentAt,
	))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

func (s *MessageStore) GetByID(ctx context.Context, tenantID uuid.UUID, messageID int64) (*models.Message, error) {
	query := "SELECT " + messageColumns + ` FROM messages
		WHERE id = $1 AND tenant_id = $2`

	m, err := scanMessage(s.pool.QueryRow(ctx, query, messageID, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (s *MessageStore) ListByTicket(ctx context.Context, tenantID uuid.UUID, ticketID int64, page, pageSize int) ([]models.Message, int, error) {
	if page < 1 {
		page = 1
	}
	offset := pageSize * (page - 1)

	var total int
	countSQL := `SELECT count(*) FROM messages WHERE ticket_id = $1 AND tenant_id = $2`
	if err := s.pool.QueryRow(ctx, countSQL, ticketID, tenantID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	query := "SELECT " + messageColumns + ` FROM messages
		WHERE ticket_id = $1 AND tenant_id = $2
		ORDER BY id DESC
		LIMIT $3 OFFSET $4`

	rows, err := s.pool.Query(ctx, query, ticketID, tenantID, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, total, nil
}

// Remove tombstones a message: the displayable body is cleared and the
// removed flag set, but the row stays so quoted replies keep resolving.
func (s *MessageStore) Remove(ctx context.Context, tenantID uuid.UUID, messageID int64) (*models.Message, error) {
	query := `
		UPDATE messages SET removed = true, body = '', media_url = ''
		WHERE id = $1 AND tenant_id = $2
		RETURNING ` + messageColumns

	m, err := scanMessage(s.pool.QueryRow(ctx, query, messageID, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("remove message: %w", err)
	}
	return m, nil
}
