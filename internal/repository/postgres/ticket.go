package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/otaviofarias/ticketstream/internal/models"
	"github.com/otaviofarias/ticketstream/internal/ticket"
)

type TicketStore struct {
	pool *pgxpool.Pool
}

func NewTicketStore(pool *pgxpool.Pool) *TicketStore {
	return &TicketStore{pool: pool}
}

// ticketColumns mirrors ticket.BuildListQuery's select list; scanTicket and
// the single-row reads share it so the scan order is defined in one place.
const ticketColumns = `t.id, t.tenant_id, t.status, t.user_id, t.queue_id, t.contact_id,
	t.channel_id, t.category_id, t.unread_messages, t.last_message_from_me,
	t.created_at, t.updated_at,
	c.id, c.name, c.number,
	w.id, w.name, w.status, w.deleted,
	q.id, q.name, q.color`

const ticketJoins = `FROM tickets t
	JOIN contacts c ON c.id = t.contact_id
	JOIN channels w ON w.id = t.channel_id
	LEFT JOIN queues q ON q.id = t.queue_id`

func scanTicket(row pgx.Row) (*models.Ticket, error) {
	var t models.Ticket
	var contact models.Contact
	var channel models.Channel
	var queueID *uuid.UUID
	var queueName, queueColor *string

	err := row.Scan(
		&t.ID, &t.TenantID, &t.Status, &t.UserID, &t.QueueID, &t.ContactID,
		&t.ChannelID, &t.CategoryID, &t.UnreadMessages, &t.LastMessageFromMe,
		&t.CreatedAt, &t.UpdatedAt,
		&contact.ID, &contact.Name, &contact.Number,
		&channel.ID, &channel.Name, &channel.Status, &channel.Deleted,
		&queueID, &queueName, &queueColor,
	)
	if err != nil {
		return nil, err
	}

	contact.TenantID = t.TenantID
	channel.TenantID = t.TenantID
	t.Contact = &contact
	t.Channel = &channel
	if queueID != nil {
		t.Queue = &models.Queue{
			ID:       *queueID,
			TenantID: t.TenantID,
			Name:     derefString(queueName),
			Color:    derefString(queueColor),
		}
	}
	return &t, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *TicketStore) Create(ctx context.Context, t *models.Ticket) (*models.Ticket, error) {
	query := `
		INSERT INTO tickets (tenant_id, status, user_id, queue_id, contact_id, channel_id,
			category_id, unread_messages, last_message_from_me, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, false, now(), now())
		RETURNING id, created_at, updated_at`

	err := s.pool.QueryRow(ctx, query,
		t.TenantID, t.Status, t.UserID, t.QueueID, t.ContactID, t.ChannelID, t.CategoryID,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert ticket: %w", err)
	}
	return s.GetByID(ctx, t.TenantID, t.ID)
}

func (s *TicketStore) GetByID(ctx context.Context, tenantID uuid.UUID, ticketID int64) (*models.Ticket, error) {
	query := "SELECT " + ticketColumns + " " + ticketJoins + `
		WHERE t.id = $1 AND t.tenant_id = $2`

	t, err := scanTicket(s.pool.QueryRow(ctx, query, ticketID, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

// List runs the built query twice: once for the total count, once for the
// page. Both share one argument list, so a predicate change can never apply
// to one and not the other.
func (s *TicketStore) List(ctx context.Context, flt ticket.ListFilter) ([]models.Ticket, int, error) {
	q := ticket.BuildListQuery(flt)

	var total int
	if err := s.pool.QueryRow(ctx, q.CountSQL, q.Args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tickets: %w", err)
	}

	args := append(append([]any{}, q.Args...), q.Limit, q.Offset)
	rows, err := s.pool.Query(ctx, q.SQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	tickets := make([]models.Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate tickets: %w", err)
	}

	return tickets, total, nil
}

func (s *TicketStore) UpdateStatus(ctx context.Context, tenantID uuid.UUID, ticketID int64, status string, userID *uuid.UUID) (*models.Ticket, error) {
	query := `
		UPDATE tickets SET status = $1, user_id = $2, updated_at = now()
		WHERE id = $3 AND tenant_id = $4`

	tag, err := s.pool.Exec(ctx, query, status, userID, ticketID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("update ticket status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, tenantID, ticketID)
}

// ClaimPending is the compare-and-swap behind accept: the assignment only
// lands while the ticket is still pending or unclaimed. A lost race affects
// zero rows and returns nil, nil so the caller can report the conflict.
func (s *TicketStore) ClaimPending(ctx context.Context, tenantID uuid.UUID, ticketID int64, userID uuid.UUID) (*models.Ticket, error) {
	query := `
		UPDATE tickets SET status = 'open', user_id = $1, updated_at = now()
		WHERE id = $2 AND tenant_id = $3
		  AND (status = 'pending' OR user_id IS NULL OR user_id = $1)`

	tag, err := s.pool.Exec(ctx, query, userID, ticketID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("claim ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, tenantID, ticketID)
}

func (s *TicketStore) ResetUnread(ctx context.Context, tenantID uuid.UUID, ticketID int64) error {
	query := `
		UPDATE tickets SET unread_messages = 0
		WHERE id = $1 AND tenant_id = $2`

	if _, err := s.pool.Exec(ctx, query, ticketID, tenantID); err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	return nil
}

func (s *TicketStore) SetLastMessageFromMe(ctx context.Context, tenantID uuid.UUID, ticketID int64, fromMe bool) error {
	query := `
		UPDATE tickets SET last_message_from_me = $1, updated_at = now()
		WHERE id = $2 AND tenant_id = $3`

	if _, err := s.pool.Exec(ctx, query, fromMe, ticketID, tenantID); err != nil {
		return fmt.Errorf("set last message from me: %w", err)
	}
	return nil
}
