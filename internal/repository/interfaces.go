package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/otaviofarias/ticketstream/internal/models"
	"github.com/otaviofarias/ticketstream/internal/ticket"
)

// Every method takes ctx (all of these touch the network) and a tenant ID
// (multi-tenancy is enforced at the query, not the handler). A guessed ID
// from another tenant behaves exactly like a missing row: nil, nil.

// TicketRepository is the storage collaborator for tickets.
type TicketRepository interface {
	// Create inserts a pending ticket and returns it with ID and timestamps
	// populated.
	Create(ctx context.Context, t *models.Ticket) (*models.Ticket, error)

	// GetByID returns one ticket with its contact, queue and channel joined.
	// Returns nil, nil if not found.
	GetByID(ctx context.Context, tenantID uuid.UUID, ticketID int64) (*models.Ticket, error)

	// List executes the permission-scoped listing query and returns one page
	// plus the total count across all pages.
	List(ctx context.Context, flt ticket.ListFilter) ([]models.Ticket, int, error)

	// UpdateStatus sets status and assignee together. userID nil clears the
	// assignment (a ticket returned to the pending pool).
	UpdateStatus(ctx context.Context, tenantID uuid.UUID, ticketID int64, status string, userID *uuid.UUID) (*models.Ticket, error)

	// ClaimPending atomically assigns an unclaimed-or-pending ticket to a
	// user and opens it. Returns nil, nil when the ticket exists but the
	// claim condition no longer holds (someone else won the race).
	ClaimPending(ctx context.Context, tenantID uuid.UUID, ticketID int64, userID uuid.UUID) (*models.Ticket, error)

	// ResetUnread zeroes the unread counter. Side effect only; never touches
	// status or assignment.
	ResetUnread(ctx context.Context, tenantID uuid.UUID, ticketID int64) error

	// SetLastMessageFromMe flips the last-message-from-me flag and bumps
	// updated_at so the listing order reflects the send.
	SetLastMessageFromMe(ctx context.Context, tenantID uuid.UUID, ticketID int64, fromMe bool) error
}

// MessageRepository handles message persistence.
type MessageRepository interface {
	// Create persists a message and returns it with ID and CreatedAt
	// populated.
	Create(ctx context.Context, msg *models.Message) (*models.Message, error)

	// GetByID returns a single message. Returns nil, nil if not found.
	GetByID(ctx context.Context, tenantID uuid.UUID, messageID int64) (*models.Message, error)

	// ListByTicket returns one newest-first page of a ticket's messages plus
	// the total count.
	ListByTicket(ctx context.Context, tenantID uuid.UUID, ticketID int64, page, pageSize int) ([]models.Message, int, error)

	// Remove tombstones a message: clears the displayable body, keeps the
	// row. Returns the tombstoned message, or nil, nil if not found.
	Remove(ctx context.Context, tenantID uuid.UUID, messageID int64) (*models.Message, error)
}

// ChannelRepository reads messaging connections.
type ChannelRepository interface {
	// GetByID returns a channel regardless of its soft-deleted flag — the
	// dispatch path needs to see deleted channels to refuse them.
	GetByID(ctx context.Context, tenantID uuid.UUID, channelID uuid.UUID) (*models.Channel, error)

	// ListByTenant returns the tenant's channels with their queues joined.
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Channel, error)
}

// UserRepository handles agent accounts.
type UserRepository interface {
	Create(ctx context.Context, u *models.User) (*models.User, error)

	// GetByID returns the user with queue memberships populated.
	// Returns nil, nil if not found.
	GetByID(ctx context.Context, tenantID uuid.UUID, userID uuid.UUID) (*models.User, error)

	// GetByEmail is the login lookup; not tenant-scoped because the email is
	// the cross-tenant unique login key.
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// Update persists profile fields and replaces queue memberships.
	Update(ctx context.Context, u *models.User) (*models.User, error)
}

// TenantRepository handles workspace rows.
type TenantRepository interface {
	// Create inserts a tenant plus its bootstrap admin profile (granted all
	// capabilities) and returns the profile's ID for the first user.
	Create(ctx context.Context, name string) (*models.Tenant, uuid.UUID, error)
}

// PermissionRepository resolves profile capabilities.
type PermissionRepository interface {
	// HasCapability reports whether the user's profile grants the named
	// capability within the tenant. Unknown user or profile is false, nil —
	// the gate fails closed, it does not error.
	HasCapability(ctx context.Context, userID, tenantID uuid.UUID, capability string) (bool, error)
}
