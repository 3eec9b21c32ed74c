package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is the isolation boundary. Every entity below carries a TenantID and
// every query filters on it — tenant A never sees tenant B's tickets, even
// with a guessed ID.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// User is an agent within a tenant. Capabilities are not stored on the user;
// they come from the profile (see repository.PermissionRepository).
// SuperAdmin is only honored for users of the primary tenant.
type User struct {
	ID           uuid.UUID   `json:"id"`
	TenantID     uuid.UUID   `json:"tenant_id"`
	Email        string      `json:"email"`
	Name         string      `json:"name"`
	PasswordHash string      `json:"-"`
	ProfileID    uuid.UUID   `json:"profile_id"`
	SuperAdmin   bool        `json:"super_admin"`
	QueueIDs     []uuid.UUID `json:"queue_ids"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Queue is a routing bucket tickets can belong to. A ticket with a NULL
// queue_id is "unassigned"; filters represent that with the NoQueue sentinel
// rather than a real row. Categories is a joined payload, populated on reads
// that include it (the channel listing).
type Queue struct {
	ID         uuid.UUID  `json:"id"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	Name       string     `json:"name"`
	Color      string     `json:"color"`
	Categories []Category `json:"categories,omitempty"`
}

// NoQueue is the wire sentinel clients put in queueIds to mean "tickets with
// no queue assigned". It never appears as a queue row.
const NoQueue = "NO_QUEUE"

// Channel connectivity states as reported by the messaging gateway.
const (
	ChannelConnected    = "CONNECTED"
	ChannelDisconnected = "DISCONNECTED"
	ChannelOpening      = "OPENING"
	ChannelQRCode       = "QRCODE"
)

// Channel is one session on the messaging network. Deleted is a soft flag: a
// deleted channel keeps its rows for audit but is never a valid send target.
type Channel struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Name     string    `json:"name"`
	Status   string    `json:"status"`
	Deleted  bool      `json:"deleted"`
	Queues   []Queue   `json:"queues,omitempty"`
}

// Contact is the person on the other end of a conversation.
type Contact struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Name     string    `json:"name"`
	Number   string    `json:"number"`
}

// Ticket statuses. A closed ticket is reopened by transitioning back to
// pending or open; the row is never deleted.
const (
	StatusPending = "pending"
	StatusOpen    = "open"
	StatusClosed  = "closed"
)

// Ticket is a conversation thread between a contact and the tenant.
//
// UserID nil  = unclaimed (anyone may accept).
// QueueID nil = no queue assigned (the NoQueue sentinel in filters).
// UnreadMessages counts inbound messages not yet read by the assignee; it is
// reset only by a mark-read, never decremented piecemeal, and never negative.
//
// Why int64 IDs here when users/queues are uuid? Tickets and messages are the
// high-volume tables and bigserial gives a natural newest-first order, which
// the listing uses as its deterministic tiebreaker.
type Ticket struct {
	ID                int64      `json:"id"`
	TenantID          uuid.UUID  `json:"tenant_id"`
	Status            string     `json:"status"`
	UserID            *uuid.UUID `json:"user_id"`
	QueueID           *uuid.UUID `json:"queue_id"`
	ContactID         uuid.UUID  `json:"contact_id"`
	ChannelID         uuid.UUID  `json:"channel_id"`
	CategoryID        *uuid.UUID `json:"category_id"`
	UnreadMessages    int        `json:"unread_messages"`
	LastMessageFromMe bool       `json:"last_message_from_me"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`

	// Joined payloads, populated on reads that include them.
	Contact *Contact `json:"contact,omitempty"`
	Queue   *Queue   `json:"queue,omitempty"`
	Channel *Channel `json:"channel,omitempty"`
	Task    *Task    `json:"task,omitempty"`
}

// Message is one message inside a ticket. Rows are immutable after insert
// except for delivery timestamps (each set at most once, non-decreasing when
// chained) and a single tombstone: Removed clears the displayable body but
// keeps the row so quoted replies and audit links stay valid.
//
// QuotedMsgID is a non-owning back-reference — an ID only, resolved lazily —
// so tombstoning the quoted message never cascades.
type Message struct {
	ID          int64      `json:"id"`
	TenantID    uuid.UUID  `json:"tenant_id"`
	TicketID    int64      `json:"ticket_id"`
	ContactID   uuid.UUID  `json:"contact_id"`
	Body        string     `json:"body"`
	FromMe      bool       `json:"from_me"`
	Removed     bool       `json:"removed"`
	MediaURL    string     `json:"media_url,omitempty"`
	MediaType   string     `json:"media_type,omitempty"`
	QuotedMsgID *int64     `json:"quoted_msg_id,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	ErrorAt     *time.Time `json:"error_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Task is an optional follow-up attached to a ticket. FinalizedAt nil means
// the task is still open; task-mode ticket listing only considers open tasks.
type Task struct {
	ID          int64      `json:"id"`
	TicketID    int64      `json:"ticket_id"`
	UserID      uuid.UUID  `json:"user_id"`
	Description string     `json:"description"`
	DueDate     time.Time  `json:"due_date"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

// Category labels tickets within a queue.
type Category struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Name     string    `json:"name"`
	Color    string    `json:"color"`
}
