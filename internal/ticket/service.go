package ticket

import (
	"context"

	"github.com/google/uuid"
	"github.com/otaviofarias/ticketstream/internal/apperr"
	"github.com/otaviofarias/ticketstream/internal/events"
	"github.com/otaviofarias/ticketstream/internal/models"
	"go.uber.org/zap"
)

// Store is the slice of the ticket repository the state machine needs.
// Defined here, on the consumer side, so the repository layer can depend on
// this package's query types without a cycle.
type Store interface {
	GetByID(ctx context.Context, tenantID uuid.UUID, ticketID int64) (*models.Ticket, error)
	Create(ctx context.Context, t *models.Ticket) (*models.Ticket, error)
	ClaimPending(ctx context.Context, tenantID uuid.UUID, ticketID int64, userID uuid.UUID) (*models.Ticket, error)
	UpdateStatus(ctx context.Context, tenantID uuid.UUID, ticketID int64, status string, userID *uuid.UUID) (*models.Ticket, error)
	ResetUnread(ctx context.Context, tenantID uuid.UUID, ticketID int64) error
}

// Service is the ticket state machine: pending -> open (accept),
// open -> closed (close), closed -> pending (reopen), plus the read-state
// side effect. Every successful transition is broadcast.
type Service struct {
	store  Store
	fanout events.Publisher
	logger *zap.Logger
}

func NewService(store Store, fanout events.Publisher, logger *zap.Logger) *Service {
	return &Service{store: store, fanout: fanout, logger: logger}
}

// CreatePending opens a new pending ticket (manual creation; the inbound
// message path uses the same entry point).
func (s *Service) CreatePending(ctx context.Context, t *models.Ticket) (*models.Ticket, error) {
	t.Status = models.StatusPending
	created, err := s.store.Create(ctx, t)
	if err != nil {
		return nil, err
	}
	s.broadcast(created, models.StatusPending)
	return created, nil
}

// Accept claims a pending or unowned ticket for assigneeID and opens it.
// The claim is conditional at the storage layer, so two racing accepts
// resolve to exactly one winner; the loser gets OwnershipConflict. The one
// unconditional path is a transfer: the current owner may hand their open
// ticket to a teammate.
func (s *Service) Accept(ctx context.Context, tenantID uuid.UUID, ticketID int64, actorID, assigneeID uuid.UUID) (*models.Ticket, error) {
	t, err := s.store.GetByID(ctx, tenantID, ticketID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, apperr.New(apperr.CodeNotFound, "ticket not found")
	}

	if assigneeID != actorID && t.UserID != nil && *t.UserID == actorID {
		updated, err := s.store.UpdateStatus(ctx, tenantID, ticketID, models.StatusOpen, &assigneeID)
		if err != nil {
			return nil, err
		}
		if updated == nil {
			return nil, apperr.New(apperr.CodeNotFound, "ticket not found")
		}
		s.logger.Info("ticket transferred",
			zap.Int64("ticket_id", ticketID),
			zap.String("from", actorID.String()),
			zap.String("to", assigneeID.String()),
		)
		s.broadcast(updated, t.Status)
		return updated, nil
	}

	claimed, err := s.store.ClaimPending(ctx, tenantID, ticketID, assigneeID)
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		return nil, apperr.New(apperr.CodeOwnershipConflict, "ticket already accepted by another user")
	}

	s.logger.Info("ticket accepted",
		zap.Int64("ticket_id", ticketID),
		zap.String("user_id", assigneeID.String()),
	)
	s.broadcast(claimed, t.Status)
	return claimed, nil
}

// Close terminates an open ticket. Further sends require a reopen.
func (s *Service) Close(ctx context.Context, tenantID uuid.UUID, ticketID int64, actorID uuid.UUID) (*models.Ticket, error) {
	t, err := s.store.GetByID(ctx, tenantID, ticketID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, apperr.New(apperr.CodeNotFound, "ticket not found")
	}
	if t.UserID != nil && *t.UserID != actorID {
		return nil, apperr.New(apperr.CodeOwnershipConflict, "ticket accepted by another user")
	}

	updated, err := s.store.UpdateStatus(ctx, tenantID, ticketID, models.StatusClosed, t.UserID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, apperr.New(apperr.CodeNotFound, "ticket not found")
	}
	s.broadcast(updated, t.Status)
	return updated, nil
}

// Reopen returns a closed ticket to the pending pool, clearing the
// assignee. The ticket row is reused — closure was a status, not a delete.
func (s *Service) Reopen(ctx context.Context, tenantID uuid.UUID, ticketID int64) (*models.Ticket, error) {
	t, err := s.store.GetByID(ctx, tenantID, ticketID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, apperr.New(apperr.CodeNotFound, "ticket not found")
	}

	updated, err := s.store.UpdateStatus(ctx, tenantID, ticketID, models.StatusPending, nil)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, apperr.New(apperr.CodeNotFound, "ticket not found")
	}
	s.broadcast(updated, t.Status)
	return updated, nil
}

// MarkRead zeroes the unread counter when — and only when — the viewer owns
// the open ticket. A side effect, not a transition: status never changes,
// nothing is broadcast, and the counter can never go negative because it
// only ever resets to zero.
func (s *Service) MarkRead(ctx context.Context, t *models.Ticket, viewerID uuid.UUID) error {
	if t.Status != models.StatusOpen || t.UserID == nil || *t.UserID != viewerID {
		return nil
	}
	if err := s.store.ResetUnread(ctx, t.TenantID, t.ID); err != nil {
		return err
	}
	t.UnreadMessages = 0
	return nil
}

// broadcast publishes an update for t to everyone who may be watching: the
// tenant channel, the rooms of the previous and current status, the
// notification room, and the per-ticket room.
func (s *Service) broadcast(t *models.Ticket, prevStatus string) {
	topics := []string{
		events.TenantTopic(t.TenantID),
		events.StatusTopic(t.Status),
		events.NotificationTopic,
		events.TicketDetailTopic(t.ID),
	}
	if prevStatus != "" && prevStatus != t.Status {
		topics = append(topics, events.StatusTopic(prevStatus))
	}
	s.fanout.Publish(topics, events.Event{Action: events.ActionUpdate, Ticket: t})
}
