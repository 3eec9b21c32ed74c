package ticket

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/otaviofarias/ticketstream/internal/apperr"
	"github.com/otaviofarias/ticketstream/internal/events"
	"github.com/otaviofarias/ticketstream/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type statusUpdate struct {
	status string
	userID *uuid.UUID
}

// stubStore is an in-memory Store. Configure the return values, inspect the
// recorded calls.
type stubStore struct {
	ticket      *models.Ticket
	claimResult *models.Ticket
	updated     *models.Ticket

	claimedBy     []uuid.UUID
	statusUpdates []statusUpdate
	resetCalls    int
}

func (s *stubStore) GetByID(ctx context.Context, tenantID uuid.UUID, ticketID int64) (*models.Ticket, error) {
	return s.ticket, nil
}

func (s *stubStore) Create(ctx context.Context, t *models.Ticket) (*models.Ticket, error) {
	t.ID = 1
	return t, nil
}

func (s *stubStore) ClaimPending(ctx context.Context, tenantID uuid.UUID, ticketID int64, userID uuid.UUID) (*models.Ticket, error) {
	s.claimedBy = append(s.claimedBy, userID)
	return s.claimResult, nil
}

func (s *stubStore) UpdateStatus(ctx context.Context, tenantID uuid.UUID, ticketID int64, status string, userID *uuid.UUID) (*models.Ticket, error) {
	s.statusUpdates = append(s.statusUpdates, statusUpdate{status: status, userID: userID})
	return s.updated, nil
}

func (s *stubStore) ResetUnread(ctx context.Context, tenantID uuid.UUID, ticketID int64) error {
	s.resetCalls++
	return nil
}

type published struct {
	topics []string
	ev     events.Event
}

type recordingPublisher struct {
	events []published
}

func (p *recordingPublisher) Publish(topics []string, ev events.Event) {
	p.events = append(p.events, published{topics: topics, ev: ev})
}

func newTestService(store Store) (*Service, *recordingPublisher) {
	pub := &recordingPublisher{}
	return NewService(store, pub, zap.NewNop()), pub
}

func pendingTicket(tenantID uuid.UUID) *models.Ticket {
	return &models.Ticket{
		ID:       7,
		TenantID: tenantID,
		Status:   models.StatusPending,
	}
}

func TestAccept(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	t.Run("claims an unowned pending ticket", func(t *testing.T) {
		claimed := pendingTicket(tenantID)
		claimed.Status = models.StatusOpen
		claimed.UserID = &userID

		store := &stubStore{ticket: pendingTicket(tenantID), claimResult: claimed}
		svc, pub := newTestService(store)

		got, err := svc.Accept(context.Background(), tenantID, 7, userID, userID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusOpen, got.Status)
		assert.Equal(t, []uuid.UUID{userID}, store.claimedBy)

		// Both the old and new status rooms hear about the transition.
		require.Len(t, pub.events, 1)
		assert.Equal(t, events.ActionUpdate, pub.events[0].ev.Action)
		assert.Contains(t, pub.events[0].topics, events.StatusTopic(models.StatusOpen))
		assert.Contains(t, pub.events[0].topics, events.StatusTopic(models.StatusPending))
		assert.Contains(t, pub.events[0].topics, events.TenantTopic(tenantID))
		assert.Contains(t, pub.events[0].topics, events.NotificationTopic)
		assert.Contains(t, pub.events[0].topics, events.TicketDetailTopic(7))
	})

	t.Run("missing ticket", func(t *testing.T) {
		store := &stubStore{}
		svc, pub := newTestService(store)

		_, err := svc.Accept(context.Background(), tenantID, 7, userID, userID)
		assert.True(t, apperr.Is(err, apperr.CodeNotFound))
		assert.Empty(t, pub.events)
	})

	t.Run("lost claim race", func(t *testing.T) {
		store := &stubStore{ticket: pendingTicket(tenantID), claimResult: nil}
		svc, pub := newTestService(store)

		_, err := svc.Accept(context.Background(), tenantID, 7, userID, userID)
		assert.True(t, apperr.Is(err, apperr.CodeOwnershipConflict))
		assert.Empty(t, pub.events)
	})

	t.Run("owner transfers to a teammate", func(t *testing.T) {
		teammate := uuid.New()
		owned := pendingTicket(tenantID)
		owned.Status = models.StatusOpen
		owned.UserID = &userID

		transferred := pendingTicket(tenantID)
		transferred.Status = models.StatusOpen
		transferred.UserID = &teammate

		store := &stubStore{ticket: owned, updated: transferred}
		svc, pub := newTestService(store)

		got, err := svc.Accept(context.Background(), tenantID, 7, userID, teammate)
		require.NoError(t, err)
		assert.Equal(t, &teammate, got.UserID)

		// The handoff bypasses the conditional claim.
		assert.Empty(t, store.claimedBy)
		require.Len(t, store.statusUpdates, 1)
		assert.Equal(t, models.StatusOpen, store.statusUpdates[0].status)
		assert.Equal(t, &teammate, store.statusUpdates[0].userID)
		require.Len(t, pub.events, 1)
	})

	t.Run("non-owner cannot transfer", func(t *testing.T) {
		owner := uuid.New()
		owned := pendingTicket(tenantID)
		owned.Status = models.StatusOpen
		owned.UserID = &owner

		store := &stubStore{ticket: owned, claimResult: nil}
		svc, _ := newTestService(store)

		// Not the owner: the request falls through to the conditional claim,
		// which fails because the ticket is already held.
		_, err := svc.Accept(context.Background(), tenantID, 7, userID, uuid.New())
		assert.True(t, apperr.Is(err, apperr.CodeOwnershipConflict))
		assert.Empty(t, store.statusUpdates)
	})
}

func TestClose(t *testing.T) {
	tenantID := uuid.New()
	owner := uuid.New()

	openTicket := func() *models.Ticket {
		tk := pendingTicket(tenantID)
		tk.Status = models.StatusOpen
		tk.UserID = &owner
		return tk
	}

	t.Run("owner closes", func(t *testing.T) {
		closed := openTicket()
		closed.Status = models.StatusClosed

		store := &stubStore{ticket: openTicket(), updated: closed}
		svc, pub := newTestService(store)

		got, err := svc.Close(context.Background(), tenantID, 7, owner)
		require.NoError(t, err)
		assert.Equal(t, models.StatusClosed, got.Status)

		require.Len(t, store.statusUpdates, 1)
		assert.Equal(t, models.StatusClosed, store.statusUpdates[0].status)
		assert.Equal(t, &owner, store.statusUpdates[0].userID)

		require.Len(t, pub.events, 1)
		assert.Contains(t, pub.events[0].topics, events.StatusTopic(models.StatusOpen))
		assert.Contains(t, pub.events[0].topics, events.StatusTopic(models.StatusClosed))
	})

	t.Run("non-owner is rejected", func(t *testing.T) {
		store := &stubStore{ticket: openTicket()}
		svc, pub := newTestService(store)

		_, err := svc.Close(context.Background(), tenantID, 7, uuid.New())
		assert.True(t, apperr.Is(err, apperr.CodeOwnershipConflict))
		assert.Empty(t, store.statusUpdates)
		assert.Empty(t, pub.events)
	})

	t.Run("missing ticket", func(t *testing.T) {
		store := &stubStore{}
		svc, _ := newTestService(store)

		_, err := svc.Close(context.Background(), tenantID, 7, owner)
		assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	})
}

func TestReopen(t *testing.T) {
	tenantID := uuid.New()
	owner := uuid.New()

	closed := pendingTicket(tenantID)
	closed.Status = models.StatusClosed
	closed.UserID = &owner

	reopened := pendingTicket(tenantID)

	store := &stubStore{ticket: closed, updated: reopened}
	svc, pub := newTestService(store)

	got, err := svc.Reopen(context.Background(), tenantID, 7)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	// Reopening returns the ticket to the unclaimed pool.
	require.Len(t, store.statusUpdates, 1)
	assert.Equal(t, models.StatusPending, store.statusUpdates[0].status)
	assert.Nil(t, store.statusUpdates[0].userID)

	require.Len(t, pub.events, 1)
	assert.Contains(t, pub.events[0].topics, events.StatusTopic(models.StatusClosed))
	assert.Contains(t, pub.events[0].topics, events.StatusTopic(models.StatusPending))
}

func TestCreatePending(t *testing.T) {
	tenantID := uuid.New()
	store := &stubStore{}
	svc, pub := newTestService(store)

	got, err := svc.CreatePending(context.Background(), &models.Ticket{TenantID: tenantID})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	require.Len(t, pub.events, 1)
	assert.Contains(t, pub.events[0].topics, events.NotificationTopic)
	assert.Contains(t, pub.events[0].topics, events.StatusTopic(models.StatusPending))
}

func TestMarkRead(t *testing.T) {
	tenantID := uuid.New()
	owner := uuid.New()

	tests := []struct {
		name      string
		status    string
		userID    *uuid.UUID
		viewer    uuid.UUID
		wantReset bool
	}{
		{"owner viewing open ticket", models.StatusOpen, &owner, owner, true},
		{"someone else viewing", models.StatusOpen, &owner, uuid.New(), false},
		{"pending ticket", models.StatusPending, nil, owner, false},
		{"closed ticket", models.StatusClosed, &owner, owner, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := &models.Ticket{
				ID:             7,
				TenantID:       tenantID,
				Status:         tt.status,
				UserID:         tt.userID,
				UnreadMessages: 3,
			}
			store := &stubStore{}
			svc, pub := newTestService(store)

			require.NoError(t, svc.MarkRead(context.Background(), tk, tt.viewer))

			if tt.wantReset {
				assert.Equal(t, 1, store.resetCalls)
				assert.Equal(t, 0, tk.UnreadMessages)
			} else {
				assert.Equal(t, 0, store.resetCalls)
				assert.Equal(t, 3, tk.UnreadMessages)
			}
			// A read-state change is never broadcast.
			assert.Empty(t, pub.events)
		})
	}
}
