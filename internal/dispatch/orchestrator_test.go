package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/otaviofarias/ticketstream/internal/apperr"
	"github.com/otaviofarias/ticketstream/internal/events"
	"github.com/otaviofarias/ticketstream/internal/models"
	"github.com/otaviofarias/ticketstream/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTickets struct {
	ticket *models.Ticket

	resetCalls  int
	fromMeCalls []bool
}

func (f *fakeTickets) GetByID(ctx context.Context, tenantID uuid.UUID, ticketID int64) (*models.Ticket, error) {
	return f.ticket, nil
}

func (f *fakeTickets) ResetUnread(ctx context.Context, tenantID uuid.UUID, ticketID int64) error {
	f.resetCalls++
	return nil
}

func (f *fakeTickets) SetLastMessageFromMe(ctx context.Context, tenantID uuid.UUID, ticketID int64, fromMe bool) error {
	f.fromMeCalls = append(f.fromMeCalls, fromMe)
	return nil
}

type fakeMessages struct {
	mu      sync.Mutex
	nextID  int64
	created []models.Message

	byID    *models.Message
	removed *models.Message
}

func (f *fakeMessages) Create(ctx context.Context, msg *models.Message) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	msg.ID = f.nextID
	msg.CreatedAt = time.Now()
	f.created = append(f.created, *msg)
	return msg, nil
}

func (f *fakeMessages) GetByID(ctx context.Context, tenantID uuid.UUID, messageID int64) (*models.Message, error) {
	return f.byID, nil
}

func (f *fakeMessages) Remove(ctx context.Context, tenantID uuid.UUID, messageID int64) (*models.Message, error) {
	return f.removed, nil
}

func (f *fakeMessages) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeGate struct {
	allow bool
}

func (f *fakeGate) HasCapability(ctx context.Context, actorID, tenantID uuid.UUID, capability string) (bool, error) {
	return f.allow, nil
}

type fakeTransport struct {
	mu         sync.Mutex
	textCalls  []transport.TextSend
	mediaCalls []transport.MediaSend

	textErr error
	// failURL makes SendMedia fail for that attachment only.
	failURL  string
	mediaErr error
}

func (f *fakeTransport) SendText(ctx context.Context, req transport.TextSend) (*transport.DeliveryReceipt, error) {
	f.mu.Lock()
	f.textCalls = append(f.textCalls, req)
	f.mu.Unlock()
	if f.textErr != nil {
		return nil, f.textErr
	}
	return &transport.DeliveryReceipt{ExternalID: "ext-1", Timestamp: time.Now()}, nil
}

func (f *fakeTransport) SendMedia(ctx context.Context, req transport.MediaSend) (*transport.DeliveryReceipt, error) {
	f.mu.Lock()
	f.mediaCalls = append(f.mediaCalls, req)
	f.mu.Unlock()
	if f.mediaErr != nil {
		return nil, f.mediaErr
	}
	if f.failURL != "" && req.MediaURL == f.failURL {
		return nil, errors.New("gateway returned status 502")
	}
	return &transport.DeliveryReceipt{ExternalID: "ext-m", Timestamp: time.Now()}, nil
}

func (f *fakeTransport) mediaCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mediaCalls)
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

type fixture struct {
	tickets   *fakeTickets
	messages  *fakeMessages
	gate      *fakeGate
	transport *fakeTransport
	pub       *recordingPublisher
	orch      *Orchestrator

	tenantID uuid.UUID
	actorID  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		tickets:   &fakeTickets{},
		messages:  &fakeMessages{},
		gate:      &fakeGate{allow: true},
		transport: &fakeTransport{},
		pub:       &recordingPublisher{},
		tenantID:  uuid.New(),
		actorID:   uuid.New(),
	}
	fx.orch = NewOrchestrator(fx.tickets, fx.messages, fx.gate, fx.transport, fx.pub, zap.NewNop())
	return fx
}

func (fx *fixture) connectedTicket() *models.Ticket {
	contactID := uuid.New()
	return &models.Ticket{
		ID:        7,
		TenantID:  fx.tenantID,
		Status:    models.StatusOpen,
		UserID:    &fx.actorID,
		ContactID: contactID,
		Contact:   &models.Contact{ID: contactID, Number: "5511999999999"},
		Channel:   &models.Channel{ID: uuid.New(), Status: models.ChannelConnected},
	}
}

func (fx *fixture) send(t *testing.T, req SendRequest) (*SendResult, error) {
	t.Helper()
	req.TenantID = fx.tenantID
	if req.ActorID == uuid.Nil {
		req.ActorID = fx.actorID
	}
	req.TicketID = 7
	return fx.orch.Send(context.Background(), req)
}

func TestSendText(t *testing.T) {
	fx := newFixture(t)
	fx.tickets.ticket = fx.connectedTicket()

	result, err := fx.send(t, SendRequest{Body: "hello there"})
	require.NoError(t, err)
	require.False(t, result.ChannelDown)

	require.Len(t, fx.transport.textCalls, 1)
	assert.Equal(t, "5511999999999", fx.transport.textCalls[0].Number)
	assert.Equal(t, "hello there", fx.transport.textCalls[0].Body)

	require.Len(t, result.Messages, 1)
	assert.True(t, result.Messages[0].FromMe)
	assert.Equal(t, "hello there", result.Messages[0].Body)
	require.NotNil(t, result.Messages[0].SentAt)

	// The sender has read their own outbound message.
	assert.Equal(t, 1, fx.tickets.resetCalls)
	assert.Equal(t, []bool{true}, fx.tickets.fromMeCalls)

	// Previous last message was inbound, so no retraction — just the update.
	require.Len(t, fx.pub.events, 1)
	assert.Equal(t, events.ActionUpdate, fx.pub.events[0].ev.Action)
	assert.Contains(t, fx.pub.events[0].topics, events.TenantTopic(fx.tenantID))
	assert.Contains(t, fx.pub.events[0].topics, events.StatusTopic(models.StatusOpen))
	assert.Contains(t, fx.pub.events[0].topics, events.NotificationTopic)
	assert.Contains(t, fx.pub.events[0].topics, events.TicketDetailTopic(7))
}

// When the previous last message was already outbound, the stale list
// preview is retracted first, then the update goes out.
func TestSendRetractsStalePreview(t *testing.T) {
	fx := newFixture(t)
	tk := fx.connectedTicket()
	tk.LastMessageFromMe = true
	fx.tickets.ticket = tk

	_, err := fx.send(t, SendRequest{Body: "again"})
	require.NoError(t, err)

	require.Len(t, fx.pub.events, 2)
	assert.Equal(t, events.ActionDeleteLastMessage, fx.pub.events[0].ev.Action)
	assert.Equal(t, int64(7), fx.pub.events[0].ev.TicketID)
	assert.Equal(t, []string{events.TenantTopic(fx.tenantID)}, fx.pub.events[0].topics)
	assert.Equal(t, events.ActionUpdate, fx.pub.events[1].ev.Action)
}

func TestSendTicketNotFound(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.send(t, SendRequest{Body: "hello"})
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	assert.Empty(t, fx.transport.textCalls)
}

func TestSendOwnership(t *testing.T) {
	t.Run("other agent's ticket without capability", func(t *testing.T) {
		fx := newFixture(t)
		other := uuid.New()
		tk := fx.connectedTicket()
		tk.UserID = &other
		fx.tickets.ticket = tk
		fx.gate.allow = false

		_, err := fx.send(t, SendRequest{Body: "hello"})
		assert.True(t, apperr.Is(err, apperr.CodeOwnershipConflict))
		assert.Empty(t, fx.transport.textCalls)
		assert.Empty(t, fx.pub.events)
	})

	t.Run("unclaimed ticket needs no capability", func(t *testing.T) {
		fx := newFixture(t)
		tk := fx.connectedTicket()
		tk.UserID = nil
		fx.tickets.ticket = tk
		fx.gate.allow = false

		_, err := fx.send(t, SendRequest{Body: "hello"})
		require.NoError(t, err)
		assert.Len(t, fx.transport.textCalls, 1)
	})

	t.Run("capability overrides ownership", func(t *testing.T) {
		fx := newFixture(t)
		other := uuid.New()
		tk := fx.connectedTicket()
		tk.UserID = &other
		fx.tickets.ticket = tk
		fx.gate.allow = true

		_, err := fx.send(t, SendRequest{Body: "hello"})
		require.NoError(t, err)
	})
}

// A dead channel is a soft outcome, not an error: nothing is sent, nothing
// is persisted, nothing is broadcast, and the caller gets the contact ID to
// surface in the success envelope.
func TestSendChannelDown(t *testing.T) {
	for _, tc := range []struct {
		name  string
		mould func(tk *models.Ticket)
	}{
		{"disconnected", func(tk *models.Ticket) { tk.Channel.Status = models.ChannelDisconnected }},
		{"qr code pending", func(tk *models.Ticket) { tk.Channel.Status = models.ChannelQRCode }},
		{"soft deleted", func(tk *models.Ticket) { tk.Channel.Deleted = true }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t)
			tk := fx.connectedTicket()
			tc.mould(tk)
			fx.tickets.ticket = tk

			result, err := fx.send(t, SendRequest{Body: "hello"})
			require.NoError(t, err)
			assert.True(t, result.ChannelDown)
			assert.Equal(t, tk.ContactID, result.ContactID)

			assert.Empty(t, fx.transport.textCalls)
			assert.Zero(t, fx.messages.createdCount())
			assert.Zero(t, fx.tickets.resetCalls)
			assert.Empty(t, fx.pub.events)
		})
	}
}

func TestSendTransportFailure(t *testing.T) {
	fx := newFixture(t)
	fx.tickets.ticket = fx.connectedTicket()
	fx.transport.textErr = errors.New("gateway returned status 500")

	_, err := fx.send(t, SendRequest{Body: "hello"})
	assert.True(t, apperr.Is(err, apperr.CodeTransport))
	assert.Zero(t, fx.messages.createdCount())
	assert.Zero(t, fx.tickets.resetCalls)
}

func TestSendMedia(t *testing.T) {
	media := []Media{
		{URL: "https://files.example/a.pdf", Name: "a.pdf", Type: "document"},
		{URL: "https://files.example/b.jpg", Name: "b.jpg", Type: "image", Caption: "the photo"},
		{URL: "https://files.example/c.ogg", Name: "c.ogg", Type: "audio"},
	}

	t.Run("all attachments delivered", func(t *testing.T) {
		fx := newFixture(t)
		fx.tickets.ticket = fx.connectedTicket()

		result, err := fx.send(t, SendRequest{Media: media})
		require.NoError(t, err)
		assert.Equal(t, 3, fx.transport.mediaCount())
		assert.Len(t, result.Messages, 3)
		for _, e := range result.MediaErrors {
			assert.NoError(t, e)
		}
		assert.Equal(t, 3, fx.messages.createdCount())
	})

	t.Run("caption falls back to filename", func(t *testing.T) {
		fx := newFixture(t)
		fx.tickets.ticket = fx.connectedTicket()

		_, err := fx.send(t, SendRequest{Media: media[:1]})
		require.NoError(t, err)
		require.Len(t, fx.transport.mediaCalls, 1)
		assert.Equal(t, "a.pdf", fx.transport.mediaCalls[0].Caption)
	})

	t.Run("one failure does not roll back siblings", func(t *testing.T) {
		fx := newFixture(t)
		fx.tickets.ticket = fx.connectedTicket()
		fx.transport.failURL = media[1].URL

		result, err := fx.send(t, SendRequest{Media: media})
		require.NoError(t, err)

		assert.Len(t, result.Messages, 2)
		require.Len(t, result.MediaErrors, 3)
		assert.NoError(t, result.MediaErrors[0])
		assert.True(t, apperr.Is(result.MediaErrors[1], apperr.CodeTransport))
		assert.NoError(t, result.MediaErrors[2])

		// Partial success still updates read state and broadcasts.
		assert.Equal(t, 1, fx.tickets.resetCalls)
		assert.NotEmpty(t, fx.pub.events)
	})

	t.Run("total failure is a hard error", func(t *testing.T) {
		fx := newFixture(t)
		fx.tickets.ticket = fx.connectedTicket()
		fx.transport.mediaErr = errors.New("gateway unreachable")

		_, err := fx.send(t, SendRequest{Media: media})
		assert.True(t, apperr.Is(err, apperr.CodeTransport))
		assert.Zero(t, fx.messages.createdCount())
		assert.Zero(t, fx.tickets.resetCalls)
		assert.Empty(t, fx.pub.events)
	})
}

func TestResend(t *testing.T) {
	t.Run("missing message", func(t *testing.T) {
		fx := newFixture(t)

		err := fx.orch.Resend(context.Background(), fx.tenantID, fx.actorID, 99)
		assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	})

	t.Run("text message goes back out", func(t *testing.T) {
		fx := newFixture(t)
		fx.tickets.ticket = fx.connectedTicket()
		fx.messages.byID = &models.Message{ID: 3, TicketID: 7, Body: "resend me", FromMe: true}

		err := fx.orch.Resend(context.Background(), fx.tenantID, fx.actorID, 3)
		require.NoError(t, err)
		require.Len(t, fx.transport.textCalls, 1)
		assert.Equal(t, "resend me", fx.transport.textCalls[0].Body)
		assert.Equal(t, 1, fx.messages.createdCount())
	})

	t.Run("media message reuses the stored reference", func(t *testing.T) {
		fx := newFixture(t)
		fx.tickets.ticket = fx.connectedTicket()
		fx.messages.byID = &models.Message{
			ID: 3, TicketID: 7, Body: "the photo",
			MediaURL: "https://files.example/b.jpg", MediaType: "image",
		}

		err := fx.orch.Resend(context.Background(), fx.tenantID, fx.actorID, 3)
		require.NoError(t, err)
		require.Len(t, fx.transport.mediaCalls, 1)
		assert.Equal(t, "https://files.example/b.jpg", fx.transport.mediaCalls[0].MediaURL)
		assert.Empty(t, fx.transport.textCalls)
	})

	t.Run("no channel-health short circuit", func(t *testing.T) {
		fx := newFixture(t)
		tk := fx.connectedTicket()
		tk.Channel.Status = models.ChannelDisconnected
		fx.tickets.ticket = tk
		fx.messages.byID = &models.Message{ID: 3, TicketID: 7, Body: "try anyway"}

		// The attempt reaches the transport; a dead channel surfaces as the
		// transport's own failure, not as the soft envelope.
		err := fx.orch.Resend(context.Background(), fx.tenantID, fx.actorID, 3)
		require.NoError(t, err)
		assert.Len(t, fx.transport.textCalls, 1)
	})
}

func TestRemove(t *testing.T) {
	t.Run("missing message", func(t *testing.T) {
		fx := newFixture(t)

		_, err := fx.orch.Remove(context.Background(), fx.tenantID, 99)
		assert.True(t, apperr.Is(err, apperr.CodeNotFound))
		assert.Empty(t, fx.pub.events)
	})

	t.Run("tombstone is broadcast to viewers", func(t *testing.T) {
		fx := newFixture(t)
		fx.messages.removed = &models.Message{ID: 3, TicketID: 7, Removed: true}

		msg, err := fx.orch.Remove(context.Background(), fx.tenantID, 3)
		require.NoError(t, err)
		assert.True(t, msg.Removed)

		require.Len(t, fx.pub.events, 1)
		ev := fx.pub.events[0]
		assert.Equal(t, events.ActionUpdate, ev.ev.Action)
		assert.Equal(t, msg, ev.ev.Message)
		assert.Contains(t, ev.topics, events.TicketDetailTopic(7))
		assert.Contains(t, ev.topics, events.TenantTopic(fx.tenantID))
	})
}
