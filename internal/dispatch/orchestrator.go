// Package dispatch is the outbound-message orchestrator: it validates
// channel health and sender authorization, chooses the text or media
// delivery path, maintains the ticket's read state, and broadcasts the
// result.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/otaviofarias/ticketstream/internal/apperr"
	"github.com/otaviofarias/ticketstream/internal/events"
	"github.com/otaviofarias/ticketstream/internal/models"
	"github.com/otaviofarias/ticketstream/internal/permission"
	"github.com/otaviofarias/ticketstream/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TicketStore is the slice of the ticket repository the orchestrator needs.
type TicketStore interface {
	GetByID(ctx context.Context, tenantID uuid.UUID, ticketID int64) (*models.Ticket, error)
	ResetUnread(ctx context.Context, tenantID uuid.UUID, ticketID int64) error
	SetLastMessageFromMe(ctx context.Context, tenantID uuid.UUID, ticketID int64, fromMe bool) error
}

// MessageStore is the slice of the message repository the orchestrator needs.
type MessageStore interface {
	Create(ctx context.Context, msg *models.Message) (*models.Message, error)
	GetByID(ctx context.Context, tenantID uuid.UUID, messageID int64) (*models.Message, error)
	Remove(ctx context.Context, tenantID uuid.UUID, messageID int64) (*models.Message, error)
}

// CapabilityGate answers capability checks; satisfied by *permission.Gate.
type CapabilityGate interface {
	HasCapability(ctx context.Context, actorID, tenantID uuid.UUID, capability string) (bool, error)
}

// Media is one attachment in a send request. Files are already stored; the
// orchestrator only carries references.
type Media struct {
	URL     string
	Name    string
	Type    string
	Caption string
}

// SendRequest is one outbound send: body text, attachments, or both.
type SendRequest struct {
	TenantID    uuid.UUID
	ActorID     uuid.UUID
	TicketID    int64
	Body        string
	Media       []Media
	QuotedMsgID *int64
}

// SendResult reports the outcome. ChannelDown is the soft-failure path: the
// channel was disconnected or deleted, nothing was persisted, and the caller
// surfaces ContactID inside the success envelope. MediaErrors holds
// per-attachment transport failures; attachments are independent, so some
// entries may be nil while others carry errors.
type SendResult struct {
	ChannelDown bool
	ContactID   uuid.UUID
	Messages    []models.Message
	MediaErrors []error
}

type Orchestrator struct {
	tickets   TicketStore
	messages  MessageStore
	gate      CapabilityGate
	transport transport.Transport
	fanout    events.Publisher
	logger    *zap.Logger
}

func NewOrchestrator(
	tickets TicketStore,
	messages MessageStore,
	gate CapabilityGate,
	tp transport.Transport,
	fanout events.Publisher,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		tickets:   tickets,
		messages:  messages,
		gate:      gate,
		transport: tp,
		fanout:    fanout,
		logger:    logger,
	}
}

// Send runs the dispatch pipeline. Each step is a hard precondition for the
// next; the channel-health check is the one soft exit.
func (o *Orchestrator) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	t, err := o.resolveForSend(ctx, req.TenantID, req.ActorID, req.TicketID)
	if err != nil {
		return nil, err
	}

	// Channel health. Not an error: the UI needs to react to a dead channel
	// without an error page, so this rides the success envelope.
	if t.Channel == nil || t.Channel.Status != models.ChannelConnected || t.Channel.Deleted {
		return &SendResult{ChannelDown: true, ContactID: t.ContactID}, nil
	}

	result := &SendResult{ContactID: t.ContactID}

	if len(req.Media) > 0 {
		if err := o.sendMedia(ctx, t, req, result); err != nil {
			return nil, err
		}
	} else {
		msg, err := o.sendText(ctx, t, req.Body, req.QuotedMsgID)
		if err != nil {
			return nil, err
		}
		result.Messages = append(result.Messages, *msg)
	}

	if err := o.postSend(ctx, t); err != nil {
		return nil, err
	}
	return result, nil
}

// resolveForSend covers dispatch preconditions 1 and 2: the ticket exists in
// this tenant, and the actor is allowed to speak on it.
func (o *Orchestrator) resolveForSend(ctx context.Context, tenantID, actorID uuid.UUID, ticketID int64) (*models.Ticket, error) {
	t, err := o.tickets.GetByID(ctx, tenantID, ticketID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, apperr.New(apperr.CodeNotFound, "ticket not found")
	}

	allowed, err := o.gate.HasCapability(ctx, actorID, tenantID, permission.CapSendMessage)
	if err != nil {
		return nil, err
	}
	if !allowed && t.UserID != nil && *t.UserID != actorID {
		return nil, apperr.New(apperr.CodeOwnershipConflict, "ticket accepted by another user")
	}
	return t, nil
}

// sendMedia dispatches each attachment as an independent send: all attempts
// run concurrently, the group waits for every one of them, and a failed
// attachment never rolls back its siblings.
func (o *Orchestrator) sendMedia(ctx context.Context, t *models.Ticket, req SendRequest, result *SendResult) error {
	var (
		g       errgroup.Group
		mu      sync.Mutex
		failed  int
		errs    = make([]error, len(req.Media))
		lastErr error
	)

	for i, media := range req.Media {
		g.Go(func() error {
			body := media.Caption
			if body == "" {
				// No caption: the original filename becomes the body.
				body = media.Name
			}

			receipt, err := o.transport.SendMedia(ctx, transport.MediaSend{
				TicketID:  t.ID,
				ChannelID: t.ChannelID,
				Number:    t.Contact.Number,
				MediaURL:  media.URL,
				MediaType: media.Type,
				Caption:   body,
			})
			if err != nil {
				o.logger.Warn("media send failed",
					zap.Int64("ticket_id", t.ID),
					zap.String("media", media.Name),
					zap.Error(err),
				)
				mu.Lock()
				errs[i] = apperr.Wrap(apperr.CodeTransport, "media delivery failed", err)
				failed++
				lastErr = errs[i]
				mu.Unlock()
				return nil
			}

			msg, err := o.persistOutbound(ctx, t, body, media.URL, media.Type, nil, receipt)
			if err != nil {
				mu.Lock()
				errs[i] = err
				failed++
				lastErr = err
				mu.Unlock()
				return nil
			}

			mu.Lock()
			result.Messages = append(result.Messages, *msg)
			mu.Unlock()
			return nil
		})
	}

	// Group functions swallow their own errors into errs, so Wait is purely
	// the fan-in barrier here.
	_ = g.Wait()

	result.MediaErrors = errs
	if failed == len(req.Media) {
		// Nothing went out at all; that is a hard failure, not partial
		// success.
		return lastErr
	}
	return nil
}

func (o *Orchestrator) sendText(ctx context.Context, t *models.Ticket, body string, quotedMsgID *int64) (*models.Message, error) {
	receipt, err := o.transport.SendText(ctx, transport.TextSend{
		TicketID:  t.ID,
		ChannelID: t.ChannelID,
		Number:    t.Contact.Number,
		Body:      body,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeTransport, "text delivery failed", err)
	}
	return o.persistOutbound(ctx, t, body, "", "", quotedMsgID, receipt)
}

func (o *Orchestrator) persistOutbound(ctx context.Context, t *models.Ticket, body, mediaURL, mediaType string, quotedMsgID *int64, receipt *transport.DeliveryReceipt) (*models.Message, error) {
	sentAt := receipt.Timestamp
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	return o.messages.Create(ctx, &models.Message{
		TenantID:    t.TenantID,
		TicketID:    t.ID,
		ContactID:   t.ContactID,
		Body:        body,
		FromMe:      true,
		MediaURL:    mediaURL,
		MediaType:   mediaType,
		QuotedMsgID: quotedMsgID,
		SentAt:      &sentAt,
	})
}

// postSend is step 5 and 6: the sender has implicitly read their own
// outbound message, the preview flag flips, and the mutation is broadcast.
// The retraction event, when due, goes out strictly before the update —
// both ride the same ordered fan-out queue.
func (o *Orchestrator) postSend(ctx context.Context, t *models.Ticket) error {
	if err := o.tickets.ResetUnread(ctx, t.TenantID, t.ID); err != nil {
		return err
	}
	if err := o.tickets.SetLastMessageFromMe(ctx, t.TenantID, t.ID, true); err != nil {
		return err
	}

	prevFromMe := t.LastMessageFromMe
	t.UnreadMessages = 0
	t.LastMessageFromMe = true

	if prevFromMe {
		o.fanout.Publish(
			[]string{events.TenantTopic(t.TenantID)},
			events.Event{Action: events.ActionDeleteLastMessage, TicketID: t.ID},
		)
	}
	o.fanout.Publish(
		[]string{
			events.TenantTopic(t.TenantID),
			events.StatusTopic(t.Status),
			events.NotificationTopic,
			events.TicketDetailTopic(t.ID),
		},
		events.Event{Action: events.ActionUpdate, Ticket: t},
	)
	return nil
}

// Resend re-dispatches an existing message's stored body or media reference
// as a fresh outbound send. Same resolution and authorization as Send, but
// no channel-health short-circuit: the attempt goes to the transport and a
// dead channel surfaces as the transport's own failure.
func (o *Orchestrator) Resend(ctx context.Context, tenantID, actorID uuid.UUID, messageID int64) error {
	msg, err := o.messages.GetByID(ctx, tenantID, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return apperr.New(apperr.CodeNotFound, "message not found")
	}

	t, err := o.resolveForSend(ctx, tenantID, actorID, msg.TicketID)
	if err != nil {
		return err
	}

	if msg.MediaURL != "" {
		receipt, err := o.transport.SendMedia(ctx, transport.MediaSend{
			TicketID:  t.ID,
			ChannelID: t.ChannelID,
			Number:    t.Contact.Number,
			MediaURL:  msg.MediaURL,
			MediaType: msg.MediaType,
			Caption:   msg.Body,
		})
		if err != nil {
			return apperr.Wrap(apperr.CodeTransport, "media delivery failed", err)
		}
		if _, err := o.persistOutbound(ctx, t, msg.Body, msg.MediaURL, msg.MediaType, nil, receipt); err != nil {
			return err
		}
	} else {
		if _, err := o.sendText(ctx, t, msg.Body, nil); err != nil {
			return err
		}
	}

	return o.postSend(ctx, t)
}

// Remove tombstones a message and broadcasts the updated (now empty) record
// to the ticket's viewers. Read state and ticket status are untouched.
func (o *Orchestrator) Remove(ctx context.Context, tenantID uuid.UUID, messageID int64) (*models.Message, error) {
	msg, err := o.messages.Remove(ctx, tenantID, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, apperr.New(apperr.CodeNotFound, "message not found")
	}

	o.fanout.Publish(
		[]string{
			events.TicketDetailTopic(msg.TicketID),
			events.TenantTopic(tenantID),
		},
		events.Event{Action: events.ActionUpdate, Message: msg},
	)
	return msg, nil
}
