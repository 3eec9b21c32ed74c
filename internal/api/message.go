package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/otaviofarias/ticketstream/internal/dispatch"
	"github.com/otaviofarias/ticketstream/internal/middleware"
	"github.com/otaviofarias/ticketstream/internal/models"
	"github.com/otaviofarias/ticketstream/internal/repository"
	"github.com/otaviofarias/ticketstream/internal/ticket"
	"go.uber.org/zap"
)

// messagePageSize is the fixed page size of the per-ticket message listing.
const messagePageSize = 20

type MessageHandler struct {
	messages repository.MessageRepository
	tickets  repository.TicketRepository
	svc      *ticket.Service
	orch     *dispatch.Orchestrator
	logger   *zap.Logger
}

func NewMessageHandler(
	messages repository.MessageRepository,
	tickets repository.TicketRepository,
	svc *ticket.Service,
	orch *dispatch.Orchestrator,
	logger *zap.Logger,
) *MessageHandler {
	return &MessageHandler{
		messages: messages,
		tickets:  tickets,
		svc:      svc,
		orch:     orch,
		logger:   logger,
	}
}

type listMessagesResponse struct {
	Count    int              `json:"count"`
	Messages []models.Message `json:"messages"`
	Ticket   *models.Ticket   `json:"ticket"`
	HasMore  bool             `json:"has_more"`
}

// List handles GET /v1/messages/:ticketId?pageNumber=
//
// Side effect: viewing an open ticket you own marks it read.
func (h *MessageHandler) List(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	actorID := middleware.GetUserID(c)

	ticketID, err := strconv.ParseInt(c.Param("ticketId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return
	}

	page := 1
	if p := c.Query("pageNumber"); p != "" {
		page, err = strconv.Atoi(p)
		if err != nil || page < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'pageNumber' parameter"})
			return
		}
	}

	t, err := h.tickets.GetByID(c.Request.Context(), tenantID, ticketID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if t == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
		return
	}

	messages, count, err := h.messages.ListByTicket(c.Request.Context(), tenantID, ticketID, page, messagePageSize)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	// MarkRead is a no-op unless the viewer owns the open ticket; errors
	// here are logged, not surfaced — the listing already succeeded.
	if err := h.svc.MarkRead(c.Request.Context(), t, actorID); err != nil {
		h.logger.Warn("mark read failed", zap.Int64("ticket_id", ticketID), zap.Error(err))
	}

	offset := messagePageSize * (page - 1)
	c.JSON(http.StatusOK, listMessagesResponse{
		Count:    count,
		Messages: messages,
		Ticket:   t,
		HasMore:  count > offset+len(messages),
	})
}

type sendMediaRequest struct {
	URL     string `json:"url" binding:"required"`
	Name    string `json:"name" binding:"required"`
	Type    string `json:"type"`
	Caption string `json:"caption"`
}

type sendMessageRequest struct {
	Body        string             `json:"body"`
	Media       []sendMediaRequest `json:"media"`
	QuotedMsgID *int64             `json:"quoted_msg_id"`
}

// Send handles POST /v1/messages/:ticketId.
//
// Success is an empty 200. A disconnected channel is ALSO a 200 — with
// {err:true, errorMsg:"ChannelDisconnected", contactId} — so the client can
// react in place instead of hitting an error boundary.
func (h *MessageHandler) Send(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	actorID := middleware.GetUserID(c)

	ticketID, err := strconv.ParseInt(c.Param("ticketId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Body == "" && len(req.Media) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message body or media required"})
		return
	}

	media := make([]dispatch.Media, 0, len(req.Media))
	for _, m := range req.Media {
		media = append(media, dispatch.Media{
			URL:     m.URL,
			Name:    m.Name,
			Type:    m.Type,
			Caption: m.Caption,
		})
	}

	result, err := h.orch.Send(c.Request.Context(), dispatch.SendRequest{
		TenantID:    tenantID,
		ActorID:     actorID,
		TicketID:    ticketID,
		Body:        req.Body,
		Media:       media,
		QuotedMsgID: req.QuotedMsgID,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if result.ChannelDown {
		c.JSON(http.StatusOK, gin.H{
			"err":       true,
			"errorMsg":  "ChannelDisconnected",
			"contactId": result.ContactID,
		})
		return
	}

	c.Status(http.StatusOK)
}

type resendRequest struct {
	MessageID int64 `json:"message_id" binding:"required"`
}

// Resend handles POST /v1/messages/resend: re-dispatch a stored message.
func (h *MessageHandler) Resend(c *gin.Context) {
	var req resendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.orch.Resend(c.Request.Context(), middleware.GetTenantID(c), middleware.GetUserID(c), req.MessageID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, "OK")
}

// Remove handles DELETE /v1/messages/:messageId: tombstone, keep the row.
func (h *MessageHandler) Remove(c *gin.Context) {
	messageID, err := strconv.ParseInt(c.Param("messageId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	if _, err := h.orch.Remove(c.Request.Context(), middleware.GetTenantID(c), messageID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, "OK")
}
