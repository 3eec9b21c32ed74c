package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/otaviofarias/ticketstream/internal/middleware"
	"github.com/otaviofarias/ticketstream/internal/models"
	"github.com/otaviofarias/ticketstream/internal/permission"
	"github.com/otaviofarias/ticketstream/internal/repository"
	"github.com/otaviofarias/ticketstream/internal/ticket"
	"go.uber.org/zap"
)

type TicketHandler struct {
	tickets repository.TicketRepository
	users   repository.UserRepository
	gate    *permission.Gate
	svc     *ticket.Service
	logger  *zap.Logger
}

func NewTicketHandler(
	tickets repository.TicketRepository,
	users repository.UserRepository,
	gate *permission.Gate,
	svc *ticket.Service,
	logger *zap.Logger,
) *TicketHandler {
	return &TicketHandler{
		tickets: tickets,
		users:   users,
		gate:    gate,
		svc:     svc,
		logger:  logger,
	}
}

type listTicketsResponse struct {
	Tickets []models.Ticket `json:"tickets"`
	Count   int             `json:"count"`
	HasMore bool            `json:"has_more"`
}

// List handles GET /v1/tickets.
//
// Query params: queueIds (repeated or comma-separated, "NO_QUEUE" allowed),
// status, date (YYYY-MM-DD), showAll, searchParam, pageNumber, categoryId,
// withUnreadMessages, pendingAnswer, isTask, taskFilter, searchTask.
func (h *TicketHandler) List(c *gin.Context) {
	actorID := middleware.GetUserID(c)
	tenantID := middleware.GetTenantID(c)

	queues, err := ticket.ParseQueueSelector(splitMulti(c.QueryArray("queueIds")))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	flt := ticket.ListFilter{
		TenantID:          tenantID,
		ActorID:           actorID,
		Queues:            queues,
		Status:            c.Query("status"),
		SearchText:        c.Query("searchParam"),
		ShowAll:           c.Query("showAll") == "true",
		UnreadOnly:        c.Query("withUnreadMessages") == "true",
		PendingAnswerOnly: c.Query("pendingAnswer") == "true",
		IsTask:            c.Query("isTask") == "true",
		TaskFilter:        c.Query("taskFilter"),
		SearchTask:        c.Query("searchTask"),
		Page:              1,
	}

	if p := c.Query("pageNumber"); p != "" {
		page, err := strconv.Atoi(p)
		if err != nil || page < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'pageNumber' parameter"})
			return
		}
		flt.Page = page
	}

	if raw := c.Query("categoryId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'categoryId' parameter"})
			return
		}
		flt.CategoryID = &id
	}

	if raw := c.Query("date"); raw != "" {
		day, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'date' parameter"})
			return
		}
		flt.Date = &day
	}

	// The show-all permission is resolved here, once, and handed to the
	// builder as a fact — the builder never does I/O.
	granted, err := h.gate.HasCapability(c.Request.Context(), actorID, tenantID, permission.CapShowAllTickets)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	flt.ShowAllGranted = granted

	if flt.UnreadOnly {
		// The unread-only predicate swaps in the actor's own queues.
		user, err := h.users.GetByID(c.Request.Context(), tenantID, actorID)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		if user != nil {
			flt.ActorQueueIDs = user.QueueIDs
		}
	}

	tickets, count, err := h.tickets.List(c.Request.Context(), flt)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	offset := ticket.DefaultPageSize * (flt.Page - 1)
	c.JSON(http.StatusOK, listTicketsResponse{
		Tickets: tickets,
		Count:   count,
		HasMore: count > offset+len(tickets),
	})
}

// Show handles GET /v1/tickets/:ticketId.
func (h *TicketHandler) Show(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	ticketID, err := strconv.ParseInt(c.Param("ticketId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return
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
	c.JSON(http.StatusOK, t)
}

type createTicketRequest struct {
	ContactID uuid.UUID  `json:"contact_id" binding:"required"`
	ChannelID uuid.UUID  `json:"channel_id" binding:"required"`
	QueueID   *uuid.UUID `json:"queue_id"`
}

// Create handles POST /v1/tickets: manual ticket creation, always pending.
func (h *TicketHandler) Create(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := h.svc.CreatePending(c.Request.Context(), &models.Ticket{
		TenantID:  middleware.GetTenantID(c),
		ContactID: req.ContactID,
		ChannelID: req.ChannelID,
		QueueID:   req.QueueID,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

type updateTicketRequest struct {
	Status string     `json:"status" binding:"required,oneof=pending open closed"`
	UserID *uuid.UUID `json:"user_id"`
}

// Update handles PUT /v1/tickets/:ticketId — the state machine surface.
// open = accept (for the caller, or for user_id when given — that's a
// transfer), closed = close, pending = reopen into the unclaimed pool.
func (h *TicketHandler) Update(c *gin.Context) {
	actorID := middleware.GetUserID(c)
	tenantID := middleware.GetTenantID(c)
	ticketID, err := strconv.ParseInt(c.Param("ticketId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return
	}

	var req updateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var t *models.Ticket
	switch req.Status {
	case models.StatusOpen:
		assignee := actorID
		if req.UserID != nil {
			assignee = *req.UserID
		}
		t, err = h.svc.Accept(c.Request.Context(), tenantID, ticketID, actorID, assignee)
	case models.StatusClosed:
		t, err = h.svc.Close(c.Request.Context(), tenantID, ticketID, actorID)
	case models.StatusPending:
		t, err = h.svc.Reopen(c.Request.Context(), tenantID, ticketID)
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// splitMulti accepts both repeated params (?queueIds=a&queueIds=b) and a
// single comma-separated value (?queueIds=a,b).
func splitMulti(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
