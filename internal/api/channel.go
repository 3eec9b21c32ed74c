package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/otaviofarias/ticketstream/internal/middleware"
	"github.com/otaviofarias/ticketstream/internal/repository"
	"go.uber.org/zap"
)

type ChannelHandler struct {
	channels repository.ChannelRepository
	logger   *zap.Logger
}

func NewChannelHandler(channels repository.ChannelRepository, logger *zap.Logger) *ChannelHandler {
	return &ChannelHandler{channels: channels, logger: logger}
}

// List handles GET /v1/channels: the tenant's connections with their queues,
// soft-deleted ones excluded.
func (h *ChannelHandler) List(c *gin.Context) {
	channels, err := h.channels.ListByTenant(c.Request.Context(), middleware.GetTenantID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, channels)
}
