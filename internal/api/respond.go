package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/otaviofarias/ticketstream/internal/apperr"
	"go.uber.org/zap"
)

// respondError maps an error to its HTTP shape. Coded errors keep their code
// in the body so clients branch on it instead of parsing text; anything
// uncoded is an internal error and only the generic message leaves the
// process.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		c.JSON(ae.HTTPStatus(), gin.H{"error": ae.Message, "code": ae.Code})
		return
	}
	logger.Error("request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
