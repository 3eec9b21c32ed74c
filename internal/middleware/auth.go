package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/otaviofarias/ticketstream/internal/auth"
)

// Context keys for claims stored in gin.Context. Constants so a typo fails at
// compile time in handlers instead of silently reading nil.
const (
	ContextKeyUserID     = "user_id"
	ContextKeyTenantID   = "tenant_id"
	ContextKeyProfileID  = "profile_id"
	ContextKeySuperAdmin = "super_admin"
)

// AuthMiddleware validates the bearer token and stores its claims in the
// request context. Runs before every protected handler; an invalid token
// aborts the chain with 401 and the handler never executes.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		claims, err := auth.ValidateToken(parts[1], jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyTenantID, claims.TenantID)
		c.Set(ContextKeyProfileID, claims.ProfileID)
		c.Set(ContextKeySuperAdmin, claims.SuperAdmin)

		c.Next()
	}
}

// GetUserID returns the acting user's ID from the request context.
// Only meaningful after AuthMiddleware has run.
func GetUserID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(ContextKeyUserID); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

// GetTenantID returns the acting tenant's ID from the request context.
func GetTenantID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(ContextKeyTenantID); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

// IsSuperAdmin reports whether the acting user carries the super-admin flag.
func IsSuperAdmin(c *gin.Context) bool {
	if v, ok := c.Get(ContextKeySuperAdmin); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}
