package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/otaviofarias/ticketstream/internal/apperr"
	"github.com/otaviofarias/ticketstream/internal/middleware"
	"github.com/otaviofarias/ticketstream/internal/repository"
	"go.uber.org/zap"
)

type UserHandler struct {
	users    repository.UserRepository
	validate *validator.Validate
	logger   *zap.Logger
}

func NewUserHandler(users repository.UserRepository, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		users:    users,
		validate: validator.New(),
		logger:   logger,
	}
}

// updateUserRequest uses pointer fields: nil means "leave unchanged", which
// is distinct from an explicit empty value.
type updateUserRequest struct {
	Email      *string     `json:"email"`
	Name       *string     `json:"name"`
	ProfileID  *uuid.UUID  `json:"profile_id"`
	QueueIDs   []uuid.UUID `json:"queue_ids"`
	TenantID   *uuid.UUID  `json:"tenant_id"`
	SuperAdmin *bool       `json:"super_admin"`
}

type updateUserPayload struct {
	Email string `validate:"omitempty,email"`
	Name  string `validate:"omitempty,min=2"`
}

// Update handles PUT /v1/users/:userId.
//
// Only a super admin may move a user across tenants or grant super admin;
// for everyone else those fields are silently pinned to the caller's tenant,
// mirroring how the profile surface behaves for regular admins.
func (h *UserHandler) Update(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)

	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !middleware.IsSuperAdmin(c) {
		req.TenantID = nil
		req.SuperAdmin = nil
	}

	payload := updateUserPayload{}
	if req.Email != nil {
		payload.Email = *req.Email
	}
	if req.Name != nil {
		payload.Name = *req.Name
	}
	if err := h.validate.Struct(payload); err != nil {
		// The validation message is the error surface here, same as every
		// other malformed-payload failure.
		respondError(c, h.logger, apperr.Wrap(apperr.CodeValidation, err.Error(), err))
		return
	}

	user, err := h.users.GetByID(c.Request.Context(), tenantID, userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.ProfileID != nil {
		user.ProfileID = *req.ProfileID
	}
	if req.QueueIDs != nil {
		user.QueueIDs = req.QueueIDs
	}
	if req.TenantID != nil {
		user.TenantID = *req.TenantID
	}
	if req.SuperAdmin != nil {
		user.SuperAdmin = *req.SuperAdmin
	}

	updated, err := h.users.Update(c.Request.Context(), user)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if updated == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, updated)
}
