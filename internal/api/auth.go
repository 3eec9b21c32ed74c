package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/otaviofarias/ticketstream/internal/auth"
	"github.com/otaviofarias/ticketstream/internal/models"
	"github.com/otaviofarias/ticketstream/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AuthHandler serves signup and login — the only public endpoints. They
// don't go through the auth middleware because they're what produces the
// token in the first place.
type AuthHandler struct {
	userRepo   repository.UserRepository
	tenantRepo repository.TenantRepository
	jwtSecret  string
	logger     *zap.Logger
}

func NewAuthHandler(
	userRepo repository.UserRepository,
	tenantRepo repository.TenantRepository,
	jwtSecret string,
	logger *zap.Logger,
) *AuthHandler {
	return &AuthHandler{
		userRepo:   userRepo,
		tenantRepo: tenantRepo,
		jwtSecret:  jwtSecret,
		logger:     logger,
	}
}

type signupRequest struct {
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required,min=8"`
	Name       string `json:"name" binding:"required"`
	TenantName string `json:"tenant_name" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type authResponse struct {
	Token string `json:"token"`
}

// Signup handles POST /v1/auth/signup: new workspace, first agent. The
// tenant bootstrap grants the admin profile, so the first user can see and
// send on everything.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	existing, err := h.userRepo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		h.logger.Error("failed to check existing user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("failed to hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		return
	}

	tenant, adminProfileID, err := h.tenantRepo.Create(c.Request.Context(), req.TenantName)
	if err != nil {
		h.logger.Error("failed to create tenant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		return
	}

	user, err := h.userRepo.Create(c.Request.Context(), &models.User{
		TenantID:     tenant.ID,
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: string(hash),
		ProfileID:    adminProfileID,
	})
	if err != nil {
		h.logger.Error("failed to create user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		return
	}

	token, err := auth.GenerateToken(user.ID, tenant.ID, user.ProfileID, user.SuperAdmin, h.jwtSecret, 24*time.Hour)
	if err != nil {
		h.logger.Error("failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		return
	}

	c.JSON(http.StatusCreated, authResponse{Token: token})
}

// Login handles POST /v1/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.userRepo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		h.logger.Error("failed to find user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	// One generic message for both unknown email and wrong password, so the
	// endpoint doesn't leak which emails are registered.
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}

	token, err := auth.GenerateToken(user.ID, user.TenantID, user.ProfileID, user.SuperAdmin, h.jwtSecret, 24*time.Hour)
	if err != nil {
		h.logger.Error("failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	c.JSON(http.StatusOK, authResponse{Token: token})
}
