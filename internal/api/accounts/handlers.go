// Package accounts implements the registration, login, profile, and
// notification endpoints.
package accounts

import (
	"database/sql"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/heirloom-app/heirloom/internal/auth"
	"github.com/heirloom-app/heirloom/internal/config"
	"github.com/heirloom-app/heirloom/internal/db/repositories"
	"github.com/heirloom-app/heirloom/internal/middleware"
)

// tokenLifetime is how long issued JWTs stay valid
const tokenLifetime = 24 * time.Hour

// AccountHandlers handles registration, login, and profile endpoints
type AccountHandlers struct {
	cfg       *config.Config
	userRepo  *repositories.UserRepository
	notifRepo *repositories.NotificationRepository
}

// NewAccountHandlers creates a new AccountHandlers instance
func NewAccountHandlers(cfg *config.Config, db *sql.DB, sqlxDB *sqlx.DB) *AccountHandlers {
	return &AccountHandlers{
		cfg:       cfg,
		userRepo:  repositories.NewUserRepository(db),
		notifRepo: repositories.NewNotificationRepository(sqlxDB),
	}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// @Summary      Register
// @Description  Create a new account and return a session token.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body  registerRequest  true  "Account details"
// @Success      201  {object}  map[string]interface{}  "user: models.User, token: JWT"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      409  {object}  map[string]interface{}  "Email already registered"
// @Router       /api/v1/auth/register [post]
// RegisterHandler creates an account
// POST /api/v1/auth/register
func (h *AccountHandlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		email := strings.ToLower(strings.TrimSpace(req.Email))

		existing, err := h.userRepo.GetByEmail(c.Request.Context(), email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check email"})
			return
		}
		if existing != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user, err := h.userRepo.Create(c.Request.Context(), email, req.Name, hash)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
			return
		}

		token, err := auth.GenerateJWT(user.ID, user.Email, tokenLifetime)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"user": user, "token": token})
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// @Summary      Login
// @Description  Exchange email and password for a session token.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body  loginRequest  true  "Credentials"
// @Success      200  {object}  map[string]interface{}  "user: models.User, token: JWT"
// @Failure      401  {object}  map[string]interface{}  "Invalid credentials"
// @Router       /api/v1/auth/login [post]
// LoginHandler authenticates an account
// POST /api/v1/auth/login
func (h *AccountHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		email := strings.ToLower(strings.TrimSpace(req.Email))

		user, err := h.userRepo.GetByEmail(c.Request.Context(), email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up account"})
			return
		}
		// Same response for unknown email and wrong password
		if user == nil || !auth.CheckPassword(req.Password, user.PasswordHash) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		}

		token, err := auth.GenerateJWT(user.ID, user.Email, tokenLifetime)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"user": user, "token": token})
	}
}

// @Summary      Current user
// @Description  Return the authenticated account.
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "user: models.User"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/v1/users/me [get]
// MeHandler returns the authenticated user
// GET /api/v1/users/me
func (h *AccountHandlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, exists := c.Get("user")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

type updateMeRequest struct {
	Name string `json:"name" binding:"required"`
}

// @Summary      Update profile
// @Description  Update the authenticated account's display name.
// @Tags         Users
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  updateMeRequest  true  "New name"
// @Success      200  {object}  map[string]interface{}  "user: models.User"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Router       /api/v1/users/me [put]
// UpdateMeHandler renames the authenticated user
// PUT /api/v1/users/me
func (h *AccountHandlers) UpdateMeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateMeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		userID := middleware.GetUserID(c)
		if err := h.userRepo.UpdateName(c.Request.Context(), userID, req.Name); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update profile"})
			return
		}

		user, err := h.userRepo.GetByID(c.Request.Context(), userID)
		if err != nil || user == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reload profile"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// @Summary      List notifications
// @Description  List the authenticated user's notifications, newest first.
// @Tags         Notifications
// @Security     Bearer
// @Produce      json
// @Param        unread  query  bool  false  "Only unread notifications"
// @Param        limit   query  int   false  "Max results (default 50, max 200)"
// @Success      200  {object}  map[string]interface{}  "notifications: []models.Notification"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/v1/notifications [get]
// ListNotificationsHandler lists the caller's notifications
// GET /api/v1/notifications?unread=true&limit=50
func (h *AccountHandlers) ListNotificationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		unreadOnly := c.Query("unread") == "true"
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if limit < 1 || limit > 200 {
			limit = 50
		}

		notifications, err := h.notifRepo.ListByRecipient(c.Request.Context(), middleware.GetUserID(c), unreadOnly, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list notifications"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"notifications": notifications})
	}
}

// @Summary      Mark notification read
// @Description  Mark one of the caller's notifications as read.
// @Tags         Notifications
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Notification ID"
// @Success      200  {object}  map[string]interface{}  "status: read"
// @Failure      404  {object}  map[string]interface{}  "Notification not found"
// @Router       /api/v1/notifications/{id}/read [post]
// MarkNotificationReadHandler marks a notification read
// POST /api/v1/notifications/:id/read
func (h *AccountHandlers) MarkNotificationReadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := h.notifRepo.MarkRead(c.Request.Context(), id, middleware.GetUserID(c)); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unread notification not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "read"})
	}
}
