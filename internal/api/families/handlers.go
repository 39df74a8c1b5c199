// Package families implements the family space and membership endpoints.
package families

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/heirloom-app/heirloom/internal/config"
	"github.com/heirloom-app/heirloom/internal/db/models"
	"github.com/heirloom-app/heirloom/internal/db/repositories"
	"github.com/heirloom-app/heirloom/internal/middleware"
)

// FamilyHandlers handles family management endpoints
type FamilyHandlers struct {
	cfg        *config.Config
	familyRepo *repositories.FamilyRepository
	userRepo   *repositories.UserRepository
}

// NewFamilyHandlers creates a new FamilyHandlers instance
func NewFamilyHandlers(cfg *config.Config, db *sql.DB) *FamilyHandlers {
	return &FamilyHandlers{
		cfg:        cfg,
		familyRepo: repositories.NewFamilyRepository(db),
		userRepo:   repositories.NewUserRepository(db),
	}
}

// requireActiveMember loads the caller's membership and aborts with 403 if the
// caller is not an active member of the family. Returns nil after aborting.
func (h *FamilyHandlers) requireActiveMember(c *gin.Context, familyID string) *models.FamilyMember {
	member, err := h.familyRepo.GetMember(c.Request.Context(), familyID, middleware.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check membership"})
		return nil
	}
	if member == nil || member.Status != models.MemberStatusActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not an active member of this family"})
		return nil
	}
	return member
}

type createFamilyRequest struct {
	Name string `json:"name" binding:"required"`
}

// @Summary      Create family
// @Description  Create a family space. The creator becomes its first admin.
// @Tags         Families
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  createFamilyRequest  true  "Family details"
// @Success      201  {object}  map[string]interface{}  "family: models.Family"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Router       /api/v1/families [post]
// CreateFamilyHandler creates a family with the caller as founding admin
// POST /api/v1/families
func (h *FamilyHandlers) CreateFamilyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createFamilyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		family, err := h.familyRepo.Create(c.Request.Context(), req.Name, middleware.GetUserID(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create family"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"family": family})
	}
}

// @Summary      List families
// @Description  List the families the caller is an active member of.
// @Tags         Families
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "families: []models.Family"
// @Router       /api/v1/families [get]
// ListFamiliesHandler lists the caller's families
// GET /api/v1/families
func (h *FamilyHandlers) ListFamiliesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		families, err := h.familyRepo.ListForUser(c.Request.Context(), middleware.GetUserID(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list families"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"families": families})
	}
}

// @Summary      Get family
// @Description  Retrieve a family, its member roster, and whether it is orphaned (has no active admin).
// @Tags         Families
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Family ID"
// @Success      200  {object}  map[string]interface{}  "family, members, orphaned"
// @Failure      403  {object}  map[string]interface{}  "Not a member"
// @Failure      404  {object}  map[string]interface{}  "Family not found"
// @Router       /api/v1/families/{id} [get]
// GetFamilyHandler retrieves a family with members and orphan status
// GET /api/v1/families/:id
func (h *FamilyHandlers) GetFamilyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		familyID := c.Param("id")

		family, err := h.familyRepo.GetByID(c.Request.Context(), familyID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve family"})
			return
		}
		if family == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Family not found"})
			return
		}

		if h.requireActiveMember(c, familyID) == nil {
			return
		}

		members, err := h.familyRepo.ListMembers(c.Request.Context(), familyID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list members"})
			return
		}

		orphaned, err := h.familyRepo.IsOrphaned(c.Request.Context(), familyID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check admin status"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"family":   family,
			"members":  members,
			"orphaned": orphaned,
		})
	}
}

type addMemberRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role"`
}

// @Summary      Add member
// @Description  Add a registered user to the family by email. Admin only.
// @Tags         Families
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string            true  "Family ID"
// @Param        body  body  addMemberRequest  true  "Member details"
// @Success      201  {object}  map[string]interface{}  "status: added"
// @Failure      403  {object}  map[string]interface{}  "Not a family admin"
// @Failure      404  {object}  map[string]interface{}  "No account with that email"
// @Router       /api/v1/families/{id}/members [post]
// AddMemberHandler adds a user to the family
// POST /api/v1/families/:id/members
func (h *FamilyHandlers) AddMemberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		familyID := c.Param("id")

		var req addMemberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}
		role := req.Role
		if role == "" {
			role = models.RoleMember
		}
		if role != models.RoleAdmin && role != models.RoleMember {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Role must be admin or member"})
			return
		}

		member := h.requireActiveMember(c, familyID)
		if member == nil {
			return
		}
		if !member.IsActiveAdmin() {
			c.JSON(http.StatusForbidden, gin.H{"error": "Only a family admin can add members"})
			return
		}

		user, err := h.userRepo.GetByEmail(c.Request.Context(), req.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up account"})
			return
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "No account with that email"})
			return
		}

		if err := h.familyRepo.AddMember(c.Request.Context(), familyID, user.ID, role); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add member"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"status": "added", "user_id": user.ID, "role": role})
	}
}

// @Summary      Remove member
// @Description  Remove a member from the family. Admins can remove anyone; members can remove themselves (leave).
// @Tags         Families
// @Security     Bearer
// @Produce      json
// @Param        id       path  string  true  "Family ID"
// @Param        user_id  path  string  true  "User ID to remove"
// @Success      200  {object}  map[string]interface{}  "status: removed"
// @Failure      403  {object}  map[string]interface{}  "Not allowed"
// @Failure      404  {object}  map[string]interface{}  "Membership not found"
// @Router       /api/v1/families/{id}/members/{user_id} [delete]
// RemoveMemberHandler removes a member (or lets a member leave)
// DELETE /api/v1/families/:id/members/:user_id
func (h *FamilyHandlers) RemoveMemberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		familyID := c.Param("id")
		targetID := c.Param("user_id")

		member := h.requireActiveMember(c, familyID)
		if member == nil {
			return
		}
		if targetID != middleware.GetUserID(c) && !member.IsActiveAdmin() {
			c.JSON(http.StatusForbidden, gin.H{"error": "Only a family admin can remove other members"})
			return
		}

		if err := h.familyRepo.RemoveMember(c.Request.Context(), familyID, targetID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Membership not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "removed"})
	}
}
