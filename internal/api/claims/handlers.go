// Package claims implements the admin-claim HTTP endpoints: opening claims on
// orphaned families, endorsing them, processing transitions, and the public
// email verification page.
package claims

import (
	"errors"
	"fmt"
	"html"
	"net/http"

	"github.com/gin-gonic/gin"

	claimsvc "github.com/heirloom-app/heirloom/internal/claims"
	"github.com/heirloom-app/heirloom/internal/config"
	"github.com/heirloom-app/heirloom/internal/db/models"
	"github.com/heirloom-app/heirloom/internal/middleware"
)

// ClaimHandlers handles the admin-claim workflow endpoints
type ClaimHandlers struct {
	cfg     *config.Config
	service *claimsvc.Service
}

// NewClaimHandlers creates a new ClaimHandlers instance
func NewClaimHandlers(cfg *config.Config, service *claimsvc.Service) *ClaimHandlers {
	return &ClaimHandlers{cfg: cfg, service: service}
}

// writeClaimError maps workflow errors onto HTTP statuses. Unknown errors
// become opaque 500s so internal details never leak to clients.
func writeClaimError(c *gin.Context, err error) {
	var dup *claimsvc.DuplicateClaimError
	if errors.As(err, &dup) {
		c.JSON(http.StatusConflict, gin.H{
			"error":             "An active claim already exists for this family",
			"existing_claim_id": dup.ExistingClaimID,
		})
		return
	}

	switch {
	case errors.Is(err, claimsvc.ErrFamilyNotFound),
		errors.Is(err, claimsvc.ErrClaimNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, claimsvc.ErrNotFamilyMember),
		errors.Is(err, claimsvc.ErrSelfEndorsement):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, claimsvc.ErrFamilyNotOrphaned):
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
	case errors.Is(err, claimsvc.ErrClaimNotPending),
		errors.Is(err, claimsvc.ErrClaimNotApproved),
		errors.Is(err, claimsvc.ErrClaimTerminal),
		errors.Is(err, claimsvc.ErrCoolingOffActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, claimsvc.ErrInvalidEndorsementType),
		errors.Is(err, claimsvc.ErrOwnerEmailRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, claimsvc.ErrTokenInvalid):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, claimsvc.ErrTokenExpired):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

type createClaimRequest struct {
	ClaimType          string  `json:"claim_type" binding:"required"`
	Reason             *string `json:"reason"`
	OriginalOwnerEmail *string `json:"original_owner_email"`
}

// @Summary      Open admin claim
// @Description  Open a claim on an orphaned family. Endorsement claims are decided by member votes; email-challenge claims send a verification link to the original owner's address.
// @Tags         Claims
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string              true  "Family ID"
// @Param        body  body  createClaimRequest  true  "Claim details"
// @Success      201  {object}  map[string]interface{}  "claim: models.AdminClaim"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      403  {object}  map[string]interface{}  "Not an active member"
// @Failure      409  {object}  map[string]interface{}  "Active claim already exists (existing_claim_id)"
// @Failure      412  {object}  map[string]interface{}  "Family still has an admin"
// @Router       /api/v1/families/{id}/claims [post]
// CreateClaimHandler opens a claim
// POST /api/v1/families/:id/claims
func (h *ClaimHandlers) CreateClaimHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createClaimRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		if req.ClaimType != models.ClaimTypeEndorsement && req.ClaimType != models.ClaimTypeEmailChallenge {
			c.JSON(http.StatusBadRequest, gin.H{"error": "claim_type must be endorsement or email_challenge"})
			return
		}

		claimantName := ""
		if u, ok := c.Get("user"); ok {
			if user, ok := u.(*models.User); ok {
				claimantName = user.Name
			}
		}

		claim, err := h.service.Create(c.Request.Context(), claimsvc.CreateInput{
			FamilyID:           c.Param("id"),
			ClaimantID:         middleware.GetUserID(c),
			ClaimantName:       claimantName,
			ClaimType:          req.ClaimType,
			Reason:             req.Reason,
			OriginalOwnerEmail: req.OriginalOwnerEmail,
		})
		if err != nil {
			writeClaimError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"claim": claim})
	}
}

// @Summary      Get claim
// @Description  Retrieve a claim. Restricted to members of the claim's family.
// @Tags         Claims
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Claim ID"
// @Success      200  {object}  map[string]interface{}  "claim: models.AdminClaim"
// @Failure      403  {object}  map[string]interface{}  "Not a family member"
// @Failure      404  {object}  map[string]interface{}  "Claim not found"
// @Router       /api/v1/claims/{id} [get]
// GetClaimHandler retrieves a claim
// GET /api/v1/claims/:id
func (h *ClaimHandlers) GetClaimHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claim, err := h.service.GetClaim(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
		if err != nil {
			writeClaimError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"claim": claim})
	}
}

// @Summary      List family claims
// @Description  List all claims ever opened on a family, newest first. Restricted to members.
// @Tags         Claims
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Family ID"
// @Success      200  {object}  map[string]interface{}  "claims: []models.AdminClaim"
// @Failure      403  {object}  map[string]interface{}  "Not a family member"
// @Router       /api/v1/families/{id}/claims [get]
// ListFamilyClaimsHandler lists a family's claims
// GET /api/v1/families/:id/claims
func (h *ClaimHandlers) ListFamilyClaimsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := h.service.ListFamilyClaims(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
		if err != nil {
			writeClaimError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"claims": list})
	}
}

type endorseRequest struct {
	EndorsementType string  `json:"endorsement_type" binding:"required"`
	Reason          *string `json:"reason"`
}

// @Summary      Endorse claim
// @Description  Record a support or oppose vote on a pending endorsement claim. Voting again replaces the earlier vote. A decisive vote transitions the claim in the same call.
// @Tags         Claims
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string          true  "Claim ID"
// @Param        body  body  endorseRequest  true  "Vote"
// @Success      201  {object}  map[string]interface{}  "endorsement, claim"
// @Failure      400  {object}  map[string]interface{}  "Invalid endorsement type"
// @Failure      403  {object}  map[string]interface{}  "Self-endorsement or non-member"
// @Failure      409  {object}  map[string]interface{}  "Claim is not pending"
// @Router       /api/v1/claims/{id}/endorsements [post]
// EndorseHandler records a vote
// POST /api/v1/claims/:id/endorsements
func (h *ClaimHandlers) EndorseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req endorseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		endorsement, claim, err := h.service.Endorse(
			c.Request.Context(), c.Param("id"), middleware.GetUserID(c), req.EndorsementType, req.Reason)
		if err != nil {
			writeClaimError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"endorsement": endorsement, "claim": claim})
	}
}

// @Summary      List endorsements
// @Description  List the votes recorded on a claim. Restricted to family members.
// @Tags         Claims
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Claim ID"
// @Success      200  {object}  map[string]interface{}  "endorsements: []models.Endorsement"
// @Failure      403  {object}  map[string]interface{}  "Not a family member"
// @Router       /api/v1/claims/{id}/endorsements [get]
// ListEndorsementsHandler lists a claim's votes
// GET /api/v1/claims/:id/endorsements
func (h *ClaimHandlers) ListEndorsementsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := h.service.ListEndorsements(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
		if err != nil {
			writeClaimError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"endorsements": list})
	}
}

type processRequest struct {
	Action     string `json:"action" binding:"required"`
	EmailToken string `json:"email_token"`
}

// @Summary      Process claim
// @Description  Drive a claim forward. action=process re-evaluates deadlines and votes; action=grant_admin executes the final promotion after the cooling-off period; action=verify_email consumes an emailed token belonging to this claim.
// @Tags         Claims
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string          true  "Claim ID"
// @Param        body  body  processRequest  true  "Action"
// @Success      200  {object}  map[string]interface{}  "claim: models.AdminClaim"
// @Failure      400  {object}  map[string]interface{}  "Unknown action"
// @Failure      409  {object}  map[string]interface{}  "Claim not ready for this action"
// @Failure      410  {object}  map[string]interface{}  "Verification token expired"
// @Router       /api/v1/claims/{id}/process [post]
// ProcessClaimHandler drives claim transitions
// POST /api/v1/claims/:id/process
func (h *ClaimHandlers) ProcessClaimHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req processRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		claimID := c.Param("id")
		viewerID := middleware.GetUserID(c)

		// Membership check up front so processing never leaks claim state to
		// outsiders.
		if _, err := h.service.GetClaim(c.Request.Context(), claimID, viewerID); err != nil {
			writeClaimError(c, err)
			return
		}

		var (
			claim *models.AdminClaim
			err   error
		)
		switch req.Action {
		case "process":
			claim, err = h.service.Process(c.Request.Context(), claimID)
		case "grant_admin":
			claim, err = h.service.Grant(c.Request.Context(), claimID)
		case "verify_email":
			claim, err = h.service.VerifyEmailForClaim(c.Request.Context(), claimID, req.EmailToken)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unknown action: %s", req.Action)})
			return
		}
		if err != nil {
			writeClaimError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"claim": claim})
	}
}

// @Summary      Verify email challenge
// @Description  Public landing page for the verification link emailed to the original owner. Consumes the token and shows the outcome.
// @Tags         Claims
// @Produce      html
// @Param        token  query  string  true  "Verification token"
// @Success      200  {string}  string  "Confirmation page"
// @Router       /claims/verify [get]
// VerifyEmailPageHandler renders the public verification landing page
// GET /claims/verify?token=...
func (h *ClaimHandlers) VerifyEmailPageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")

		claim, err := h.service.VerifyEmail(c.Request.Context(), token)
		switch {
		case err == nil:
			renderVerifyPage(c, http.StatusOK, "Request confirmed",
				fmt.Sprintf("Thank you. The admin request is confirmed and will take effect after a waiting period. Its current status is %q.", claim.Status))
		case errors.Is(err, claimsvc.ErrTokenExpired):
			renderVerifyPage(c, http.StatusGone, "Link expired",
				"This confirmation link has expired. The requester can open a new request, which will send a fresh link.")
		case errors.Is(err, claimsvc.ErrTokenInvalid), errors.Is(err, claimsvc.ErrClaimNotPending):
			renderVerifyPage(c, http.StatusNotFound, "Link not recognised",
				"This confirmation link is not valid. It may have already been used.")
		default:
			renderVerifyPage(c, http.StatusInternalServerError, "Something went wrong",
				"We could not process this confirmation right now. Please try the link again later.")
		}
	}
}

func renderVerifyPage(c *gin.Context, status int, title, message string) {
	page := fmt.Sprintf(`<!DOCTYPE html>
<html>
	<head>
		<title>%s</title>
		<meta charset="utf-8"/>
		<meta name="viewport" content="width=device-width, initial-scale=1">
	</head>
	<body style="font-family: sans-serif; max-width: 36em; margin: 4em auto; padding: 0 1em;">
		<h1>%s</h1>
		<p>%s</p>
	</body>
</html>`, html.EscapeString(title), html.EscapeString(title), html.EscapeString(message))

	c.Data(status, "text/html; charset=utf-8", []byte(page))
}
