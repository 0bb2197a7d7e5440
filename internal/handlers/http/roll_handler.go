package http

import (
	"net/http"

	"heartlink/internal/core/domain"
	"heartlink/internal/core/ports"
	"heartlink/internal/core/services"
	"heartlink/internal/infrastructure/middleware"
	"heartlink/internal/infrastructure/monitoring"
	"heartlink/pkg/errors"
	"heartlink/pkg/validation"

	"github.com/gin-gonic/gin"
)

// RollHandler exposes the speed roll coordinator over HTTP. All routes
// require a bearer token; the acting user is always taken from the token,
// never from the request body.
type RollHandler struct {
	rolls   ports.RollService
	metrics *monitoring.PrometheusCollector
}

func NewRollHandler(rolls ports.RollService, metrics *monitoring.PrometheusCollector) *RollHandler {
	return &RollHandler{
		rolls:   rolls,
		metrics: metrics,
	}
}

func (h *RollHandler) SetupRoutes(router *gin.Engine, authService services.AuthService) {
	api := router.Group("/api/v1/rolls")
	api.Use(middleware.AuthMiddleware(authService))
	{
		api.POST("", h.Issue)
		api.POST("/:id/respond", h.Respond)
		api.GET("/quota", h.Quota)
	}
}

type IssueRollRequest struct {
	TargetUserID string `json:"target_user_id" binding:"required,max=64"`
}

type RespondRollRequest struct {
	Response string `json:"response" binding:"required,oneof=accepted declined"`
}

func (h *RollHandler) Issue(c *gin.Context) {
	issuer, ok := currentUser(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}

	var req IssueRollRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidateUserID(req.TargetUserID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	roll, remaining, err := h.rolls.Issue(c.Request.Context(), issuer, domain.UserID(req.TargetUserID))
	if err != nil {
		c.Error(err)
		return
	}

	h.metrics.RollIssued()
	c.JSON(http.StatusCreated, gin.H{
		"roll":            rollResponse(roll),
		"rolls_remaining": remaining,
	})
}

func (h *RollHandler) Respond(c *gin.Context) {
	responder, ok := currentUser(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}

	rollID := c.Param("id")
	if err := validation.ValidateRollID(rollID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	var req RespondRollRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	roll, err := h.rolls.Respond(c.Request.Context(), rollID, responder, req.Response == "accepted")
	if err != nil {
		c.Error(err)
		return
	}

	h.metrics.RollOutcome(string(roll.Status))
	c.JSON(http.StatusOK, gin.H{"roll": rollResponse(roll)})
}

func (h *RollHandler) Quota(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}

	remaining, err := h.rolls.Remaining(c.Request.Context(), user)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"rolls_remaining": remaining})
}

func rollResponse(roll *domain.SpeedRoll) gin.H {
	resp := gin.H{
		"id":                  roll.ID,
		"issuer_id":           roll.IssuerID,
		"target_id":           roll.TargetID,
		"compatibility_score": roll.CompatibilityScore,
		"status":              roll.Status,
		"created_at":          roll.CreatedAt,
	}
	if roll.RespondedAt != nil {
		resp["responded_at"] = roll.RespondedAt
	}
	return resp
}

// currentUser reads the authenticated user set by the auth middleware.
func currentUser(c *gin.Context) (domain.UserID, bool) {
	val, exists := c.Get("user_id")
	if !exists {
		return "", false
	}
	userID, ok := val.(domain.UserID)
	return userID, ok && userID != ""
}
