package http

import (
	"net/http"
	"strings"

	"heartlink/internal/core/domain"
	"heartlink/internal/core/ports"
	"heartlink/internal/core/services"
	"heartlink/pkg/errors"
	"heartlink/pkg/validation"

	"github.com/gin-gonic/gin"
)

// AuthHandler mints access tokens for known directory users. Credential
// checks live in the account service upstream; this endpoint trusts the
// gateway and only binds an identity to a signed token.
type AuthHandler struct {
	authService services.AuthService
	directory   ports.UserDirectory
	tokenTTL    int
}

func NewAuthHandler(authService services.AuthService, directory ports.UserDirectory, tokenTTLSeconds int) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		directory:   directory,
		tokenTTL:    tokenTTLSeconds,
	}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/token", h.Token)
	}
}

type TokenRequest struct {
	UserID string `json:"user_id" binding:"required,max=64"`
}

func (h *AuthHandler) Token(c *gin.Context) {
	var req TokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	trimmed := strings.TrimSpace(req.UserID)
	if err := validation.ValidateUserID(trimmed); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	userID := domain.UserID(trimmed)
	user, err := h.directory.GetByID(c.Request.Context(), userID)
	if err != nil {
		c.Error(errors.NewNotFoundError("user"))
		return
	}

	token, err := h.authService.GenerateToken(user.ID, user.Username)
	if err != nil {
		c.Error(errors.NewInternalError("failed to generate token"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":      user.ID,
		"username":     user.Username,
		"access_token": token,
		"expires_in":   h.tokenTTL,
	})
}
