package http

import (
	"net/http"
	"strings"
	"time"

	"quickchat/internal/core/domain"
	"quickchat/internal/core/services"
	"quickchat/pkg/errors"
	"quickchat/pkg/validation"

	"github.com/gin-gonic/gin"
)

// AuthHandler issues the tokens clients present to the signaling relay and
// the REST API. Credential verification lives in the main chat backend; this
// endpoint trusts the user id it is given and exists for deployments where
// the relay runs standalone.
type AuthHandler struct {
	authService services.AuthService
	tokenTTL    time.Duration
}

func NewAuthHandler(authService services.AuthService, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		tokenTTL:    tokenTTL,
	}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/token", h.IssueToken)
	}
}

type TokenRequest struct {
	UserID string `json:"user_id" binding:"required,min=1,max=64"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
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

	token, err := h.authService.GenerateToken(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":      userID,
		"access_token": token,
		"expires_in":   int(h.tokenTTL / time.Second),
	})
}
