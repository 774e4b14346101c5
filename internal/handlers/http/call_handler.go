package http

import (
	"net/http"
	"strconv"

	"quickchat/internal/core/domain"
	"quickchat/internal/core/ports"
	"quickchat/internal/core/services"

	"github.com/gin-gonic/gin"
)

// CallHandler serves call history, presence and capability lookups.
type CallHandler struct {
	history    *services.HistoryService
	presence   ports.PresenceRepository
	capability *services.CapabilityService
}

func NewCallHandler(
	history *services.HistoryService,
	presence ports.PresenceRepository,
	capability *services.CapabilityService,
) *CallHandler {
	return &CallHandler{
		history:    history,
		presence:   presence,
		capability: capability,
	}
}

func (h *CallHandler) SetupRoutes(router *gin.Engine, authRequired gin.HandlerFunc) {
	api := router.Group("/api/v1")
	{
		api.GET("/capabilities", h.GetCapabilities)

		protected := api.Group("")
		protected.Use(authRequired)
		{
			protected.GET("/calls/history", h.GetHistory)
			protected.GET("/calls/history/:user", h.GetHistoryByUser)
			protected.GET("/presence", h.GetOnlineUsers)
			protected.GET("/presence/:user", h.GetUserPresence)
		}
	}
}

// GetCapabilities classifies the caller's user agent and returns the derived
// fallback policy, letting thin clients skip local detection.
func (h *CallHandler) GetCapabilities(c *gin.Context) {
	profile := h.capability.Detect(c.Request.UserAgent())
	c.JSON(http.StatusOK, gin.H{
		"browser":       profile.Browser,
		"version":       profile.Version,
		"major_version": profile.MajorVersion,
		"mobile":        profile.Mobile,
		"webrtc":        profile.WebRTC,
		"policy":        profile.Policy,
	})
}

func (h *CallHandler) GetHistory(c *gin.Context) {
	limit := parseLimit(c.Query("limit"))

	records, err := h.history.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
	})
}

func (h *CallHandler) GetHistoryByUser(c *gin.Context) {
	user := domain.UserID(c.Param("user"))
	limit := parseLimit(c.Query("limit"))

	records, err := h.history.ListByUser(c.Request.Context(), user, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
	})
}

func (h *CallHandler) GetOnlineUsers(c *gin.Context) {
	users, err := h.presence.ListOnline(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"users": users,
		"count": len(users),
	})
}

func (h *CallHandler) GetUserPresence(c *gin.Context) {
	user := domain.UserID(c.Param("user"))

	online, err := h.presence.IsOnline(c.Request.Context(), user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":   user,
		"online": online,
	})
}

func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
