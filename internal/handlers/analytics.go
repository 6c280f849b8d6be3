package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/emilythestrangee/forum/backend/internal/analytics"
)

type AnalyticsHandler struct {
	service *analytics.Service
}

// GetOverview returns forum activity aggregates (admin only)
func (h *AnalyticsHandler) GetOverview(c *gin.Context) {
	if h.service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Analytics are not available"})
		return
	}
	days, _ := strconv.Atoi(c.Query("days"))

	overview, err := h.service.Overview(c.Request.Context(), analytics.ClampDays(days))
	if err != nil {
		serverError(c, "Failed to compute analytics", err)
		return
	}
	c.JSON(http.StatusOK, overview)
}
