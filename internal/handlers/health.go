package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheck - GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "kassa-api"})
		return
	}

	check := h.health.HealthCheck(c.Request.Context())
	status := http.StatusOK
	if check.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":   check.Status,
		"service":  "kassa-api",
		"database": check,
	})
}
