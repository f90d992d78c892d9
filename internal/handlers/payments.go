package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	errs "kassa/internal/errors"
	"kassa/internal/external"
	"kassa/internal/logger"
)

const maxNotificationBytes = 64 << 10

// OnPaymentUpdates - POST /api/payments/notifications
// Принимать уведомления от платежного шлюза. Подпись проверяется по сырому телу.
func (h *Handlers) OnPaymentUpdates(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxNotificationBytes)
	body, err := c.GetRawData()
	if err != nil {
		badRequest(c, "failed to read notification body")
		return
	}

	result, err := h.payments.HandleNotification(c.Request.Context(), body, c.GetHeader(external.SignatureHeader))
	// the provider expects 400 for a rejected signature
	if errs.Is(err, errs.Unauthenticated) {
		logger.WithContext(c.Request.Context()).Warn("Rejected payment notification", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": errs.Message(err), "code": "invalid_signature"})
		return
	}
	if err != nil {
		handleServiceError(c, err, "Failed to handle notification")
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListAnomalies - GET /api/admin/anomalies
// Платежи, требующие ручной сверки
func (h *Handlers) ListAnomalies(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	anomalies, err := h.payments.ListAnomalies(c.Request.Context(), limit)
	if err != nil {
		handleServiceError(c, err, "Failed to list anomalies")
		return
	}

	c.JSON(http.StatusOK, anomalies)
}
