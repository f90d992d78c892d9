package handlers

import (
	"github.com/gin-gonic/gin"

	"kassa/internal/middleware"
	"kassa/internal/models"
)

// Register mounts all API routes. auth guards everything under /api except
// the payment provider callback, which is authenticated by its signature.
func (h *Handlers) Register(r gin.IRouter, auth gin.HandlerFunc) {
	r.GET("/health", h.HealthCheck)
	r.POST("/api/payments/notifications", h.OnPaymentUpdates)

	api := r.Group("/api", auth)
	admin := middleware.RequireRole(models.RoleAdmin)
	{
		events := api.Group("/events")
		{
			events.GET("", h.ListEvents)
			events.GET("/:id", h.GetEvent)
			events.POST("", admin, h.CreateEvent)
			events.PATCH("/:id/status", admin, h.UpdateEventStatus)
			events.GET("/:id/analytics", admin, h.GetAnalytics)
		}

		orders := api.Group("/orders")
		{
			orders.POST("", h.CreateOrder)
			orders.GET("", h.ListOrders)
			orders.GET("/:id", h.GetOrder)
			orders.PATCH("/:id/cancel", h.CancelOrder)
			orders.PATCH("/:id/initiatePayment", h.InitiatePayment)
		}

		api.GET("/admin/anomalies", admin, h.ListAnomalies)
	}
}
