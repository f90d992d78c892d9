package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"kassa/internal/models"
)

// CreateOrder - POST /api/orders
// Создать заказ и зарезервировать билеты
func (h *Handlers) CreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), identity(c), &req)
	if err != nil {
		handleServiceError(c, err, "Failed to create order")
		return
	}

	c.JSON(http.StatusCreated, models.CreateOrderResponse{
		ID:          order.ID,
		TotalAmount: order.TotalAmount,
		Currency:    order.Currency,
		ExpiresAt:   order.ExpiresAt,
	})
}

// ListOrders - GET /api/orders
// Получить список заказов текущего покупателя
func (h *Handlers) ListOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	response, err := h.orders.ListOrders(c.Request.Context(), identity(c), limit)
	if err != nil {
		handleServiceError(c, err, "Failed to list orders")
		return
	}

	c.JSON(http.StatusOK, response)
}

// GetOrder - GET /api/orders/:id
func (h *Handlers) GetOrder(c *gin.Context) {
	response, err := h.orders.GetOrder(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		handleServiceError(c, err, "Failed to get order")
		return
	}

	c.JSON(http.StatusOK, response)
}

// CancelOrder - PATCH /api/orders/:id/cancel
// Отменить заказ и вернуть билеты в продажу
func (h *Handlers) CancelOrder(c *gin.Context) {
	if err := h.orders.CancelOrder(c.Request.Context(), identity(c), c.Param("id")); err != nil {
		handleServiceError(c, err, "Failed to cancel order")
		return
	}

	c.Status(http.StatusOK)
}

// InitiatePayment - PATCH /api/orders/:id/initiatePayment
// Инициировать платеж и перенаправить на платежный шлюз
func (h *Handlers) InitiatePayment(c *gin.Context) {
	paymentURL, err := h.orders.InitiatePayment(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		handleServiceError(c, err, "Failed to initiate payment")
		return
	}

	c.Header("Location", paymentURL)
	c.Status(http.StatusFound)
}
