package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"kassa/internal/models"
)

// CreateEvent - POST /api/events
// Создать событие вместе с типами билетов
func (h *Handlers) CreateEvent(c *gin.Context) {
	var req models.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	response, err := h.events.Create(c.Request.Context(), &req)
	if err != nil {
		handleServiceError(c, err, "Failed to create event")
		return
	}

	c.JSON(http.StatusCreated, response)
}

// UpdateEventStatus - PATCH /api/events/:id/status
// Открыть или закрыть продажи
func (h *Handlers) UpdateEventStatus(c *gin.Context) {
	var req models.UpdateEventStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.events.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		handleServiceError(c, err, "Failed to update event status")
		return
	}

	c.Status(http.StatusOK)
}

// ListEvents - GET /api/events
// Получить список событий
func (h *Handlers) ListEvents(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		badRequest(c, "page must be >= 1")
		return
	}

	pageSize, err := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	if err != nil || pageSize < 1 || pageSize > 100 {
		badRequest(c, "pageSize must be between 1 and 100")
		return
	}

	filter := models.EventFilter{
		Query:  c.Query("query"),
		Status: models.EventStatus(c.Query("status")),
		Page:   page,
		Size:   pageSize,
	}

	if date := c.Query("date"); date != "" {
		d, err := time.Parse("2006-01-02", date)
		if err != nil {
			badRequest(c, "date must be in YYYY-MM-DD format")
			return
		}
		filter.Date = &d
	}

	response, err := h.events.List(c.Request.Context(), filter)
	if err != nil {
		handleServiceError(c, err, "Failed to list events")
		return
	}

	c.JSON(http.StatusOK, response)
}

// GetEvent - GET /api/events/:id
// Событие с типами билетов и текущими остатками
func (h *Handlers) GetEvent(c *gin.Context) {
	response, err := h.events.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleServiceError(c, err, "Failed to get event")
		return
	}

	c.JSON(http.StatusOK, response)
}

// GetAnalytics - GET /api/events/:id/analytics
// Получить аналитику продаж для события
func (h *Handlers) GetAnalytics(c *gin.Context) {
	analytics, err := h.events.Analytics(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleServiceError(c, err, "Failed to get analytics")
		return
	}

	c.JSON(http.StatusOK, analytics)
}
