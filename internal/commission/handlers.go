package commission

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides the order-completion webhook endpoint.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new commission handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes sets up order event routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/internal/orders/completed", h.OrderCompleted)
}

// OrderCompleted handles POST /internal/orders/completed
func (h *Handler) OrderCompleted(c *gin.Context) {
	var ev OrderCompletedEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	split, err := h.service.OnOrderCompleted(c.Request.Context(), ev)
	if errors.Is(err, ErrInvalidOrder) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_order", "message": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("order completion failed", "order", ev.OrderID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credit_error"})
		return
	}

	status := http.StatusCreated
	if split.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"split": split})
}
