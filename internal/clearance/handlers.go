package clearance

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for clearance records and sweeps.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new clearance handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes sets up clearance routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:tenant/orders/:order/clearance", h.GetByOrder)
	r.POST("/internal/sweeps/clearance", h.RunSweep)
}

// GetByOrder handles GET /tenants/:tenant/orders/:order/clearance
func (h *Handler) GetByOrder(c *gin.Context) {
	rec, err := h.service.GetByOrder(c.Request.Context(), c.Param("tenant"), c.Param("order"))
	if errors.Is(err, ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "clearance_not_found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "clearance_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"clearance": rec})
}

// RunSweep handles POST /internal/sweeps/clearance
func (h *Handler) RunSweep(c *gin.Context) {
	n, err := h.service.ProcessEligible(c.Request.Context())
	if err != nil {
		h.logger.Error("clearance sweep failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}
