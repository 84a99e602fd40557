package blockgate

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dishpay/dishpay/internal/clearance"
)

// Handler provides HTTP endpoints for complaint events and block queries.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new block gate handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes sets up complaint event and block query routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/internal/complaints/filed", h.ComplaintFiled)
	r.POST("/internal/complaints/resolved", h.ComplaintResolved)
	r.GET("/tenants/:tenant/blocked", h.BlockedTotal)
	r.GET("/tenants/:tenant/orders/:order/block", h.BlockingRecord)
}

// ComplaintFiled handles POST /internal/complaints/filed
func (h *Handler) ComplaintFiled(c *gin.Context) {
	var ev FiledEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	if err := h.service.OnComplaintFiled(c.Request.Context(), ev); err != nil {
		h.logger.Error("complaint filed event failed", "complaint", ev.ComplaintID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "block_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

// ComplaintResolved handles POST /internal/complaints/resolved
func (h *Handler) ComplaintResolved(c *gin.Context) {
	var ev ResolvedEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	err := h.service.OnComplaintResolved(c.Request.Context(), ev)
	switch {
	case errors.Is(err, ErrComplaintNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "complaint_not_found"})
	case errors.Is(err, ErrUnknownResolution):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_resolution"})
	case err != nil:
		h.logger.Error("complaint resolved event failed", "complaint", ev.ComplaintID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unblock_error"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "processed"})
	}
}

// BlockedTotal handles GET /tenants/:tenant/blocked
func (h *Handler) BlockedTotal(c *gin.Context) {
	total, err := h.service.BlockedTotal(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "blocked_total_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": total})
}

// BlockingRecord handles GET /tenants/:tenant/orders/:order/block
func (h *Handler) BlockingRecord(c *gin.Context) {
	r, err := h.service.BlockingRecord(c.Request.Context(), c.Param("tenant"), c.Param("order"))
	if errors.Is(err, clearance.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_block"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "block_query_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": r})
}
