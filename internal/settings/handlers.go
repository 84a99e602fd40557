package settings

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dishpay/dishpay/internal/money"
)

// Handler provides HTTP endpoints for platform settings administration.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new settings handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes sets up settings routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:tenant/settings", h.Get)
	r.PUT("/tenants/:tenant/settings", h.Update)
	r.PUT("/tenants/:tenant/cooks/:cook/commission-rate", h.UpdateCookRate)
}

// Get handles GET /tenants/:tenant/settings
func (h *Handler) Get(c *gin.Context) {
	t, err := h.service.Tenant(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": t})
}

type updateRequest struct {
	CommissionPercent int         `json:"commissionPercent"`
	HoldHours         int         `json:"holdHours"`
	MinWithdrawal     money.Cents `json:"minWithdrawal"`
	DailyLimit        money.Cents `json:"dailyLimit"`
}

// Update handles PUT /tenants/:tenant/settings. Changes apply to new
// records only; snapshotted rates and holds are untouched.
func (h *Handler) Update(c *gin.Context) {
	var body updateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if body.CommissionPercent < 0 || body.CommissionPercent > 100 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_commission_percent"})
		return
	}
	if body.HoldHours < 0 || body.MinWithdrawal < 0 || body.DailyLimit < body.MinWithdrawal {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_limits"})
		return
	}

	t := &TenantSettings{
		TenantID:          c.Param("tenant"),
		CommissionPercent: body.CommissionPercent,
		HoldHours:         body.HoldHours,
		MinWithdrawal:     body.MinWithdrawal,
		DailyLimit:        body.DailyLimit,
	}
	if err := h.service.UpdateTenant(c.Request.Context(), t); err != nil {
		h.logger.Error("tenant settings update failed", "tenant", t.TenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": t})
}

type cookRateRequest struct {
	CommissionPercent int `json:"commissionPercent"`
}

// UpdateCookRate handles PUT /tenants/:tenant/cooks/:cook/commission-rate
func (h *Handler) UpdateCookRate(c *gin.Context) {
	var body cookRateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if body.CommissionPercent < 0 || body.CommissionPercent > 100 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_commission_percent"})
		return
	}

	tenant, cook := c.Param("tenant"), c.Param("cook")
	if err := h.service.UpdateCookRate(c.Request.Context(), tenant, cook, body.CommissionPercent); err != nil {
		h.logger.Error("cook rate update failed", "tenant", tenant, "cook", cook, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenantId": tenant, "cookId": cook, "commissionPercent": body.CommissionPercent})
}
