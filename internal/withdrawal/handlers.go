package withdrawal

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dishpay/dishpay/internal/momo"
	"github.com/dishpay/dishpay/internal/money"
	"github.com/dishpay/dishpay/internal/validation"
)

// Handler provides HTTP endpoints for withdrawals and sweep triggers.
type Handler struct {
	gate     *Gate
	executor *Executor
	logger   *slog.Logger
}

// NewHandler creates a new withdrawal handler
func NewHandler(gate *Gate, executor *Executor, logger *slog.Logger) *Handler {
	return &Handler{gate: gate, executor: executor, logger: logger}
}

// RegisterRoutes sets up withdrawal routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/tenants/:tenant/cooks/:cook/withdrawals", h.Submit)
	r.GET("/tenants/:tenant/cooks/:cook/withdrawals/available", h.Available)
	r.GET("/withdrawals/:id", h.Get)
	r.GET("/tenants/:tenant/payout-tasks", h.OpenTasks)
	r.POST("/internal/sweeps/transfers", h.RunTransferSweep)
	r.POST("/internal/sweeps/verification", h.RunVerificationSweep)
}

type submitRequest struct {
	Amount   money.Cents `json:"amount" binding:"required"`
	Msisdn   string      `json:"msisdn" binding:"required"`
	Provider string      `json:"provider" binding:"required"`
}

// Submit handles POST /tenants/:tenant/cooks/:cook/withdrawals
func (h *Handler) Submit(c *gin.Context) {
	var body submitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	msisdn := validation.SanitizeMsisdn(body.Msisdn)
	if verrs := validation.Validate(
		validation.ValidMsisdn("msisdn", msisdn),
		validation.KnownProvider("provider", body.Provider),
	); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "details": verrs})
		return
	}

	req, err := h.gate.Submit(c.Request.Context(), c.Param("tenant"), c.Param("cook"),
		body.Amount, momo.Destination{Msisdn: msisdn, Provider: body.Provider})

	switch {
	case errors.Is(err, ErrBelowMinimum):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "below_minimum", "message": err.Error()})
	case errors.Is(err, ErrNotWholeUnit):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "not_whole_unit", "message": err.Error()})
	case errors.Is(err, ErrInsufficientFunds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient_funds", "message": err.Error()})
	case errors.Is(err, ErrDailyLimitExceeded):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "daily_limit_exceeded", "message": err.Error()})
	case err != nil:
		h.logger.Error("withdrawal submission failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "withdrawal_error"})
	default:
		c.JSON(http.StatusCreated, gin.H{"request": req})
	}
}

// Available handles GET /tenants/:tenant/cooks/:cook/withdrawals/available
func (h *Handler) Available(c *gin.Context) {
	avail, err := h.gate.AvailableToWithdraw(c.Request.Context(), c.Param("tenant"), c.Param("cook"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "available_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": avail})
}

// Get handles GET /withdrawals/:id
func (h *Handler) Get(c *gin.Context) {
	req, err := h.gate.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrRequestNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "request_not_found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "request_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

// OpenTasks handles GET /tenants/:tenant/payout-tasks
func (h *Handler) OpenTasks(c *gin.Context) {
	tasks, err := h.gate.OpenTasks(c.Request.Context(), c.Param("tenant"), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tasks_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// RunTransferSweep handles POST /internal/sweeps/transfers
func (h *Handler) RunTransferSweep(c *gin.Context) {
	n, err := h.executor.ProcessAllPending(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": n})
}

// RunVerificationSweep handles POST /internal/sweeps/verification
func (h *Handler) RunVerificationSweep(c *gin.Context) {
	n, err := h.executor.VerifyAllPending(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": n})
}
