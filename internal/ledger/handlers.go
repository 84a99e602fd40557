package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dishpay/dishpay/internal/pagination"
)

// Handler provides HTTP endpoints for wallet queries.
type Handler struct {
	ledger *Ledger
	logger *slog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(ledger *Ledger, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logger}
}

// RegisterRoutes sets up wallet query routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:tenant/cooks/:cook/balance", h.GetBalance)
	r.GET("/tenants/:tenant/cooks/:cook/ledger", h.GetHistory)
	r.GET("/tenants/:tenant/cooks/:cook/audit", h.QueryAudit)
}

// GetBalance handles GET /tenants/:tenant/cooks/:cook/balance
func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.ledger.GetBalance(c.Request.Context(), c.Param("tenant"), c.Param("cook"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "balance_error",
			"message": "Failed to retrieve balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

// GetHistory handles GET /tenants/:tenant/cooks/:cook/ledger
func (h *Handler) GetHistory(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	entries, next, hasMore, err := h.ledger.History(c.Request.Context(), c.Param("tenant"), c.Param("cook"), c.Query("cursor"), limit)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ledger_error",
			"message": "Failed to retrieve ledger history",
		})
		return
	}

	resp := gin.H{"entries": entries, "hasMore": hasMore}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// QueryAudit handles GET /tenants/:tenant/cooks/:cook/audit
func (h *Handler) QueryAudit(c *gin.Context) {
	if h.ledger.audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit_disabled"})
		return
	}
	entries, err := h.ledger.audit.QueryAudit(c.Request.Context(), c.Param("tenant"), c.Param("cook"), 100)
	if err != nil && !errors.Is(err, ErrEntryNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
