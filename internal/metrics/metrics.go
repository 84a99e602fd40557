// Package metrics provides Prometheus instrumentation for the dishpay back office.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dishpay",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dishpay",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// OrdersCreditedTotal counts completed orders credited to cook wallets.
	OrdersCreditedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dishpay",
		Name:      "orders_credited_total",
		Help:      "Total completed orders split and credited.",
	})

	// DeductionsSettledCents counts cents recovered through the debt queue.
	DeductionsSettledCents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dishpay",
		Name:      "deductions_settled_cents_total",
		Help:      "Total cents recovered from cook credits by the deduction queue.",
	})

	// ClearancesTotal counts clearance record transitions by outcome.
	ClearancesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dishpay",
			Name:      "clearances_total",
			Help:      "Total clearance transitions by outcome (cleared, cancelled, paused, resumed, flagged).",
		},
		[]string{"outcome"},
	)

	// WithdrawalsTotal counts withdrawal requests by terminal result.
	WithdrawalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dishpay",
			Name:      "withdrawals_total",
			Help:      "Total withdrawal requests by result (submitted, rejected, completed, failed, pending_verification).",
		},
		[]string{"result"},
	)

	// TransferCallsTotal counts calls to the mobile-money gateway by outcome.
	TransferCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dishpay",
			Name:      "transfer_calls_total",
			Help:      "Total external transfer API calls by outcome (success, timeout, error).",
		},
		[]string{"outcome"},
	)

	// SweepDuration observes periodic sweep run time by sweep name.
	SweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dishpay",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of periodic sweeps in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"sweep"},
	)

	// ManualPayoutTasksTotal counts escalations created for failed transfers.
	ManualPayoutTasksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dishpay",
		Name:      "manual_payout_tasks_total",
		Help:      "Total manual payout escalation tasks created.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dishpay", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dishpay", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dishpay", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		OrdersCreditedTotal,
		DeductionsSettledCents,
		ClearancesTotal,
		WithdrawalsTotal,
		TransferCallsTotal,
		SweepDuration,
		ManualPayoutTasksTotal,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
