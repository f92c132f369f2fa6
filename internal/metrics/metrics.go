// Package metrics provides Prometheus instrumentation for the escrow platform.
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
			Namespace: "escrowd",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "escrowd",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EscrowsCreatedTotal counts escrows created.
	EscrowsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "escrowd",
		Name:      "escrows_created_total",
		Help:      "Total escrows created.",
	})

	// EscrowsFundedTotal counts escrows funded by the buyer.
	EscrowsFundedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "escrowd",
		Name:      "escrows_funded_total",
		Help:      "Total escrows funded.",
	})

	// EscrowsReleasedTotal counts escrows released to the seller by the buyer.
	EscrowsReleasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "escrowd",
		Name:      "escrows_released_total",
		Help:      "Total escrows released to the seller.",
	})

	// EscrowsCancelledTotal counts escrows cancelled before funding.
	EscrowsCancelledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "escrowd",
		Name:      "escrows_cancelled_total",
		Help:      "Total escrows cancelled.",
	})

	// DisputesOpenedTotal counts disputes opened.
	DisputesOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "escrowd",
		Name:      "disputes_opened_total",
		Help:      "Total disputes opened.",
	})

	// DisputesResolvedTotal counts disputes resolved by the arbiter,
	// labelled by which party won.
	DisputesResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrowd",
			Name:      "disputes_resolved_total",
			Help:      "Total disputes resolved by the arbiter.",
		},
		[]string{"winner"}, // "buyer" or "seller"
	)

	// FeesCollectedTotal accumulates platform fees in base units.
	FeesCollectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "escrowd",
		Name:      "fees_collected_base_units_total",
		Help:      "Total platform fees collected, in base units.",
	})

	// EscrowDuration observes the time from creation to completion.
	EscrowDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "escrowd",
		Name:      "escrow_duration_seconds",
		Help:      "Time from escrow creation to completion in seconds.",
		Buckets:   []float64{10, 30, 60, 120, 300, 600, 1800, 3600, 86400},
	})

	// TransferFailuresTotal counts declined ledger settlements.
	TransferFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "escrowd",
		Name:      "transfer_failures_total",
		Help:      "Total ledger transfers declined during fund/release/resolve.",
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrowd",
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected WebSocket clients.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrowd", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrowd", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrowd", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrowd", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EscrowsCreatedTotal,
		EscrowsFundedTotal,
		EscrowsReleasedTotal,
		EscrowsCancelledTotal,
		DisputesOpenedTotal,
		DisputesResolvedTotal,
		FeesCollectedTotal,
		EscrowDuration,
		TransferFailuresTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
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
			DBIdleConnections.Set(float64(stats.Idle))
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

// Handler returns the Prometheus metrics HTTP handler for the /metrics endpoint.
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
