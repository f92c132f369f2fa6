package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileCustodyDrift = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrowd",
		Subsystem: "reconciliation",
		Name:      "custody_drift",
		Help:      "Ledger custody minus active escrow total from the last run. Zero means conserved.",
	})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "escrowd",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "escrowd",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation check errors.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileCustodyDrift,
		reconcileDuration,
		reconcileErrors,
	)
}
