package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medwatch_sync_runs_total",
		Help: "Reconciliation runs by outcome status.",
	}, []string{"status"})

	itemsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "medwatch_sync_items_created_total",
		Help: "Items created by reconciliation runs.",
	})

	itemsUpdatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "medwatch_sync_items_updated_total",
		Help: "Items updated by reconciliation runs.",
	})

	syncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "medwatch_sync_run_duration_seconds",
		Help:    "Wall time of one reconciliation run.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(syncRunsTotal, itemsCreatedTotal, itemsUpdatedTotal, syncDuration)
}

// observeRun records one finished reconciliation run. The engine calls it for
// every run, whether scheduler-driven or triggered through the API.
func observeRun(res Result, elapsedSeconds float64) {
	status := StatusSuccess
	if res.ShouldRetry {
		status = StatusError
	}
	syncRunsTotal.WithLabelValues(status).Inc()
	itemsCreatedTotal.Add(float64(res.CreatedItemsCount))
	itemsUpdatedTotal.Add(float64(res.UpdatedItemsCount))
	syncDuration.Observe(elapsedSeconds)
}
