package sqlite

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricLabels  = []string{"query", "success"}
	databaseTimer = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fleetvuln",
		Subsystem: "datastore_sqlite",
		Name:      "query_duration_seconds",
		Help:      "Database query duration for noted query, including data read time.",
	}, metricLabels)
	databaseCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetvuln",
		Subsystem: "datastore_sqlite",
		Name:      "query_total",
		Help:      "Database query count for noted query.",
	}, metricLabels)
)

// StartMetrics begins timing the named method. The returned function records
// the duration and outcome; it reads through the error pointer so it can run
// in a defer before the named return is final.
func startMetrics(name string, err *error) func() {
	begin := time.Now()
	return func() {
		success := strconv.FormatBool(*err == nil)
		databaseTimer.WithLabelValues(name, success).Observe(time.Since(begin).Seconds())
		databaseCounter.WithLabelValues(name, success).Inc()
	}
}
