package predictor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tierCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetvuln",
		Subsystem: "predictor",
		Name:      "tier_answers_total",
		Help:      "Predictions answered, by the tier that produced the answer.",
	}, []string{"tier"})
	degradedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetvuln",
		Subsystem: "predictor",
		Name:      "degraded_total",
		Help:      "Inference calls that timed out or errored and produced a degraded prediction.",
	})
	cacheWriteCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetvuln",
		Subsystem: "predictor",
		Name:      "cache_writes_total",
		Help:      "Confident predictions written back to the store.",
	})
)
