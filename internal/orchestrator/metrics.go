package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleetvuln",
		Subsystem: "orchestrator",
		Name:      "bulk_jobs_running",
		Help:      "Bulk scan jobs currently running.",
	})
	discoveryCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetvuln",
		Subsystem: "orchestrator",
		Name:      "discoveries_total",
		Help:      "Discovery attempts by outcome.",
	}, []string{"outcome"})
)
