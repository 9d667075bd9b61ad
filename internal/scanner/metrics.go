package scanner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scanCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetvuln",
		Subsystem: "scanner",
		Name:      "scans_total",
		Help:      "Completed scans.",
	})
	filteredCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetvuln",
		Subsystem: "scanner",
		Name:      "filtered_total",
		Help:      "Version-matched candidates dropped, by filter stage.",
	}, []string{"stage"})
)
