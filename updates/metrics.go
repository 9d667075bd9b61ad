package updates

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var applyCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fleetvuln",
	Subsystem: "updates",
	Name:      "records_total",
	Help:      "Update package records processed, by outcome.",
}, []string{"outcome"})
