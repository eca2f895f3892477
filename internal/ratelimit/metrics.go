package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "walletvault",
	Subsystem: "ratelimit",
	Name:      "decisions_total",
	Help:      "Rate limit verdicts by endpoint and outcome.",
}, []string{"endpoint", "outcome"})

func observeDecision(endpoint string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "blocked"
	}
	decisionsTotal.WithLabelValues(endpoint, outcome).Inc()
}
