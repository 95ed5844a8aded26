// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	consecutiveFailures = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "encbench_consecutive_failures",
		Help: "Failures in a row per pipeline component, reset by a success",
	}, []string{"component"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "encbench_breaker_trips_total",
		Help: "Runs given up because a component kept failing, by failing operation",
	}, []string{"component", "op"})
)

// SetConsecutiveFailures publishes the current failure streak of component.
func SetConsecutiveFailures(component string, n int) {
	consecutiveFailures.WithLabelValues(component).Set(float64(n))
}

// RecordBreakerTrip counts a breaker giving up on component.
func RecordBreakerTrip(component, op string) {
	breakerTrips.WithLabelValues(component, op).Inc()
}
