// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "encbench_runs_total",
		Help: "Benchmark runs by mode and result",
	}, []string{"mode", "result"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "encbench_run_duration_seconds",
		Help:    "Wall time of benchmark runs",
		Buckets: prometheus.ExponentialBuckets(0.05, 2.0, 12), // 50ms to ~100s
	}, []string{"mode"})

	frameLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "encbench_frame_latency_seconds",
		Help:    "Time between submitting a frame and draining its output",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2.0, 15), // 100us to ~1.6s
	}, []string{"role"})

	runsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "encbench_runs_active",
		Help: "Benchmark runs currently executing",
	})
)

// RecordRun records the outcome of one run.
func RecordRun(mode string, err error, elapsed time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	runsTotal.WithLabelValues(mode, result).Inc()
	runDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// ObserveFrameLatency records per-frame processing time.
func ObserveFrameLatency(role string, d time.Duration) {
	frameLatency.WithLabelValues(role).Observe(d.Seconds())
}

// RunStarted increments the active run gauge and returns its decrement.
func RunStarted() func() {
	runsActive.Inc()
	return runsActive.Dec
}
