// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics holds the Prometheus instruments of the benchmark pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Skip reasons.
const (
	SkipDropList   = "drop_list"
	SkipDecimation = "decimation"
	SkipDrift      = "drift"
	SkipNegative   = "negative_pts"
)

var (
	// FramesSubmitted counts buffers queued to a codec input.
	FramesSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "encbench_frames_submitted_total",
		Help: "Frames queued to codec input",
	}, []string{"role"})

	// FramesSkipped counts frames intentionally not submitted or not written.
	FramesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "encbench_frames_skipped_total",
		Help: "Frames dropped by the gate, drift policy or timestamp remapping",
	}, []string{"reason"})

	// FramesOutput counts data buffers drained from a codec output.
	FramesOutput = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "encbench_frames_output_total",
		Help: "Data buffers drained from codec output",
	}, []string{"role"})

	// OutputBytes counts encoded payload bytes.
	OutputBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "encbench_output_bytes_total",
		Help: "Encoded payload bytes drained from encoders",
	})

	sourceLoops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "encbench_source_loops_total",
		Help: "Times a frame source was reopened to keep playing",
	})

	eosTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "encbench_eos_timeouts_total",
		Help: "End-of-stream submissions that timed out waiting for an input buffer",
	})

	forcedCompletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "encbench_forced_completions_total",
		Help: "Runs completed by force instead of by end-of-stream",
	}, []string{"reason"})

	codecErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "encbench_codec_errors_total",
		Help: "Codec errors by operation and class",
	}, []string{"op", "class"})

	ignoredReleases = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "encbench_ignored_releases_total",
		Help: "Buffer or resource releases ignored because the owner was already stopped",
	}, []string{"resource"})

	duplicateTokens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "encbench_duplicate_tokens_total",
		Help: "Buffer tokens offered while already queued",
	})

	abandonedTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "encbench_abandoned_tokens_total",
		Help: "Buffer tokens still queued when a run shut down",
	}, []string{"role"})

	bridgeQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "encbench_bridge_queue_depth",
		Help: "Decoded frames waiting for an encoder input buffer",
	})
)

// RecordLoop counts one source reopen.
func RecordLoop() { sourceLoops.Inc() }

// RecordEOSTimeout counts one end-of-stream timeout.
func RecordEOSTimeout() { eosTimeouts.Inc() }

// RecordForcedCompletion counts a forced completion.
func RecordForcedCompletion(reason string) { forcedCompletions.WithLabelValues(reason).Inc() }

// RecordCodecError counts a codec error.
func RecordCodecError(op string, transient bool) {
	class := "fatal"
	if transient {
		class = "transient"
	}
	codecErrors.WithLabelValues(op, class).Inc()
}

// RecordIgnoredRelease counts a tolerated release failure.
func RecordIgnoredRelease(resource string) { ignoredReleases.WithLabelValues(resource).Inc() }

// RecordDuplicateToken counts a rejected double offer.
func RecordDuplicateToken() { duplicateTokens.Inc() }

// RecordAbandonedTokens counts tokens left behind at shutdown.
func RecordAbandonedTokens(role string, n int) {
	if n > 0 {
		abandonedTokens.WithLabelValues(role).Add(float64(n))
	}
}

// SetBridgeQueueDepth publishes the decode->encode queue length.
func SetBridgeQueueDepth(n int) { bridgeQueueDepth.Set(float64(n)) }
