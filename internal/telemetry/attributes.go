// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the harness.
const (
	// Run attributes
	TestIDKey  = "encbench.test_id"
	StatsIDKey = "encbench.stats_id"
	ModeKey    = "encbench.mode"

	// Codec attributes
	CodecKey      = "codec.name"
	CodecMimeKey  = "codec.mime"
	DecoderKey    = "codec.decoder"
	ResolutionKey = "codec.resolution"
	BitrateKey    = "codec.bitrate"
	FramerateKey  = "codec.framerate"
	RealtimeKey   = "codec.realtime"

	// Result attributes
	FramesEncodedKey = "result.frames_encoded"
	FramesSkippedKey = "result.frames_skipped"
	MeanBitrateKey   = "result.mean_bitrate"
	ForcedReasonKey  = "result.forced_reason"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// CodecAttributes describes the codec under test.
func CodecAttributes(name, mime, resolution string, bitrate int64, framerate float64, realtime bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CodecKey, name),
		attribute.String(CodecMimeKey, mime),
		attribute.String(ResolutionKey, resolution),
		attribute.Int64(BitrateKey, bitrate),
		attribute.Float64(FramerateKey, framerate),
		attribute.Bool(RealtimeKey, realtime),
	}
}

// RunAttributes describes how a run is driven. Empty values are omitted.
func RunAttributes(mode, statsID, decoder string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if mode != "" {
		attrs = append(attrs, attribute.String(ModeKey, mode))
	}
	if statsID != "" {
		attrs = append(attrs, attribute.String(StatsIDKey, statsID))
	}
	if decoder != "" {
		attrs = append(attrs, attribute.String(DecoderKey, decoder))
	}
	return attrs
}

// ResultAttributes summarizes a finished run.
func ResultAttributes(encoded, skipped, meanBitrate int64, forcedReason string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int64(FramesEncodedKey, encoded),
		attribute.Int64(FramesSkippedKey, skipped),
		attribute.Int64(MeanBitrateKey, meanBitrate),
	}
	if forcedReason != "" {
		attrs = append(attrs, attribute.String(ForcedReasonKey, forcedReason))
	}
	return attrs
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
