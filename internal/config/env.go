// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/encbench/internal/log"
)

// Environment keys understood by the loader.
const (
	EnvOutputDir        = "ENCBENCH_OUTPUT_DIR"
	EnvResultsDB        = "ENCBENCH_RESULTS_DB"
	EnvRealtime         = "ENCBENCH_REALTIME"
	EnvEOSTimeout       = "ENCBENCH_EOS_TIMEOUT"
	EnvJoinTimeout      = "ENCBENCH_JOIN_TIMEOUT"
	EnvLogLevel         = "ENCBENCH_LOG_LEVEL"
	EnvTelemetryEnabled = "ENCBENCH_TELEMETRY_ENABLED"
	EnvTelemetryTarget  = "ENCBENCH_TELEMETRY_ENDPOINT"
)

// lookupEnv reads key and parses it, logging where the value came from.
// Empty or unparsable values fall back to def.
func lookupEnv[T any](key string, def T, parse func(string) (T, error)) (T, bool) {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().
			Str("key", key).
			Interface("default", def).
			Str("source", "default").
			Msg("using default value")
		return def, false
	}
	parsed, err := parse(v)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Interface("default", def).
			Err(err).
			Msg("invalid value in environment variable, using default")
		return def, false
	}
	logger.Debug().
		Str("key", key).
		Interface("value", parsed).
		Str("source", "environment").
		Msg("using environment variable")
	return parsed, true
}

// ParseString reads a string from environment variable or returns default value.
func ParseString(key, defaultValue string) string {
	v, _ := lookupEnv(key, defaultValue, func(s string) (string, error) { return s, nil })
	return v
}

// ParseInt reads an integer from environment variable or returns default value.
func ParseInt(key string, defaultValue int) int {
	v, _ := lookupEnv(key, defaultValue, strconv.Atoi)
	return v
}

// ParseDuration reads a duration in Go format (e.g. "5s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	v, _ := lookupEnv(key, defaultValue, time.ParseDuration)
	return v
}

// ParseBool accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	v, _ := lookupEnv(key, defaultValue, parseBool)
	return v
}

// lookupBool reports whether key was set to a valid boolean.
func lookupBool(key string) (bool, bool) {
	return lookupEnv(key, false, parseBool)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	default:
		return false, strconv.ErrSyntax
	}
}
