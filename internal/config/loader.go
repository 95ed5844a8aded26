// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/encbench/internal/log"
)

// Loader handles suite loading with precedence ENV > File > Defaults.
type Loader struct {
	configPath      string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new suite loader.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath:      configPath,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Load parses the file strictly, applies environment overrides, fills test
// defaults and validates the result.
func (l *Loader) Load() (Suite, error) {
	suite := Suite{OutputDir: "."}

	if l.configPath == "" {
		return suite, errors.New("no suite file given")
	}
	fileSuite, err := l.loadFile(l.configPath)
	if err != nil {
		return suite, fmt.Errorf("load suite file: %w", err)
	}
	mergeFile(&suite, fileSuite)

	l.mergeEnv(&suite)

	for i := range suite.Tests {
		ApplyDefaults(&suite.Tests[i], i)
	}

	if err := Validate(suite); err != nil {
		return suite, fmt.Errorf("suite validation failed: %w", err)
	}

	logger := log.WithComponent("config")
	logger.Debug().
		Str(log.FieldEvent, "config.loaded").
		Str(log.FieldPath, l.configPath).
		Int("tests", len(suite.Tests)).
		Msg("suite loaded")
	return suite, nil
}

// loadFile loads a suite from a YAML file with STRICT parsing.
func (l *Loader) loadFile(path string) (*Suite, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported suite format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- suite paths are provided by the operator via CLI
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return ParseSuite(data)
}

// ParseSuite decodes a single YAML document, rejecting unknown keys.
func ParseSuite(data []byte) (*Suite, error) {
	var s Suite
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&s); err != nil {
		if err == io.EOF {
			return &Suite{}, nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return nil, fmt.Errorf("strict suite parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("suite file contains multiple documents or trailing content")
	}
	return &s, nil
}

func mergeFile(dst *Suite, src *Suite) {
	if src.OutputDir != "" {
		dst.OutputDir = src.OutputDir
	}
	dst.ResultsDB = src.ResultsDB
	dst.LogLevel = src.LogLevel
	dst.Telemetry = src.Telemetry
	dst.Tests = src.Tests
}

func (l *Loader) track(key string) {
	l.ConsumedEnvKeys[key] = struct{}{}
}

func (l *Loader) mergeEnv(s *Suite) {
	l.track(EnvOutputDir)
	s.OutputDir = ParseString(EnvOutputDir, s.OutputDir)

	l.track(EnvResultsDB)
	s.ResultsDB = ParseString(EnvResultsDB, s.ResultsDB)

	l.track(EnvLogLevel)
	s.LogLevel = ParseString(EnvLogLevel, s.LogLevel)

	l.track(EnvTelemetryEnabled)
	s.Telemetry.Enabled = ParseBool(EnvTelemetryEnabled, s.Telemetry.Enabled)

	l.track(EnvTelemetryTarget)
	s.Telemetry.Endpoint = ParseString(EnvTelemetryTarget, s.Telemetry.Endpoint)

	l.track(EnvRealtime)
	if rt, ok := lookupBool(EnvRealtime); ok {
		for i := range s.Tests {
			s.Tests[i].Input.Realtime = rt
		}
	}

	l.track(EnvEOSTimeout)
	if d, ok := lookupEnv(EnvEOSTimeout, DefaultEOSTimeout, parseDuration); ok {
		for i := range s.Tests {
			s.Tests[i].Setup.EOSTimeout = d
		}
	}

	l.track(EnvJoinTimeout)
	if d, ok := lookupEnv(EnvJoinTimeout, DefaultJoinTimeout, parseDuration); ok {
		for i := range s.Tests {
			s.Tests[i].Setup.JoinTimeout = d
		}
	}
}
