// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"

	"github.com/ManuGH/encbench/internal/codec"
)

// Validate checks every test of the suite and joins all findings.
func Validate(s Suite) error {
	var errs []error
	if len(s.Tests) == 0 {
		errs = append(errs, errors.New("suite has no tests"))
	}
	switch s.Telemetry.Exporter {
	case "", "grpc", "http":
	default:
		errs = append(errs, fmt.Errorf("telemetry.exporter %q: want grpc or http", s.Telemetry.Exporter))
	}
	if s.Telemetry.SamplingRate < 0 || s.Telemetry.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sampling_rate %v: want 0..1", s.Telemetry.SamplingRate))
	}
	seen := make(map[string]bool)
	for _, t := range s.Tests {
		if seen[t.Common.ID] {
			errs = append(errs, fmt.Errorf("duplicate test id %q", t.Common.ID))
		}
		seen[t.Common.ID] = true
		if err := ValidateTest(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ValidateTest checks a single test after defaults were applied.
func ValidateTest(t Test) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if t.Input.Filepath == "" {
		add("input.filepath is required")
	}
	if t.Input.Filepath != "" && t.Setup.Mode != ModeTranscode {
		if _, err := ParseResolution(t.Input.Resolution); err != nil {
			add("input.resolution: %v", err)
		}
	}
	if t.Configure.Resolution != "" {
		if _, err := ParseResolution(t.Configure.Resolution); err != nil {
			add("configure.resolution: %v", err)
		}
	}
	if t.Input.PlayoutFrames < 0 {
		add("input.playout_frames must not be negative")
	}
	if t.Input.StoptimeSec < 0 {
		add("input.stoptime_sec must not be negative")
	}
	if t.Configure.Codec == "" && t.Configure.Mime == "" {
		add("configure.codec or configure.mime is required")
	}
	if t.Configure.IsEncode() {
		if t.Configure.Bitrate == "" {
			add("configure.bitrate is required when encoding")
		} else if _, err := codec.ParseMagnitude(t.Configure.Bitrate); err != nil {
			add("configure.bitrate: %v", err)
		}
	}
	switch t.Configure.BitrateMode {
	case "", "cbr", "vbr", "cq":
	default:
		add("configure.bitrate_mode %q: want cbr, vbr or cq", t.Configure.BitrateMode)
	}
	switch t.Configure.Container {
	case ContainerAuto, ContainerIVF, ContainerAnnexB, ContainerRTP, ContainerNone:
	default:
		add("configure.container %q is not supported", t.Configure.Container)
	}
	switch t.Setup.Mode {
	case ModeSync, ModeAsync, ModeTranscode:
	default:
		add("test_setup.mode %q: want sync, async or transcode", t.Setup.Mode)
	}

	errs = append(errs, validateParameters("configure.parameters", t.Configure.Parameters)...)
	errs = append(errs, validateParameters("decoder_configure.parameters", t.DecoderConfigure.Parameters)...)
	errs = append(errs, validateRuntime("runtime", t.Runtime)...)
	errs = append(errs, validateRuntime("decoder_runtime", t.DecoderRuntime)...)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w %q: %w", ErrInvalidTest, t.Common.ID, errors.Join(errs...))
}

func validateParameters(path string, params []Parameter) []error {
	var errs []error
	for i, p := range params {
		if p.Key == "" {
			errs = append(errs, fmt.Errorf("%s[%d]: key is required", path, i))
			continue
		}
		kind, err := codec.ParseKind(p.Type)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s[%d]: %v", path, i, err))
			continue
		}
		if _, err := codec.ParseValue(kind, p.Value); err != nil {
			errs = append(errs, fmt.Errorf("%s[%d]: %v", path, i, err))
		}
	}
	return errs
}

func validateRuntime(path string, r Runtime) []error {
	var errs []error
	for i, b := range r.VideoBitrate {
		if _, err := codec.ParseMagnitude(b.Bitrate); err != nil {
			errs = append(errs, fmt.Errorf("%s.video_bitrate[%d]: %v", path, i, err))
		}
	}
	for i, f := range r.DynamicFramerate {
		if f.Framerate <= 0 {
			errs = append(errs, fmt.Errorf("%s.dynamic_framerate[%d]: framerate must be positive", path, i))
		}
	}
	for i, d := range r.Drop {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s.drop[%d]: negative frame", path, i))
		}
	}
	params := make([]Parameter, len(r.Parameters))
	for i, p := range r.Parameters {
		params[i] = p.Parameter
	}
	return append(errs, validateParameters(path+".parameters", params)...)
}
