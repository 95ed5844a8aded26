// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

func parseDuration(s string) (time.Duration, error) { return time.ParseDuration(s) }

// ApplyDefaults fills unset fields of t. Encoder settings inherit from the
// input where not given.
func ApplyDefaults(t *Test, index int) {
	if t.Common.ID == "" {
		t.Common.ID = fmt.Sprintf("test_%d", index)
	}

	in := &t.Input
	if in.Framerate <= 0 {
		in.Framerate = DefaultInputFramerate
	}
	if in.PixFmt == "" {
		in.PixFmt = DefaultPixFmt
	}

	c := &t.Configure
	if c.Framerate <= 0 {
		c.Framerate = in.Framerate
	}
	if c.IFrameInterval <= 0 {
		c.IFrameInterval = DefaultIFrameInterval
	}
	if c.Resolution == "" {
		c.Resolution = in.Resolution
	}
	c.Container = strings.ToLower(c.Container)

	s := &t.Setup
	s.Mode = strings.ToLower(s.Mode)
	if s.Mode == "" {
		if strings.EqualFold(filepath.Ext(in.Filepath), ".ivf") {
			s.Mode = ModeTranscode
		} else {
			s.Mode = ModeAsync
		}
	}
	if s.EOSTimeout <= 0 {
		s.EOSTimeout = DefaultEOSTimeout
	}
	if s.JoinTimeout <= 0 {
		s.JoinTimeout = DefaultJoinTimeout
	}
	if s.PollTimeout <= 0 {
		s.PollTimeout = DefaultPollTimeout
	}
	if s.DriftDropFactor <= 0 {
		s.DriftDropFactor = DefaultDriftDropFactor
	}
	if s.MaxDriftDrops <= 0 {
		s.MaxDriftDrops = int(c.Framerate)
	}
	if s.BridgeQueue <= 0 {
		s.BridgeQueue = DefaultBridgeQueue
	}
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = DefaultFailureThreshold
	}
}
