// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package encoder runs one benchmark test. A Runner resolves the codecs of
// the test, wires feeders, drainers and (for transcodes) the bridge around
// them, and tears everything down once the run completed.
//
// Three strategies exist:
//
//   - sync: a single goroutine alternates feeding and draining a polled codec.
//   - async: feeder and drainer run on their own goroutines; codec callbacks
//     only hand buffers to pools.
//   - transcode: compressed samples are decoded and the decoded frames are
//     bridged into an encoder.
package encoder

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/encbench/internal/codec"
	"github.com/ManuGH/encbench/internal/config"
	"github.com/ManuGH/encbench/internal/pipeline/clock"
	"github.com/ManuGH/encbench/internal/pipeline/completion"
	"github.com/ManuGH/encbench/internal/stats"

	// bundled codecs
	_ "github.com/ManuGH/encbench/internal/codec/fakecodec"
	_ "github.com/ManuGH/encbench/internal/codec/swcodec"
)

// Forced completion reasons raised by runners.
const (
	ReasonCancelled     = "cancelled"
	ReasonCodecError    = "codec_error"
	ReasonInputStopped  = "input_stopped"
	ReasonWorkersExited = "workers_exited"
)

// Runner executes one test.
type Runner interface {
	// Start sets the run up and launches its workers. Setup failures are
	// returned and leave nothing running.
	Start(ctx context.Context) error
	// Wait blocks until the run completed or ctx ended, then tears it down.
	// Calling it again returns the same result.
	Wait(ctx context.Context) Result
	// Stop ends a started run early.
	Stop()
}

// Options are shared by every run of a suite.
type Options struct {
	// Registry resolves codec names. Defaults to codec.Default.
	Registry *codec.Registry
	// OutputDir receives encoded files unless the test names its own.
	OutputDir string
	// Clock drives realtime pacing. Defaults to the wall clock.
	Clock   clock.Clock
	Version string
}

// Result summarizes a finished run.
type Result struct {
	TestID     string
	Mode       string
	Stats      *stats.Statistics
	Counters   completion.Snapshot
	Loops      int64
	Dropped    int64
	HighWater  int
	Forced     string
	OutputPath string
	Shutdown   completion.Report
	Elapsed    time.Duration
}

// New returns the runner for the test's mode. t must have defaults applied.
func New(t config.Test, opts Options) (Runner, error) {
	if opts.Registry == nil {
		opts.Registry = codec.Default
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	switch t.Setup.Mode {
	case config.ModeSync:
		return &encodeRunner{session: newSession(t, opts), threaded: false}, nil
	case config.ModeAsync:
		return &encodeRunner{session: newSession(t, opts), threaded: true}, nil
	case config.ModeTranscode:
		return &transcodeRunner{session: newSession(t, opts)}, nil
	default:
		return nil, fmt.Errorf("test %s: unknown mode %q", t.Common.ID, t.Setup.Mode)
	}
}

// Run starts r and waits for it.
func Run(ctx context.Context, r Runner) (Result, error) {
	if err := r.Start(ctx); err != nil {
		return Result{}, err
	}
	return r.Wait(ctx), nil
}
