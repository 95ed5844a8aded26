// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package harness runs a benchmark suite one test at a time. Each run gets its
// own run id, span and JSON report; a failing test is recorded and the suite
// moves on.
package harness

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/encbench/internal/codec"
	"github.com/ManuGH/encbench/internal/config"
	"github.com/ManuGH/encbench/internal/encoder"
	"github.com/ManuGH/encbench/internal/log"
	"github.com/ManuGH/encbench/internal/metrics"
	"github.com/ManuGH/encbench/internal/pipeline/clock"
	"github.com/ManuGH/encbench/internal/stats/store"
	"github.com/ManuGH/encbench/internal/telemetry"
)

// Options tune a suite run.
type Options struct {
	Registry *codec.Registry
	Clock    clock.Clock
	Version  string
	// Store receives every report when set.
	Store *store.Store
	// Only restricts the run to these test ids.
	Only []string
}

// Outcome is the result of one test.
type Outcome struct {
	TestID     string
	RunID      string
	Result     encoder.Result
	ReportPath string
	Err        error
}

// Summary lists the outcomes in suite order.
type Summary struct {
	Outcomes []Outcome
}

// Failed counts tests whose setup failed or which were forced to complete
// by a codec error.
func (s Summary) Failed() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Err != nil || o.Result.Forced == encoder.ReasonCodecError {
			n++
		}
	}
	return n
}

// Harness runs the tests of a suite.
type Harness struct {
	suite  config.Suite
	opts   Options
	logger zerolog.Logger
}

// New returns a harness for suite. Tests must have defaults applied.
func New(suite config.Suite, opts Options) *Harness {
	return &Harness{
		suite:  suite,
		opts:   opts,
		logger: log.WithComponent("harness"),
	}
}

// Run executes the selected tests in order. The returned error is only set
// when ctx ended before all tests ran; per-test failures are in the Summary.
func (h *Harness) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	for _, t := range h.suite.Tests {
		if len(h.opts.Only) > 0 && !slices.Contains(h.opts.Only, t.Common.ID) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("suite interrupted before %s: %w", t.Common.ID, err)
		}
		sum.Outcomes = append(sum.Outcomes, h.runTest(ctx, t))
	}

	h.logger.Info().
		Str(log.FieldEvent, "suite.finished").
		Int("tests", len(sum.Outcomes)).
		Int("failed", sum.Failed()).
		Msg("suite finished")
	return sum, nil
}

func (h *Harness) runTest(ctx context.Context, t config.Test) Outcome {
	out := Outcome{TestID: t.Common.ID, RunID: uuid.NewString()}
	ctx = log.ContextWithRunID(log.ContextWithTestID(ctx, t.Common.ID), out.RunID)
	logger := log.WithComponentFromContext(ctx, "harness")

	attrs := telemetry.CodecAttributes(t.Configure.Codec, t.Configure.Mime, t.Configure.Resolution,
		bitrateOf(t.Configure.Bitrate), t.Configure.Framerate, t.Input.Realtime)
	ctx, span := telemetry.StartRun(ctx, t.Common.ID, attrs...)

	logger.Info().
		Str(log.FieldEvent, "test.started").
		Str(log.FieldMode, t.Setup.Mode).
		Str(log.FieldCodec, t.Configure.Codec).
		Str(log.FieldPath, t.Input.Filepath).
		Msg("test started")

	done := metrics.RunStarted()
	start := time.Now()
	out.Result, out.Err = h.execute(ctx, t)
	done()
	metrics.RecordRun(t.Setup.Mode, out.Err, time.Since(start))

	res := out.Result
	if res.Stats != nil {
		span.SetAttributes(telemetry.RunAttributes(t.Setup.Mode, res.Stats.ID(), t.DecoderConfigure.Codec)...)
		out.ReportPath = h.persist(ctx, logger, t, res, out.Err)
	}

	var meanBitrate int64
	if res.Stats != nil {
		meanBitrate = res.Stats.AverageBitrate()
	}
	telemetry.EndRun(span, out.Err,
		telemetry.ResultAttributes(res.Counters.Encoded, res.Counters.Skipped, meanBitrate, res.Forced))

	if out.Err != nil {
		logger.Error().
			Str(log.FieldEvent, "test.failed").
			Err(out.Err).
			Msg("test failed")
		return out
	}
	logger.Info().
		Str(log.FieldEvent, "test.finished").
		Int64("encoded", res.Counters.Encoded).
		Int64("skipped", res.Counters.Skipped).
		Str("forced", res.Forced).
		Str(log.FieldPath, out.ReportPath).
		Dur("elapsed", res.Elapsed).
		Msg("test finished")
	return out
}

// execute runs t. A failed setup still yields the statistics gathered so far.
func (h *Harness) execute(ctx context.Context, t config.Test) (encoder.Result, error) {
	r, err := encoder.New(t, encoder.Options{
		Registry:  h.opts.Registry,
		OutputDir: h.suite.OutputDir,
		Clock:     h.opts.Clock,
		Version:   h.opts.Version,
	})
	if err != nil {
		return encoder.Result{TestID: t.Common.ID, Mode: t.Setup.Mode}, err
	}
	if err := r.Start(ctx); err != nil {
		return r.Wait(ctx), err
	}
	return r.Wait(ctx), nil
}

// persist writes the JSON report and stores it. Failures are logged only.
func (h *Harness) persist(ctx context.Context, logger zerolog.Logger, t config.Test, res encoder.Result, runErr error) string {
	report := res.Stats.Report(t)
	if runErr != nil {
		report.Error = runErr.Error()
	}
	report.Forced = res.Forced

	path, err := report.WriteFile(h.reportDir(t))
	if err != nil {
		logger.Error().
			Str(log.FieldEvent, "report.write_failed").
			Err(err).
			Msg("failed to write report")
	}

	if h.opts.Store != nil {
		if err := h.opts.Store.Save(ctx, t.Common.ID, report); err != nil {
			logger.Error().
				Str(log.FieldEvent, "report.store_failed").
				Err(err).
				Msg("failed to store report")
		}
	}
	return path
}

func (h *Harness) reportDir(t config.Test) string {
	switch {
	case t.Common.OutputDir != "":
		return t.Common.OutputDir
	case h.suite.OutputDir != "":
		return h.suite.OutputDir
	default:
		return "."
	}
}

func bitrateOf(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := codec.ParseMagnitude(s)
	if err != nil {
		return 0
	}
	return v
}
