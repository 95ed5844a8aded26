// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package feeder moves frames from a source into codec input buffers:
// wait for a buffer, fill it, apply the frame policy, pace and submit.
package feeder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/encbench/internal/codec"
	"github.com/ManuGH/encbench/internal/log"
	"github.com/ManuGH/encbench/internal/metrics"
	"github.com/ManuGH/encbench/internal/pipeline/clock"
	"github.com/ManuGH/encbench/internal/pipeline/gate"
	"github.com/ManuGH/encbench/internal/pipeline/pool"
	"github.com/ManuGH/encbench/internal/resilience"
)

// Defaults for zero Config fields.
const (
	DefaultPollTimeout      = 10 * time.Millisecond
	DefaultEOSTimeout       = 5 * time.Second
	DefaultFailureThreshold = 3
)

// Forced completion reasons.
const (
	ReasonEOSTimeout       = "eos_timeout"
	ReasonEOSRejected      = "eos_rejected"
	ReasonRepeatedFailures = "repeated_failures"
)

// Completer is the part of the completion controller the feeder drives.
type Completer interface {
	MarkInputDone()
	InputDone() bool
	ForceComplete(reason string)
}

// SubmitFunc observes every submitted frame just before it is queued.
type SubmitFunc func(frame int, ptsUs int64, size int, flags codec.BufferFlags)

// Config wires a Feeder.
type Config struct {
	// Role names the fed codec in logs and metrics, e.g. "encoder".
	Role       string
	Codec      codec.Codec
	View       pool.View
	Filler     Filler
	Completion Completer

	Gate     *gate.Gate     // optional
	Schedule *gate.Schedule // optional
	Pacer    *clock.FrameClock
	Realtime bool

	PTSBaseUs int64
	// IntervalUs is the reference frame duration used for timestamps. A
	// dynamic frame rate changes pacing only.
	IntervalUs float64

	PlayoutFrames int
	StopTimeSec   float64

	PollTimeout      time.Duration
	EOSTimeout       time.Duration
	FailureThreshold int

	OnSubmit SubmitFunc
}

// Feeder is the input stage of one codec. Iterate and Run must be called
// from a single goroutine; counters may be read from anywhere.
type Feeder struct {
	cfg     Config
	logger  zerolog.Logger
	breaker *resilience.Breaker
	every   *rate.Sometimes

	frame       int
	currentSec  float64
	lastPTS     int64
	haveLastPTS bool
	samples     bool
	stopped     bool

	submitted atomic.Int64
	skipped   atomic.Int64
	loops     atomic.Int64
	eosSent   atomic.Bool

	done     chan struct{}
	doneOnce sync.Once
}

// New returns a feeder. Zero timeouts take their defaults.
func New(ctx context.Context, cfg Config) *Feeder {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.EOSTimeout <= 0 {
		cfg.EOSTimeout = DefaultEOSTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Role == "" {
		cfg.Role = "encoder"
	}
	if cfg.Pacer == nil {
		cfg.Pacer = clock.NewFrameClock(nil, 1e6/max(cfg.IntervalUs, 1))
	}
	f := &Feeder{
		cfg:    cfg,
		logger: log.WithComponentFromContext(ctx, "feeder").With().Str(log.FieldRole, cfg.Role).Logger(),
		every:  &rate.Sometimes{First: 1, Every: 100, Interval: 5 * time.Second},
		done:   make(chan struct{}),
	}
	f.breaker = resilience.New(cfg.Role+"_feeder", cfg.FailureThreshold, func(tr resilience.Trip) {
		f.logger.Error().
			Str(log.FieldEvent, "feeder.breaker_tripped").
			Str("op", tr.Op).
			Int("failures", tr.Failures).
			Err(tr.Err).
			Msg("input keeps failing, forcing completion")
		cfg.Completion.ForceComplete(ReasonRepeatedFailures)
	})
	return f
}

// Submitted is the number of frames queued to the codec.
func (f *Feeder) Submitted() int64 { return f.submitted.Load() }

// Skipped is the number of frames the gate dropped.
func (f *Feeder) Skipped() int64 { return f.skipped.Load() }

// Loops is the number of times the source was rewound.
func (f *Feeder) Loops() int64 { return f.loops.Load() }

// EOSSent reports whether end-of-stream was queued.
func (f *Feeder) EOSSent() bool { return f.eosSent.Load() }

// Done is closed when Run returns.
func (f *Feeder) Done() <-chan struct{} { return f.done }

// Run feeds until end-of-stream, completion or cancellation.
func (f *Feeder) Run(ctx context.Context) {
	defer f.doneOnce.Do(func() { close(f.done) })
	f.logger.Debug().Str(log.FieldEvent, "feeder.start").Bool("realtime", f.cfg.Realtime).Msg("input feeder started")
	for f.Iterate(ctx) {
	}
	f.logger.Debug().
		Str(log.FieldEvent, "feeder.stop").
		Int64("submitted", f.Submitted()).
		Int64("skipped", f.Skipped()).
		Int64("loops", f.Loops()).
		Msg("input feeder stopped")
}

// Iterate runs one feeding cycle. It returns false once the feeder has
// nothing more to do.
func (f *Feeder) Iterate(ctx context.Context) bool {
	if f.stopped {
		return false
	}
	if ctx.Err() != nil || f.cfg.Completion.InputDone() {
		f.stopped = true
		return false
	}

	tok, ok := f.cfg.View.Take(ctx, f.cfg.PollTimeout)
	if !ok {
		return true
	}

	if f.doneReading(false) {
		f.submitEOS(ctx, tok, true)
		return false
	}

	buf, err := f.cfg.Codec.InputBuffer(tok.Index)
	if err != nil {
		return f.fail(ctx, "input_buffer", tok, err)
	}
	res, err := f.cfg.Filler.Fill(buf)
	if err != nil {
		return f.fail(ctx, "fill", tok, err)
	}

	if res.Size <= 0 {
		if f.doneReading(true) {
			f.submitEOS(ctx, tok, true)
			return false
		}
		if err := f.cfg.Filler.Rewind(); err != nil {
			f.logger.Error().Str(log.FieldEvent, "feeder.rewind_failed").Err(err).Msg("cannot restart source")
			f.submitEOS(ctx, tok, true)
			return false
		}
		n := f.loops.Add(1)
		metrics.RecordLoop()
		f.logger.Debug().Str(log.FieldEvent, "feeder.loop").Int64("loop", n+1).Int(log.FieldFrame, f.frame).Msg("source rewound")
		f.giveBack(tok)
		return true
	}

	frame := f.frame
	pts := f.stamp(frame, res)
	f.currentSec = float64(pts) / 1e6

	if f.cfg.Schedule != nil {
		params, err := f.cfg.Schedule.Apply(frame, f.cfg.Codec)
		if err != nil {
			f.logger.Warn().Str(log.FieldEvent, "feeder.runtime_params_failed").Int(log.FieldFrame, frame).Err(err).Msg("runtime parameters rejected")
		} else if params != nil {
			f.logger.Debug().Str(log.FieldEvent, "feeder.runtime_params").Int(log.FieldFrame, frame).Int("count", len(params)).Msg("runtime parameters applied")
		}
	}

	if f.cfg.Gate != nil {
		if drop, reason := f.cfg.Gate.Decide(frame, false); drop {
			f.frame++
			f.skipped.Add(1)
			metrics.FramesSkipped.WithLabelValues(reason).Inc()
			f.giveBack(tok)
			return true
		}
	}

	if f.cfg.Realtime {
		if err := f.cfg.Pacer.Pace(ctx); err != nil {
			f.giveBack(tok)
			f.stopped = true
			return false
		}
	}

	var flags codec.BufferFlags
	if res.HasPTS {
		flags = sampleFlags(res)
	}
	if f.cfg.OnSubmit != nil {
		f.cfg.OnSubmit(frame, pts, res.Size, flags)
	}
	if err := f.cfg.Codec.QueueInputBuffer(tok.Index, 0, res.Size, pts, flags); err != nil {
		f.frame++
		return f.fail(ctx, "queue", tok, err)
	}
	f.breaker.Success()
	f.frame++
	f.lastPTS, f.haveLastPTS = pts, true
	n := f.submitted.Add(1)
	metrics.FramesSubmitted.WithLabelValues(f.cfg.Role).Inc()

	f.every.Do(func() {
		f.logger.Info().
			Str(log.FieldEvent, "feeder.progress").
			Int64("submitted", n).
			Int64("skipped", f.Skipped()).
			Int64(log.FieldPTS, pts).
			Msg("feeding")
	})
	return true
}

// stamp returns the presentation time of frame, keeping it non-decreasing.
func (f *Feeder) stamp(frame int, res FillResult) int64 {
	pts := clock.PresentationTimeUs(f.cfg.PTSBaseUs, frame, f.cfg.IntervalUs)
	if res.HasPTS {
		pts = res.PTSUs
		f.samples = true
	}
	if f.haveLastPTS && pts < f.lastPTS {
		pts = f.lastPTS
	}
	return pts
}

// doneReading reports whether input should end. At the end of a pass
// (exhausted) a source without limits is played once.
func (f *Feeder) doneReading(exhausted bool) bool {
	limited := f.cfg.PlayoutFrames > 0 || f.cfg.StopTimeSec > 0
	if !limited {
		return exhausted
	}
	if f.cfg.PlayoutFrames > 0 && f.frame >= f.cfg.PlayoutFrames {
		return true
	}
	if f.cfg.StopTimeSec > 0 && f.currentSec >= f.cfg.StopTimeSec {
		return true
	}
	return false
}

func (f *Feeder) giveBack(tok pool.Token) {
	if err := f.cfg.View.Offer(tok); err != nil {
		f.logger.Error().Str(log.FieldEvent, "feeder.return_failed").Int(log.FieldBufferIndex, tok.Index).Err(err).Msg("cannot return input buffer")
	}
}

// fail logs a failed cycle and returns whether feeding continues.
func (f *Feeder) fail(ctx context.Context, op string, tok pool.Token, err error) bool {
	f.giveBack(tok)
	var ce *codec.Error
	transient := errors.As(err, &ce) && ce.Transient
	metrics.RecordCodecError(op, transient)
	f.logger.Error().
		Str(log.FieldEvent, "feeder."+op+"_failed").
		Int(log.FieldBufferIndex, tok.Index).
		Int(log.FieldFrame, f.frame).
		Err(err).
		Msg("input cycle failed")

	if errors.Is(err, codec.ErrIllegalState) {
		f.stopped = true
		return false
	}
	f.breaker.Failure(op, err)
	if ctx.Err() != nil || f.cfg.Completion.InputDone() {
		f.stopped = true
		return false
	}
	return true
}

// SubmitEOS queues end-of-stream once. Later calls do nothing.
func (f *Feeder) SubmitEOS(ctx context.Context) {
	f.submitEOS(ctx, pool.Token{}, false)
}

func (f *Feeder) submitEOS(ctx context.Context, tok pool.Token, held bool) {
	f.stopped = true
	if f.eosSent.Swap(true) {
		if held {
			f.giveBack(tok)
		}
		return
	}
	if !held {
		var ok bool
		tok, ok = f.cfg.View.Take(ctx, f.cfg.EOSTimeout)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			metrics.RecordEOSTimeout()
			f.logger.Error().Str(log.FieldEvent, "feeder.eos_timeout").Dur("timeout", f.cfg.EOSTimeout).Msg("no input buffer for end-of-stream")
			f.cfg.Completion.ForceComplete(ReasonEOSTimeout)
			return
		}
	}

	pts := clock.PresentationTimeUs(f.cfg.PTSBaseUs, f.frame, f.cfg.IntervalUs)
	if f.haveLastPTS && (f.samples || pts <= f.lastPTS) {
		pts = f.lastPTS + 1
	}
	if err := f.cfg.Codec.QueueInputBuffer(tok.Index, 0, 0, pts, codec.FlagEndOfStream); err != nil {
		f.giveBack(tok)
		f.logger.Error().Str(log.FieldEvent, "feeder.eos_failed").Err(err).Msg("end-of-stream rejected")
		f.cfg.Completion.ForceComplete(ReasonEOSRejected)
		return
	}
	f.lastPTS, f.haveLastPTS = pts, true
	f.logger.Debug().
		Str(log.FieldEvent, "feeder.eos").
		Int(log.FieldFrame, f.frame).
		Int64(log.FieldPTS, pts).
		Msg("end-of-stream queued")
	f.cfg.Completion.MarkInputDone()
}
