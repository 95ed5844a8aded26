// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bridge moves decoded frames into encoder input buffers for
// transcoding runs.
package bridge

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
	"github.com/ManuGH/encbench/internal/source"
)

// Defaults for zero Config fields.
const (
	DefaultDriftFactor   = 2.0
	DefaultMaxDriftDrops = 3
	DefaultPollTimeout   = 10 * time.Millisecond
	DefaultEOSTimeout    = 5 * time.Second
)

// Reasons passed to Completer.ForceComplete.
const (
	ReasonEOSTimeout  = "bridge_eos_timeout"
	ReasonEOSRejected = "bridge_eos_rejected"
	ReasonEncoder     = "bridge_encoder_failed"
)

// Completer tracks the encoder side of the transcode.
type Completer interface {
	MarkInputDone()
	InputDone() bool
	ForceComplete(reason string)
}

// Config wires a Bridge.
type Config struct {
	Encoder     codec.Codec
	EncoderView pool.View
	// EncoderLayout returns the encoder input layout.
	EncoderLayout func() source.Layout
	// DecoderLayout returns the layout of decoded frames; it may change
	// with the decoder output format.
	DecoderLayout func() source.Layout
	// ReleaseDecoded hands a decoder output buffer back.
	ReleaseDecoded func(tok pool.Token)
	Completion     Completer

	Queue     *Queue
	PTSBaseUs int64
	// Gate applies the encoder's drop list, decimation and rate changes
	// to decoded frames, indexed in decoding order. Optional.
	Gate *gate.Gate

	Realtime      bool
	Clock         clock.Clock
	IntervalUs    float64
	DriftFactor   float64
	MaxDriftDrops int

	PollTimeout time.Duration
	EOSTimeout  time.Duration

	// OnDecoded sees every decoded frame as it arrives.
	OnDecoded func(decoderPTS int64)
	// OnSubmit sees every frame queued to the encoder. frame is the
	// decoded frame index, so gated frames leave gaps.
	OnSubmit func(frame int, ptsUs int64, size int, flags codec.BufferFlags)
}

// Bridge is the decode to encode stage. Handler runs on the decoder
// drainer goroutine; Run on its own.
type Bridge struct {
	cfg    Config
	logger zerolog.Logger
	every  *rate.Sometimes

	firstDec  int64
	haveFirst bool
	startWall time.Time
	lastPTS   int64
	frame     int
	streak    int
	warned    bool

	forwarded atomic.Int64
	dropped   atomic.Int64
	gated     atomic.Int64
	eosSent   atomic.Bool

	done     chan struct{}
	doneOnce sync.Once
}

// New returns a bridge. Zero tunables take their defaults.
func New(ctx context.Context, cfg Config) *Bridge {
	if cfg.Queue == nil {
		cfg.Queue = NewQueue(DefaultQueueCapacity)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.DriftFactor <= 0 {
		cfg.DriftFactor = DefaultDriftFactor
	}
	if cfg.MaxDriftDrops <= 0 {
		cfg.MaxDriftDrops = DefaultMaxDriftDrops
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.EOSTimeout <= 0 {
		cfg.EOSTimeout = DefaultEOSTimeout
	}
	return &Bridge{
		cfg:    cfg,
		logger: log.WithComponentFromContext(ctx, "bridge"),
		every:  &rate.Sometimes{First: 1, Every: 100, Interval: 5 * time.Second},
		done:   make(chan struct{}),
	}
}

// Forwarded is the number of frames queued to the encoder.
func (b *Bridge) Forwarded() int64 { return b.forwarded.Load() }

// Dropped is the number of decoded frames dropped for drift.
func (b *Bridge) Dropped() int64 { return b.dropped.Load() }

// Gated is the number of decoded frames the gate kept from the encoder.
func (b *Bridge) Gated() int64 { return b.gated.Load() }

// HighWater is the largest queue length observed.
func (b *Bridge) HighWater() int { return b.cfg.Queue.HighWater() }

// Done is closed when Run returns.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Handler returns the decoder drainer hook. It takes ownership of every
// frame it queues and blocks while the queue is full.
func (b *Bridge) Handler(ctx context.Context) func(tok pool.Token, data []byte) bool {
	return func(tok pool.Token, data []byte) bool {
		if b.cfg.OnDecoded != nil && len(data) > 0 {
			b.cfg.OnDecoded(tok.Info.PresentationTimeUs)
		}
		if err := b.cfg.Queue.Push(ctx, Frame{Token: tok, Data: data}); err != nil {
			return false
		}
		return true
	}
}

// Run forwards frames until end-of-stream reached the encoder, the run was
// completed or ctx ended. Frames still queued afterwards go back to the
// decoder.
func (b *Bridge) Run(ctx context.Context) {
	defer func() {
		for _, f := range b.cfg.Queue.Drain() {
			b.cfg.ReleaseDecoded(f.Token)
		}
		b.doneOnce.Do(func() { close(b.done) })
	}()
	for {
		if ctx.Err() != nil || b.cfg.Completion.InputDone() {
			return
		}
		f, ok := b.cfg.Queue.Pop(ctx, b.cfg.PollTimeout)
		if !ok {
			continue
		}
		if !b.forward(ctx, f) {
			return
		}
	}
}

// forward handles one decoded frame and reports whether to continue.
func (b *Bridge) forward(ctx context.Context, f Frame) bool {
	eos := f.Token.Info.Flags.Has(codec.FlagEndOfStream)
	if len(f.Data) == 0 || f.Token.Info.Size == 0 {
		if eos {
			b.submitEOS(ctx, f)
			return false
		}
		b.cfg.ReleaseDecoded(f.Token)
		return true
	}

	idx := b.frame
	b.frame++
	decPTS := f.PTS()
	now := b.cfg.Clock.Now()
	if !b.haveFirst {
		b.firstDec, b.haveFirst, b.startWall = decPTS, true, now
	}
	if b.cfg.Gate != nil {
		if drop, reason := b.cfg.Gate.Decide(idx, eos); drop {
			b.gated.Add(1)
			metrics.FramesSkipped.WithLabelValues(reason).Inc()
			b.cfg.ReleaseDecoded(f.Token)
			return true
		}
	}
	if !eos && b.drifting(now, decPTS) {
		b.dropped.Add(1)
		metrics.FramesSkipped.WithLabelValues(metrics.SkipDrift).Inc()
		b.cfg.ReleaseDecoded(f.Token)
		return true
	}

	tok, ok := b.takeEncoderInput(ctx, b.cfg.PollTimeout)
	if !ok {
		b.cfg.ReleaseDecoded(f.Token)
		return false
	}
	buf, err := b.cfg.Encoder.InputBuffer(tok.Index)
	if err != nil {
		return b.encoderFailed(tok, f, err)
	}
	n, err := Repack(buf, b.cfg.EncoderLayout(), f.Data, b.cfg.DecoderLayout())
	if err != nil && !b.warned {
		b.warned = true
		b.logger.Warn().Str(log.FieldEvent, "bridge.layout_mismatch").Err(err).Msg("decoded frame does not fit encoder input")
	}

	pts := b.cfg.PTSBaseUs + (decPTS - b.firstDec)
	if b.forwarded.Load() > 0 && pts <= b.lastPTS {
		pts = b.lastPTS + 1
	}
	var flags codec.BufferFlags
	if eos {
		flags = codec.FlagEndOfStream
	}
	if b.cfg.OnSubmit != nil {
		b.cfg.OnSubmit(idx, pts, n, flags)
	}
	if err := b.cfg.Encoder.QueueInputBuffer(tok.Index, 0, n, pts, flags); err != nil {
		return b.encoderFailed(tok, f, err)
	}
	b.cfg.ReleaseDecoded(f.Token)
	b.lastPTS = pts
	count := b.forwarded.Add(1)
	metrics.FramesSubmitted.WithLabelValues("encoder").Inc()
	b.every.Do(func() {
		b.logger.Info().
			Str(log.FieldEvent, "bridge.progress").
			Int64("forwarded", count).
			Int64("dropped", b.Dropped()).
			Int64("gated", b.Gated()).
			Int("queue_high_water", b.HighWater()).
			Msg("transcoding")
	})
	if eos {
		b.eosSent.Store(true)
		b.cfg.Completion.MarkInputDone()
		return false
	}
	return true
}

// drifting applies the realtime drop policy: drop while wall time runs
// ahead of media time by more than the allowed factor, but never more than
// MaxDriftDrops frames in a row.
func (b *Bridge) drifting(now time.Time, decPTS int64) bool {
	if !b.cfg.Realtime || b.cfg.IntervalUs <= 0 {
		return false
	}
	wall := now.Sub(b.startWall)
	media := time.Duration(decPTS-b.firstDec) * time.Microsecond
	limit := time.Duration(b.cfg.DriftFactor * b.cfg.IntervalUs * float64(time.Microsecond))
	if wall-media <= limit {
		b.streak = 0
		return false
	}
	if b.streak >= b.cfg.MaxDriftDrops {
		b.streak = 0
		return false
	}
	b.streak++
	return true
}

func (b *Bridge) takeEncoderInput(ctx context.Context, poll time.Duration) (pool.Token, bool) {
	for {
		if ctx.Err() != nil || b.cfg.Completion.InputDone() {
			return pool.Token{}, false
		}
		if tok, ok := b.cfg.EncoderView.Take(ctx, poll); ok {
			return tok, true
		}
	}
}

func (b *Bridge) encoderFailed(tok pool.Token, f Frame, err error) bool {
	_ = b.cfg.EncoderView.Offer(tok)
	b.cfg.ReleaseDecoded(f.Token)
	metrics.RecordCodecError("bridge_queue", codec.IsTransient(err))
	b.logger.Error().Str(log.FieldEvent, "bridge.encoder_failed").Err(err).Msg("encoder rejected decoded frame")
	if codec.IsTransient(err) {
		return true
	}
	if !errors.Is(err, codec.ErrIllegalState) {
		b.cfg.Completion.ForceComplete(ReasonEncoder)
	}
	return false
}

func (b *Bridge) submitEOS(ctx context.Context, f Frame) {
	defer func() {
		if f.Token.Index >= 0 {
			b.cfg.ReleaseDecoded(f.Token)
		}
	}()
	if b.eosSent.Swap(true) {
		return
	}
	tctx, cancel := context.WithTimeout(ctx, b.cfg.EOSTimeout)
	defer cancel()
	tok, ok := b.takeEncoderInput(tctx, b.cfg.PollTimeout)
	if !ok {
		if ctx.Err() != nil {
			return
		}
		metrics.RecordEOSTimeout()
		b.logger.Error().Str(log.FieldEvent, "bridge.eos_timeout").Dur("timeout", b.cfg.EOSTimeout).Msg("no encoder input for end-of-stream")
		b.cfg.Completion.ForceComplete(ReasonEOSTimeout)
		return
	}
	pts := b.cfg.PTSBaseUs
	if b.forwarded.Load() > 0 {
		pts = b.lastPTS + 1
	}
	if err := b.cfg.Encoder.QueueInputBuffer(tok.Index, 0, 0, pts, codec.FlagEndOfStream); err != nil {
		_ = b.cfg.EncoderView.Offer(tok)
		b.logger.Error().Str(log.FieldEvent, "bridge.eos_failed").Err(err).Msg("encoder rejected end-of-stream")
		b.cfg.Completion.ForceComplete(ReasonEOSRejected)
		return
	}
	b.logger.Debug().
		Str(log.FieldEvent, "bridge.eos").
		Int64("forwarded", b.Forwarded()).
		Int64("dropped", b.Dropped()).
		Int("queue_high_water", b.HighWater()).
		Msg("end of stream forwarded to encoder")
	b.cfg.Completion.MarkInputDone()
}
