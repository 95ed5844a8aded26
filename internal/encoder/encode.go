// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package encoder

import (
	"context"
	"fmt"

	"github.com/ManuGH/encbench/internal/codec"
	"github.com/ManuGH/encbench/internal/config"
	"github.com/ManuGH/encbench/internal/log"
	"github.com/ManuGH/encbench/internal/pipeline/clock"
	"github.com/ManuGH/encbench/internal/pipeline/drainer"
	"github.com/ManuGH/encbench/internal/pipeline/feeder"
	"github.com/ManuGH/encbench/internal/source"
)

// encodeRunner encodes raw frames. Threaded runs feed and drain on their
// own goroutines; otherwise one goroutine alternates both.
type encodeRunner struct {
	*session
	threaded bool

	enc     codec.Codec
	views   *views
	feeder  *feeder.Feeder
	drainer *drainer.Drainer
}

// Start implements Runner.
func (r *encodeRunner) Start(ctx context.Context) error {
	r.begin(ctx)
	if err := r.setup(); err != nil {
		return r.abort(fmt.Errorf("test %s: %w", r.test.Common.ID, err))
	}

	runCtx := r.runContext()
	if r.threaded {
		r.addWorker("feeder", r.feeder.Done())
		r.addWorker("drainer", r.drainer.Done())
		go r.feeder.Run(runCtx)
		go r.drainer.Run(runCtx)
	} else {
		done := make(chan struct{})
		r.addWorker("loop", done)
		go r.loop(runCtx, done)
	}
	r.collect = r.fill
	r.launched()
	return nil
}

func (r *encodeRunner) setup() error {
	t := r.test
	opts := r.opts

	inRes, err := config.ParseResolution(t.Input.Resolution)
	if err != nil {
		return fmt.Errorf("input resolution: %w", err)
	}
	outRes := inRes
	if t.Configure.Resolution != "" {
		if outRes, err = config.ParseResolution(t.Configure.Resolution); err != nil {
			return fmt.Errorf("configure resolution: %w", err)
		}
	}
	if outRes != inRes {
		return fmt.Errorf("scaling %s input to %s is not supported", inRes, outRes)
	}
	pf, err := source.ParsePixelFormat(t.Input.PixFmt)
	if err != nil {
		return err
	}

	info, enc, err := resolve(opts.Registry, t.Configure.Codec, t.Configure.Mime, true)
	if err != nil {
		return err
	}
	r.enc = enc
	r.addCodec(enc)
	r.stats.PushTimestamp("encoder.create")
	r.stats.SetCodec(info.Name, info.Hardware)

	mux, err := r.openMuxer(info.Mime)
	if err != nil {
		return err
	}

	var dr *drainer.Drainer
	v, err := r.attach(enc, info, r.threaded, "encoder", func(f codec.Format) { dr.OnFormatChanged(f) })
	if err != nil {
		return err
	}
	r.views = v
	r.addPools(v, enc)

	dcfg := drainer.Config{
		Role:               "encoder",
		Codec:              enc,
		View:               v.output,
		Completion:         r.ctl,
		Stats:              r.stats,
		PTSBaseUs:          t.Setup.PTSBase(),
		PreserveTimestamps: t.Setup.PreserveTimestamps,
		PollTimeout:        t.Setup.PollTimeout,
	}
	if mux != nil {
		dcfg.Muxer = mux
	}
	dr = drainer.New(r.runContext(), dcfg)
	r.drainer = dr

	format, err := encoderFormat(t, info.Mime, outRes, pf.ColorFormat())
	if err != nil {
		return err
	}
	if err := enc.Configure(format); err != nil {
		return fmt.Errorf("configure %s: %w", info.Name, err)
	}
	r.stats.PushTimestamp("encoder.configure")
	r.stats.SetEncoderConfigFormat(format)

	src, err := source.Open(t.Input.Filepath, pf, inRes.Width, inRes.Height)
	if err != nil {
		return err
	}
	filler := feeder.NewRawFiller(src, source.LayoutFromFormat(enc.InputFormat()))
	r.addSource("input", filler.Close)

	sched, err := schedule(t.Runtime)
	if err != nil {
		return err
	}

	if err := enc.Start(); err != nil {
		return fmt.Errorf("start %s: %w", info.Name, err)
	}
	r.stats.PushTimestamp("encoder.start")

	pacer := clock.NewFrameClock(opts.Clock, t.Configure.Framerate)
	r.feeder = feeder.New(r.runContext(), feeder.Config{
		Role:             "encoder",
		Codec:            enc,
		View:             v.input,
		Filler:           filler,
		Completion:       r.ctl,
		Gate:             frameGate(t.Input.Framerate, t.Configure.Framerate, t.Runtime, pacer),
		Schedule:         sched,
		Pacer:            pacer,
		Realtime:         t.Input.Realtime,
		PTSBaseUs:        t.Setup.PTSBase(),
		IntervalUs:       clock.FrameIntervalUs(t.Input.Framerate),
		PlayoutFrames:    t.Input.PlayoutFrames,
		StopTimeSec:      t.Input.StoptimeSec,
		PollTimeout:      t.Setup.PollTimeout,
		EOSTimeout:       t.Setup.EOSTimeout,
		FailureThreshold: t.Setup.FailureThreshold,
		OnSubmit: func(frame int, ptsUs int64, _ int, _ codec.BufferFlags) {
			r.stats.StartEncodingFrame(ptsUs, frame)
			r.ctl.Counters.Submitted.Add(1)
		},
	})

	r.logger.Debug().
		Str(log.FieldEvent, "encoder.configured").
		Str(log.FieldCodec, info.Name).
		Str(log.FieldMime, info.Mime).
		Bool("callbacks", v.asynchronous).
		Str("input_layout", source.LayoutFromFormat(enc.InputFormat()).String()).
		Msg("encoder configured")
	return nil
}

// loop drives a polled codec from a single goroutine.
func (r *encodeRunner) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	feeding := true
	for ctx.Err() == nil && !r.ctl.OutputDone() {
		if feeding {
			feeding = r.feeder.Iterate(ctx)
			if !feeding && !r.ctl.InputDone() {
				r.ctl.ForceComplete(ReasonInputStopped)
			}
		}
		if tok, ok := r.views.output.Take(ctx, r.test.Setup.PollTimeout); ok && r.drainer.Handle(tok) {
			return
		}
	}
}

func (r *encodeRunner) fill(res *Result) {
	res.Loops = r.feeder.Loops()
	res.Dropped = r.drainer.Dropped()
	r.ctl.Counters.Encoded.Store(r.drainer.Frames())
	r.ctl.Counters.Skipped.Store(r.feeder.Skipped() + r.drainer.Dropped())
}
