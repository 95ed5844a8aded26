// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package encoder

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ManuGH/encbench/internal/codec"
	"github.com/ManuGH/encbench/internal/config"
	"github.com/ManuGH/encbench/internal/log"
	"github.com/ManuGH/encbench/internal/pipeline/bridge"
	"github.com/ManuGH/encbench/internal/pipeline/clock"
	"github.com/ManuGH/encbench/internal/pipeline/completion"
	"github.com/ManuGH/encbench/internal/pipeline/drainer"
	"github.com/ManuGH/encbench/internal/pipeline/feeder"
	"github.com/ManuGH/encbench/internal/pipeline/gate"
	"github.com/ManuGH/encbench/internal/pipeline/pool"
	"github.com/ManuGH/encbench/internal/source"
)

// upstream tracks the input side of the decoder. The run's own input flag
// belongs to the encoder; a forced completion still stops the decoder.
type upstream struct {
	ctl       *completion.Controller
	inputDone atomic.Bool
}

func (u *upstream) MarkInputDone()              { u.inputDone.Store(true) }
func (u *upstream) InputDone() bool             { return u.inputDone.Load() || u.ctl.OutputDone() }
func (u *upstream) ForceComplete(reason string) { u.ctl.ForceComplete(reason) }

// transcodeRunner decodes compressed samples and, unless the test only
// decodes, re-encodes the decoded frames.
type transcodeRunner struct {
	*session

	dec        codec.Codec
	enc        codec.Codec
	decFeeder  *feeder.Feeder
	decDrainer *drainer.Drainer
	encDrainer *drainer.Drainer
	bridge     *bridge.Bridge
	filler     *feeder.SampleFiller
}

// Start implements Runner.
func (r *transcodeRunner) Start(ctx context.Context) error {
	r.begin(ctx)
	if err := r.setup(); err != nil {
		return r.abort(fmt.Errorf("test %s: %w", r.test.Common.ID, err))
	}

	runCtx := r.runContext()
	r.addWorker("decoder_feeder", r.decFeeder.Done())
	r.addWorker("decoder_drainer", r.decDrainer.Done())
	go r.decFeeder.Run(runCtx)
	go r.decDrainer.Run(runCtx)
	if r.bridge != nil {
		r.addWorker("bridge", r.bridge.Done())
		r.addWorker("encoder_drainer", r.encDrainer.Done())
		go r.bridge.Run(runCtx)
		go r.encDrainer.Run(runCtx)
	}
	r.collect = r.fill
	r.launched()
	return nil
}

func (r *transcodeRunner) setup() error {
	t := r.test
	runCtx := r.runContext()

	ivf, err := source.OpenIVF(t.Input.Filepath)
	if err != nil {
		return err
	}
	r.addSource("input", ivf.Close)
	in := ivf.Info()
	if in.Mime == "" {
		return fmt.Errorf("input %s: unknown fourcc %q", t.Input.Filepath, in.FourCC)
	}
	// an unset input rate was defaulted; the container's own rate wins then
	fps := t.Input.Framerate
	if in.FrameRate > 0 && t.Input.Framerate == config.DefaultInputFramerate {
		fps = in.FrameRate
	}
	intervalUs := clock.FrameIntervalUs(fps)
	r.filler = feeder.NewSampleFiller(ivf, int64(intervalUs))

	decInfo, dec, err := resolve(r.opts.Registry, t.DecoderConfigure.Codec, in.Mime, false)
	if err != nil {
		return fmt.Errorf("decoder: %w", err)
	}
	r.dec = dec
	r.addCodec(dec)
	r.stats.PushTimestamp("decoder.create")
	r.stats.SetDecoder(decInfo.Name, decInfo.Hardware)

	encoding := t.Configure.IsEncode()
	var (
		encInfo codec.Info
		enc     codec.Codec
	)
	if encoding {
		if encInfo, enc, err = resolve(r.opts.Registry, t.Configure.Codec, t.Configure.Mime, true); err != nil {
			return fmt.Errorf("encoder: %w", err)
		}
		r.enc = enc
		r.addCodec(enc)
		r.stats.PushTimestamp("encoder.create")
		r.stats.SetCodec(encInfo.Name, encInfo.Hardware)
	}

	var decDr *drainer.Drainer
	decViews, err := r.attach(dec, decInfo, true, "decoder", func(f codec.Format) { decDr.OnFormatChanged(f) })
	if err != nil {
		return err
	}
	r.addPools(decViews, dec)

	decFormat := codec.Format{
		codec.KeyMime:      codec.StringValue(in.Mime),
		codec.KeyWidth:     codec.IntValue(int64(in.Width)),
		codec.KeyHeight:    codec.IntValue(int64(in.Height)),
		codec.KeyFrameRate: codec.FloatValue(fps),
	}
	if err := applyParameters(decFormat, t.DecoderConfigure.Parameters); err != nil {
		return fmt.Errorf("decoder: %w", err)
	}
	if err := dec.Configure(decFormat); err != nil {
		return fmt.Errorf("configure %s: %w", decInfo.Name, err)
	}
	r.stats.PushTimestamp("decoder.configure")

	decCfg := drainer.Config{
		Role:        "decoder",
		Codec:       dec,
		View:        decViews.output,
		Stats:       r.stats,
		PTSBaseUs:   t.Setup.PTSBase(),
		PollTimeout: t.Setup.PollTimeout,
	}
	decInput := feeder.Completer(r.ctl)
	if encoding {
		if err := r.setupEncoder(runCtx, enc, encInfo, in, fps, &decCfg, func() codec.Format {
			if f := decDr.Format(); f != nil {
				return f
			}
			return dec.OutputFormat()
		}); err != nil {
			return err
		}
		decInput = &upstream{ctl: r.ctl}
	} else {
		decCfg.Completion = r.ctl
	}
	decDr = drainer.New(runCtx, decCfg)
	r.decDrainer = decDr

	decSched, err := schedule(t.DecoderRuntime)
	if err != nil {
		return fmt.Errorf("decoder: %w", err)
	}
	if err := dec.Start(); err != nil {
		return fmt.Errorf("start %s: %w", decInfo.Name, err)
	}
	r.stats.PushTimestamp("decoder.start")
	if encoding {
		if err := enc.Start(); err != nil {
			return fmt.Errorf("start %s: %w", encInfo.Name, err)
		}
		r.stats.PushTimestamp("encoder.start")
	}

	pacer := clock.NewFrameClock(r.opts.Clock, fps)
	r.decFeeder = feeder.New(runCtx, feeder.Config{
		Role:             "decoder",
		Codec:            dec,
		View:             decViews.input,
		Filler:           r.filler,
		Completion:       decInput,
		Gate:             gate.New(fps, fps, gate.WithDropFrames(t.DecoderRuntime.Drop)),
		Schedule:         decSched,
		Pacer:            pacer,
		Realtime:         t.Input.Realtime,
		PTSBaseUs:        t.Setup.PTSBase(),
		IntervalUs:       intervalUs,
		PlayoutFrames:    t.Input.PlayoutFrames,
		StopTimeSec:      t.Input.StoptimeSec,
		PollTimeout:      t.Setup.PollTimeout,
		EOSTimeout:       t.Setup.EOSTimeout,
		FailureThreshold: t.Setup.FailureThreshold,
		OnSubmit: func(_ int, ptsUs int64, size int, flags codec.BufferFlags) {
			r.stats.StartDecodingFrame(ptsUs, int64(size), flags)
			if !encoding {
				r.ctl.Counters.Submitted.Add(1)
			}
		},
	})

	r.logger.Debug().
		Str(log.FieldEvent, "encoder.transcode_configured").
		Str("decoder", decInfo.Name).
		Str(log.FieldMime, in.Mime).
		Int("width", in.Width).
		Int("height", in.Height).
		Float64(log.FieldFPS, fps).
		Bool("encode", encoding).
		Msg("transcode configured")
	return nil
}

// setupEncoder configures the encoder side and the bridge feeding it.
// decCfg is pointed at the bridge.
func (r *transcodeRunner) setupEncoder(ctx context.Context, enc codec.Codec, info codec.Info, in source.StreamInfo, fps float64, decCfg *drainer.Config, decoded func() codec.Format) error {
	t := r.test
	res := config.Resolution{Width: in.Width, Height: in.Height}
	if t.Configure.Resolution != "" {
		var err error
		if res, err = config.ParseResolution(t.Configure.Resolution); err != nil {
			return fmt.Errorf("configure resolution: %w", err)
		}
	}

	mux, err := r.openMuxer(info.Mime)
	if err != nil {
		return err
	}

	var encDr *drainer.Drainer
	v, err := r.attach(enc, info, true, "encoder", func(f codec.Format) { encDr.OnFormatChanged(f) })
	if err != nil {
		return err
	}
	r.addPools(v, enc)

	format, err := encoderFormat(t, info.Mime, res, codec.ColorFormatYUV420Planar)
	if err != nil {
		return err
	}
	if err := enc.Configure(format); err != nil {
		return fmt.Errorf("configure %s: %w", info.Name, err)
	}
	r.stats.PushTimestamp("encoder.configure")
	r.stats.SetEncoderConfigFormat(format)

	cfg := drainer.Config{
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
		cfg.Muxer = mux
	}
	encDr = drainer.New(ctx, cfg)
	r.encDrainer = encDr

	sched, err := schedule(t.Runtime)
	if err != nil {
		return err
	}

	// a target rate defaulted from the input follows the container's rate
	target := t.Configure.Framerate
	if target == t.Input.Framerate {
		target = fps
	}

	r.bridge = bridge.New(ctx, bridge.Config{
		Encoder:        enc,
		EncoderView:    v.input,
		EncoderLayout:  func() source.Layout { return source.LayoutFromFormat(enc.InputFormat()) },
		DecoderLayout:  func() source.Layout { return source.LayoutFromFormat(decoded()) },
		ReleaseDecoded: func(tok pool.Token) { r.decDrainer.Release(tok) },
		Completion:     r.ctl,
		Queue:          bridge.NewQueue(t.Setup.BridgeQueue),
		PTSBaseUs:      t.Setup.PTSBase(),
		Gate:           frameGate(fps, target, t.Runtime, nil),
		Realtime:       t.Input.Realtime,
		Clock:          r.opts.Clock,
		IntervalUs:     clock.FrameIntervalUs(fps),
		DriftFactor:    t.Setup.DriftDropFactor,
		MaxDriftDrops:  t.Setup.MaxDriftDrops,
		PollTimeout:    t.Setup.PollTimeout,
		EOSTimeout:     t.Setup.EOSTimeout,
		OnDecoded: func(pts int64) {
			r.stats.StopDecodingFrame(pts)
			r.ctl.Counters.Decoded.Add(1)
		},
		OnSubmit: func(frame int, ptsUs int64, _ int, _ codec.BufferFlags) {
			if sched != nil {
				if _, err := sched.Apply(frame, enc); err != nil {
					r.logger.Warn().Str(log.FieldEvent, "encoder.runtime_params_failed").Int(log.FieldFrame, frame).Err(err).Msg("runtime parameters rejected")
				}
			}
			r.stats.StartEncodingFrame(ptsUs, frame)
			r.ctl.Counters.Submitted.Add(1)
		},
	})
	decCfg.Handler = r.bridge.Handler(ctx)
	return nil
}

func (r *transcodeRunner) fill(res *Result) {
	res.Loops = r.decFeeder.Loops()
	if r.bridge == nil {
		res.Dropped = r.decDrainer.Dropped()
		r.ctl.Counters.Decoded.Store(r.decDrainer.Frames())
		r.ctl.Counters.Skipped.Store(r.decFeeder.Skipped() + r.decDrainer.Dropped())
		return
	}
	res.Dropped = r.encDrainer.Dropped() + r.bridge.Dropped()
	res.HighWater = r.bridge.HighWater()
	r.ctl.Counters.Encoded.Store(r.encDrainer.Frames())
	r.ctl.Counters.Skipped.Store(r.decFeeder.Skipped() + r.bridge.Gated() + r.bridge.Dropped() + r.encDrainer.Dropped())
}
