// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package drainer consumes codec output buffers: codec config, end of
// stream and data frames, each handled exactly once and handed back to the
// codec unless ownership moves on to the next stage.
package drainer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/encbench/internal/codec"
	"github.com/ManuGH/encbench/internal/log"
	"github.com/ManuGH/encbench/internal/metrics"
	"github.com/ManuGH/encbench/internal/muxer"
	"github.com/ManuGH/encbench/internal/pipeline/pool"
	"github.com/ManuGH/encbench/internal/stats"
)

// DefaultPollTimeout bounds each wait for an output buffer.
const DefaultPollTimeout = 10 * time.Millisecond

// Completer is notified when end-of-stream leaves the codec.
type Completer interface {
	MarkOutputDone()
	OutputDone() bool
}

// ConfigWriter is implemented by muxers that take codec-specific data.
type ConfigWriter interface {
	WriteCodecConfig(track int, data []byte) error
}

// FrameHandler takes over DATA and EOS buffers. It returns true when it
// took ownership of the buffer and will release it itself.
type FrameHandler func(tok pool.Token, data []byte) bool

// Config wires a Drainer.
type Config struct {
	// Role is "encoder" or "decoder".
	Role  string
	Codec codec.Codec
	// View is consumed by Run. Handle can be used without it.
	View       pool.View
	Completion Completer // optional

	Muxer muxer.Muxer       // optional
	Stats *stats.Statistics // optional

	PTSBaseUs          int64
	PreserveTimestamps bool

	PollTimeout time.Duration
	Handler     FrameHandler
}

// Drainer is the output stage of one codec.
type Drainer struct {
	cfg    Config
	logger zerolog.Logger

	mu          sync.Mutex
	format      codec.Format
	pending     codec.Format
	diff        map[string]string
	track       int
	firstPTS    int64
	havePTS     bool
	lastWritten int64
	haveWritten bool
	configSeen  bool
	trackFailed bool

	frames  atomic.Int64
	bytes   atomic.Int64
	dropped atomic.Int64
	eos     atomic.Bool

	done     chan struct{}
	doneOnce sync.Once
}

// New returns a drainer.
func New(ctx context.Context, cfg Config) *Drainer {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.Role == "" {
		cfg.Role = "encoder"
	}
	return &Drainer{
		cfg:    cfg,
		logger: log.WithComponentFromContext(ctx, "drainer").With().Str(log.FieldRole, cfg.Role).Logger(),
		track:  -1,
		done:   make(chan struct{}),
	}
}

// Frames is the number of data buffers handled.
func (d *Drainer) Frames() int64 { return d.frames.Load() }

// Bytes is the payload volume of the data buffers handled.
func (d *Drainer) Bytes() int64 { return d.bytes.Load() }

// Dropped is the number of data buffers released unwritten.
func (d *Drainer) Dropped() int64 { return d.dropped.Load() }

// EOS reports whether end-of-stream was seen.
func (d *Drainer) EOS() bool { return d.eos.Load() }

// Done is closed once end-of-stream was handled or Run returned.
func (d *Drainer) Done() <-chan struct{} { return d.done }

func (d *Drainer) finish() { d.doneOnce.Do(func() { close(d.done) }) }

// Format returns the last output format reported by the codec.
func (d *Drainer) Format() codec.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.format.Clone()
}

// OnFormatChanged records a new output format. It only stores the format,
// so it may run on the codec's callback goroutine; the track is added by
// the next Handle.
func (d *Drainer) OnFormatChanged(format codec.Format) {
	d.mu.Lock()
	d.pending = format.Clone()
	d.mu.Unlock()
}

// applyFormat adopts a pending format change. Caller holds d.mu.
func (d *Drainer) applyFormat() {
	if d.pending == nil {
		return
	}
	next := d.pending
	d.pending = nil
	if d.format != nil {
		if diff := next.Diff(d.format); len(diff) > 0 {
			if d.diff == nil {
				d.diff = make(map[string]string, len(diff))
			}
			for k, v := range diff {
				d.diff[k] = v
			}
		}
	}
	d.format = next
	d.logger.Info().
		Str(log.FieldEvent, "drainer.format_changed").
		Str(log.FieldMime, next.String(codec.KeyMime)).
		Int64("width", next.IntOr(codec.KeyWidth, 0)).
		Int64("height", next.IntOr(codec.KeyHeight, 0)).
		Msg("output format changed")
	if d.cfg.Stats != nil {
		if d.cfg.Role == "decoder" {
			d.cfg.Stats.SetDecoderFormat(next)
		} else {
			d.cfg.Stats.SetEncoderFormat(next)
		}
	}
	d.ensureTrack()
}

// ensureTrack adds and starts the muxer track once. Caller holds d.mu.
func (d *Drainer) ensureTrack() {
	if d.cfg.Muxer == nil || d.track >= 0 || d.trackFailed {
		return
	}
	format := d.format
	if format == nil {
		format = d.cfg.Codec.OutputFormat()
	}
	track, err := d.cfg.Muxer.AddTrack(format)
	if err != nil {
		d.logger.Error().Str(log.FieldEvent, "drainer.add_track_failed").Err(err).Msg("cannot add muxer track")
		d.trackFailed = true
		return
	}
	if err := d.cfg.Muxer.Start(); err != nil {
		d.logger.Error().Str(log.FieldEvent, "drainer.muxer_start_failed").Err(err).Msg("cannot start muxer")
		d.trackFailed = true
		return
	}
	d.track = track
}

// Handle classifies one output buffer. It returns true once end-of-stream
// was handled.
func (d *Drainer) Handle(tok pool.Token) bool {
	info := tok.Info
	d.mu.Lock()
	d.applyFormat()
	d.mu.Unlock()

	switch {
	case info.Flags.Has(codec.FlagCodecConfig):
		d.handleConfig(tok)
		return false
	case info.Flags.Has(codec.FlagEndOfStream) && info.Size == 0:
		return d.handleEOS(tok)
	}

	d.handleData(tok)
	if info.Flags.Has(codec.FlagEndOfStream) {
		// data carrying the EOS flag: the stream ends with this frame
		return d.handleEOS(pool.Token{Index: -1, Info: info})
	}
	return false
}

func (d *Drainer) handleConfig(tok pool.Token) {
	d.mu.Lock()
	first := !d.configSeen
	d.configSeen = true
	d.ensureTrack()
	track := d.track
	d.mu.Unlock()

	if cw, ok := d.cfg.Muxer.(ConfigWriter); ok && track >= 0 {
		if data, err := d.cfg.Codec.OutputBuffer(tok.Index); err == nil {
			if payload, ok := window(data, tok.Info); ok {
				if err := cw.WriteCodecConfig(track, payload); err != nil {
					d.logger.Warn().Str(log.FieldEvent, "drainer.config_write_failed").Err(err).Msg("codec config not written")
				}
			} else {
				d.logger.Warn().
					Str(log.FieldEvent, "drainer.config_out_of_range").
					Int("offset", tok.Info.Offset).
					Int("size", tok.Info.Size).
					Int("capacity", len(data)).
					Msg("codec config outside output buffer")
			}
		}
	}
	if first {
		d.logger.Debug().
			Str(log.FieldEvent, "drainer.codec_config").
			Int("size", tok.Info.Size).
			Msg("codec config received")
	}
	d.release(tok)
}

// window returns the part of buf that info describes.
func window(buf []byte, info codec.BufferInfo) ([]byte, bool) {
	if info.Offset < 0 || info.Size < 0 || info.Offset+info.Size > len(buf) {
		return nil, false
	}
	return buf[info.Offset : info.Offset+info.Size], true
}

func (d *Drainer) handleEOS(tok pool.Token) bool {
	if d.eos.Swap(true) {
		if tok.Index >= 0 {
			d.release(tok)
		}
		return true
	}
	if d.cfg.Handler != nil && tok.Index >= 0 && d.cfg.Handler(tok, nil) {
		tok.Index = -1
	}
	if tok.Index >= 0 {
		d.release(tok)
	}
	d.logger.Debug().
		Str(log.FieldEvent, "drainer.eos").
		Int64("frames", d.Frames()).
		Int64("dropped", d.Dropped()).
		Msg("end of stream reached")
	if d.cfg.Completion != nil {
		d.cfg.Completion.MarkOutputDone()
	}
	d.finish()
	return true
}

func (d *Drainer) handleData(tok pool.Token) {
	info := tok.Info
	data, err := d.cfg.Codec.OutputBuffer(tok.Index)
	if err != nil {
		d.logger.Error().Str(log.FieldEvent, "drainer.output_buffer_failed").Int(log.FieldBufferIndex, tok.Index).Err(err).Msg("cannot read output buffer")
		d.release(tok)
		return
	}
	if w, ok := window(data, info); ok {
		data = w
	}
	d.frames.Add(1)
	d.bytes.Add(int64(info.Size))
	metrics.FramesOutput.WithLabelValues(d.cfg.Role).Inc()

	if d.cfg.Handler != nil {
		if d.cfg.Handler(tok, data) {
			return
		}
		d.release(tok)
		return
	}

	rawPTS := info.PresentationTimeUs
	d.mu.Lock()
	if !d.havePTS {
		d.firstPTS, d.havePTS = rawPTS, true
	}
	ts := rawPTS
	if !d.cfg.PreserveTimestamps {
		ts = d.cfg.PTSBaseUs + (rawPTS - d.firstPTS)
	}
	diff := d.diff
	d.diff = nil
	d.ensureTrack()
	track := d.track
	d.mu.Unlock()

	if ts < 0 {
		d.dropped.Add(1)
		metrics.FramesSkipped.WithLabelValues(metrics.SkipNegative).Inc()
		d.logger.Debug().Str(log.FieldEvent, "drainer.negative_pts").Int64(log.FieldPTS, rawPTS).Msg("frame before stream start released")
		d.release(tok)
		return
	}

	key := info.Flags.Has(codec.FlagKeyFrame)
	if d.cfg.Stats != nil {
		var f *stats.Frame
		if d.cfg.Role == "decoder" {
			f = d.cfg.Stats.StopDecodingFrame(rawPTS)
		} else {
			f = d.cfg.Stats.StopEncodingFrame(rawPTS, int64(info.Size), key)
			metrics.OutputBytes.Add(float64(info.Size))
		}
		if f != nil {
			metrics.ObserveFrameLatency(d.cfg.Role, f.ProcessingTime())
			if len(diff) > 0 {
				d.cfg.Stats.Annotate(f, diff)
			}
		}
	}

	if d.cfg.Muxer != nil && track >= 0 {
		out := info
		out.PresentationTimeUs = ts
		if d.haveWritten && ts <= d.lastWritten {
			d.logger.Warn().
				Str(log.FieldEvent, "drainer.pts_not_increasing").
				Int64(log.FieldPTS, ts).
				Int64("previous", d.lastWritten).
				Msg("output timestamps not increasing")
		}
		if err := d.cfg.Muxer.WriteSampleData(track, data, out); err != nil {
			d.logger.Error().Str(log.FieldEvent, "drainer.write_failed").Err(err).Msg("cannot write sample")
		} else {
			d.lastWritten, d.haveWritten = ts, true
		}
	}
	d.release(tok)
}

// Release hands an output buffer back to the codec. A codec that already
// stopped is tolerated.
func (d *Drainer) Release(tok pool.Token) { d.release(tok) }

func (d *Drainer) release(tok pool.Token) {
	err := d.cfg.Codec.ReleaseOutputBuffer(tok.Index)
	switch {
	case err == nil:
	case errors.Is(err, codec.ErrIllegalState):
		metrics.RecordIgnoredRelease("output_buffer")
		d.logger.Debug().Str(log.FieldEvent, "drainer.release_ignored").Int(log.FieldBufferIndex, tok.Index).Err(err).Msg("codec no longer running")
	default:
		d.logger.Warn().Str(log.FieldEvent, "drainer.release_failed").Int(log.FieldBufferIndex, tok.Index).Err(err).Msg("cannot release output buffer")
	}
}

// Run consumes the view until end-of-stream, forced completion or
// cancellation.
func (d *Drainer) Run(ctx context.Context) {
	defer d.finish()
	for {
		if ctx.Err() != nil || d.EOS() {
			return
		}
		if d.cfg.Completion != nil && d.cfg.Completion.OutputDone() {
			return
		}
		tok, ok := d.cfg.View.Take(ctx, d.cfg.PollTimeout)
		if !ok {
			continue
		}
		if d.Handle(tok) {
			return
		}
	}
}
