// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fakecodec is a simulated hardware codec. It honours the full
// buffer-queue contract in both driving modes, produces payloads of the
// size a rate-controlled encoder would, reports decoded frames with padded
// strides like real hardware does, and records every ownership violation.
package fakecodec

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/encbench/internal/codec"
	"github.com/ManuGH/encbench/internal/source"
)

// ErrNotOwned is returned when a buffer is handed back that the client does
// not own.
var ErrNotOwned = errors.New("fakecodec: buffer not owned by client")

type state string

const (
	stateUninitialized state = "uninitialized"
	stateConfigured    state = "configured"
	stateRunning       state = "running"
	stateStopped       state = "stopped"
	stateReleased      state = "released"
)

// Config tunes a simulated codec instance.
type Config struct {
	Name    string
	Mime    string
	Encoder bool

	InputBuffers  int // default 4
	OutputBuffers int // default 4

	// Latency is the processing time per input buffer.
	Latency time.Duration

	// StrideAlign and SliceAlign pad the raw side of the codec: decoder
	// output or encoder input. Zero means no padding.
	StrideAlign int
	SliceAlign  int

	// ErrorAtFrame reports a codec error after this many inputs were
	// processed (0 disables). ErrorTransient selects its class.
	ErrorAtFrame   int
	ErrorTransient bool
}

func (c *Config) applyDefaults() {
	if c.InputBuffers <= 0 {
		c.InputBuffers = 4
	}
	if c.OutputBuffers <= 0 {
		c.OutputBuffers = 4
	}
	if c.Name == "" {
		c.Name = "c2.fake.encoder"
	}
}

type work struct {
	index int
	size  int
	pts   int64
	flags codec.BufferFlags
}

// Codec is a simulated codec. The zero value is not usable; call New.
type Codec struct {
	cfg Config

	mu      sync.Mutex
	changed chan struct{}
	state   state
	cb      codec.Callback

	inFormat  codec.Format
	outFormat codec.Format
	rawLayout source.Layout

	inBufs   [][]byte
	outBufs  [][]byte
	outInfo  []codec.BufferInfo
	freeIn   []int
	inOwned  map[int]bool
	freeOut  []int
	outOwned map[int]bool
	pending  []work
	ready    []int

	formatPending   bool
	formatAnnounced bool
	configSent      bool
	eosSent         bool
	errorSent       bool
	pendingErr      *codec.Error

	bitrate       int64
	fps           float64
	iFrameSeconds int64
	syncRequested bool
	processed     int
	lastKey       int

	applied    []codec.Params
	violations []string

	stop chan struct{}
	wg   sync.WaitGroup
}

// New returns an unconfigured simulated codec.
func New(cfg Config) *Codec {
	cfg.applyDefaults()
	return &Codec{
		cfg:      cfg,
		changed:  make(chan struct{}),
		state:    stateUninitialized,
		inOwned:  make(map[int]bool),
		outOwned: make(map[int]bool),
	}
}

// Name implements codec.Codec.
func (c *Codec) Name() string { return c.cfg.Name }

// broadcast wakes every waiter. Caller must hold c.mu.
func (c *Codec) broadcast() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// SetCallback implements codec.AsyncCodec.
func (c *Codec) SetCallback(cb codec.Callback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateUninitialized {
		return fmt.Errorf("set callback in state %s: %w", c.state, codec.ErrIllegalState)
	}
	c.cb = cb
	return nil
}

func align(v, a int) int {
	if a <= 1 {
		return v
	}
	return (v + a - 1) / a * a
}

// Configure implements codec.Codec.
func (c *Codec) Configure(format codec.Format) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateUninitialized {
		return fmt.Errorf("configure in state %s: %w", c.state, codec.ErrIllegalState)
	}
	w := int(format.IntOr(codec.KeyWidth, 0))
	h := int(format.IntOr(codec.KeyHeight, 0))
	if w <= 0 || h <= 0 {
		return fmt.Errorf("configure %s: missing width/height", c.cfg.Name)
	}
	if c.cfg.Encoder {
		if _, ok := format.Int(codec.KeyBitrate); !ok {
			return fmt.Errorf("configure %s: bitrate is required", c.cfg.Name)
		}
	}

	c.fps = 30
	if fps, ok := format.Float(codec.KeyFrameRate); ok && fps > 0 {
		c.fps = fps
	}
	c.bitrate = format.IntOr(codec.KeyBitrate, 0)
	c.iFrameSeconds = format.IntOr(codec.KeyIFrameInterval, 10)

	colorFormat := format.IntOr(codec.KeyColorFormat, codec.ColorFormatYUV420Planar)
	if colorFormat == codec.ColorFormatYUV420Flexible {
		colorFormat = codec.ColorFormatYUV420Planar
	}
	c.rawLayout = source.Layout{
		Width:       w,
		Height:      h,
		Stride:      align(w, c.cfg.StrideAlign),
		SliceHeight: align(h, c.cfg.SliceAlign),
		SemiPlanar:  colorFormat == codec.ColorFormatYUV420SemiPlanar,
	}
	rawFormat := codec.Format{
		codec.KeyMime:        codec.StringValue(codec.MimeRaw),
		codec.KeyWidth:       codec.IntValue(int64(w)),
		codec.KeyHeight:      codec.IntValue(int64(h)),
		codec.KeyStride:      codec.IntValue(int64(c.rawLayout.Stride)),
		codec.KeySliceHeight: codec.IntValue(int64(c.rawLayout.SliceHeight)),
		codec.KeyColorFormat: codec.IntValue(colorFormat),
	}
	compressed := format.Clone()
	compressed[codec.KeyMime] = codec.StringValue(c.cfg.Mime)

	if c.cfg.Encoder {
		c.inFormat, c.outFormat = rawFormat, compressed
	} else {
		c.inFormat, c.outFormat = compressed, rawFormat
	}
	c.state = stateConfigured
	return nil
}

// Start implements codec.Codec.
func (c *Codec) Start() error {
	c.mu.Lock()
	if c.state != stateConfigured && c.state != stateStopped {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("start in state %s: %w", st, codec.ErrIllegalState)
	}
	c.allocate()
	c.state = stateRunning
	c.stop = make(chan struct{})
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run()
	return nil
}

// allocate resets buffer bookkeeping. Caller must hold c.mu.
func (c *Codec) allocate() {
	inSize := c.rawLayout.Size()
	outSize := c.rawLayout.Size()
	if c.cfg.Encoder {
		// compressed output never exceeds a raw frame here
		outSize = max(outSize, 4096)
	} else {
		inSize = int(c.inFormat.IntOr(codec.KeyMaxInputSize, int64(max(inSize, 64*1024))))
	}

	c.inBufs = make([][]byte, c.cfg.InputBuffers)
	c.freeIn = c.freeIn[:0]
	for i := range c.inBufs {
		c.inBufs[i] = make([]byte, inSize)
		c.freeIn = append(c.freeIn, i)
	}
	c.outBufs = make([][]byte, c.cfg.OutputBuffers)
	c.outInfo = make([]codec.BufferInfo, c.cfg.OutputBuffers)
	c.freeOut = c.freeOut[:0]
	for i := range c.outBufs {
		c.outBufs[i] = make([]byte, outSize)
		c.freeOut = append(c.freeOut, i)
	}
	clear(c.inOwned)
	clear(c.outOwned)
	c.pending = nil
	c.ready = nil
}

// Stop implements codec.Codec. Buffers held by the client become invalid.
func (c *Codec) Stop() error {
	c.mu.Lock()
	if c.state != stateRunning {
		st := c.state
		c.mu.Unlock()
		if st == stateStopped {
			return nil
		}
		return fmt.Errorf("stop in state %s: %w", st, codec.ErrIllegalState)
	}
	c.state = stateStopped
	close(c.stop)
	c.broadcast()
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	c.pending = nil
	c.ready = nil
	clear(c.inOwned)
	clear(c.outOwned)
	c.mu.Unlock()
	return nil
}

// Flush implements codec.Codec: queued work is discarded and every buffer
// returns to the codec.
func (c *Codec) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateRunning {
		return fmt.Errorf("flush in state %s: %w", c.state, codec.ErrIllegalState)
	}
	for _, w := range c.pending {
		c.freeIn = append(c.freeIn, w.index)
	}
	c.pending = nil
	for _, idx := range c.ready {
		c.freeOut = append(c.freeOut, idx)
	}
	c.ready = nil
	for idx := range c.outOwned {
		c.freeOut = append(c.freeOut, idx)
	}
	clear(c.outOwned)
	c.broadcast()
	return nil
}

// Release implements codec.Codec. Releasing twice is a no-op.
func (c *Codec) Release() error {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	if st == stateReleased {
		return nil
	}
	if st == stateRunning {
		if err := c.Stop(); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.state = stateReleased
	c.inBufs, c.outBufs = nil, nil
	c.broadcast()
	c.mu.Unlock()
	return nil
}

// InputFormat implements codec.Codec.
func (c *Codec) InputFormat() codec.Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFormat.Clone()
}

// OutputFormat implements codec.Codec.
func (c *Codec) OutputFormat() codec.Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outFormat.Clone()
}

// SetParameters implements codec.Codec.
func (c *Codec) SetParameters(params codec.Params) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateRunning {
		return fmt.Errorf("set parameters in state %s: %w", c.state, codec.ErrIllegalState)
	}
	c.applied = append(c.applied, params)
	if v, ok := params[codec.ParamVideoBitrate]; ok {
		c.bitrate = v.AsInt()
		c.outFormat[codec.KeyBitrate] = codec.IntValue(c.bitrate)
	}
	if _, ok := params[codec.ParamRequestSyncFrame]; ok {
		c.syncRequested = true
	}
	return nil
}

// Applied returns every parameter bundle received, in order.
func (c *Codec) Applied() []codec.Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]codec.Params(nil), c.applied...)
}

// Violations returns the ownership violations observed so far.
func (c *Codec) Violations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.violations...)
}

// Processed returns how many input buffers were consumed.
func (c *Codec) Processed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processed
}

// Outstanding returns how many buffers the client currently owns.
func (c *Codec) Outstanding() (inputs, outputs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inOwned), len(c.outOwned)
}
