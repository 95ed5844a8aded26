// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package swcodec exposes a function-call software encoder through the
// synchronous buffer-queue contract.
package swcodec

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/encbench/internal/codec"
	"github.com/ManuGH/encbench/internal/source"
)

// ErrUnsupported is returned by Init for formats an encoder cannot handle.
var ErrUnsupported = errors.New("swcodec: unsupported format")

// Packet is one unit of encoder output.
type Packet struct {
	Data   []byte
	PTSUs  int64
	Key    bool
	Config bool
}

// Encoder is a synchronous software encoder.
type Encoder interface {
	// Init prepares the encoder for frames described by format and returns
	// the output format.
	Init(format codec.Format) (codec.Format, error)
	Encode(frame []byte, ptsUs int64, forceKey bool) ([]Packet, error)
	// Flush returns any delayed packets.
	Flush() ([]Packet, error)
	SetBitrate(bps int64)
	Close() error
}

const defaultBuffers = 4

type output struct {
	data []byte
	info codec.BufferInfo
}

// Adapter drives an Encoder from queued input buffers. It implements
// codec.SyncCodec. Encoding happens inline in QueueInputBuffer, so outputs
// are available as soon as it returns.
type Adapter struct {
	name string
	enc  Encoder

	mu         sync.Mutex
	changed    chan struct{}
	configured bool
	running    bool
	released   bool
	inFormat   codec.Format
	outFormat  codec.Format

	inBufs     [][]byte
	freeIn     []int
	inOwned    map[int]bool
	slots      []output
	freeOut    []int
	ready      []int
	outOwned   map[int]bool
	backlog    []Packet
	newFormat  bool
	forceKey   bool
	eosPending bool
	eosPTS     int64
}

// New wraps enc.
func New(name string, enc Encoder) *Adapter {
	return &Adapter{
		name:     name,
		enc:      enc,
		changed:  make(chan struct{}),
		inOwned:  make(map[int]bool),
		outOwned: make(map[int]bool),
	}
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) broadcast() {
	close(a.changed)
	a.changed = make(chan struct{})
}

func (a *Adapter) Configure(format codec.Format) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.configured || a.released {
		return fmt.Errorf("configure %s: %w", a.name, codec.ErrIllegalState)
	}
	w := int(format.IntOr(codec.KeyWidth, 0))
	h := int(format.IntOr(codec.KeyHeight, 0))
	if w <= 0 || h <= 0 {
		return fmt.Errorf("configure %s: missing width/height", a.name)
	}
	out, err := a.enc.Init(format)
	if err != nil {
		return fmt.Errorf("configure %s: %w", a.name, err)
	}
	a.inFormat = codec.Format{
		codec.KeyMime:        codec.StringValue(codec.MimeRaw),
		codec.KeyWidth:       codec.IntValue(int64(w)),
		codec.KeyHeight:      codec.IntValue(int64(h)),
		codec.KeyColorFormat: codec.IntValue(codec.ColorFormatYUV420Planar),
	}
	a.outFormat = out
	a.configured = true
	return nil
}

func (a *Adapter) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.configured || a.running || a.released {
		return fmt.Errorf("start %s: %w", a.name, codec.ErrIllegalState)
	}
	size := source.FrameSize(int(a.inFormat.IntOr(codec.KeyWidth, 0)), int(a.inFormat.IntOr(codec.KeyHeight, 0)))
	a.inBufs = make([][]byte, defaultBuffers)
	a.freeIn = a.freeIn[:0]
	for i := range a.inBufs {
		a.inBufs[i] = make([]byte, size)
		a.freeIn = append(a.freeIn, i)
	}
	a.slots = make([]output, defaultBuffers)
	a.freeOut = a.freeOut[:0]
	for i := range a.slots {
		a.freeOut = append(a.freeOut, i)
	}
	a.ready = nil
	a.backlog = nil
	a.newFormat = true
	a.running = true
	return nil
}

func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		if a.configured && !a.released {
			return nil
		}
		return fmt.Errorf("stop %s: %w", a.name, codec.ErrIllegalState)
	}
	a.running = false
	clear(a.inOwned)
	clear(a.outOwned)
	a.broadcast()
	return nil
}

func (a *Adapter) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return fmt.Errorf("flush %s: %w", a.name, codec.ErrIllegalState)
	}
	a.freeOut = append(a.freeOut, a.ready...)
	a.ready = nil
	a.backlog = nil
	return nil
}

func (a *Adapter) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return nil
	}
	a.running = false
	a.released = true
	a.broadcast()
	return a.enc.Close()
}

func (a *Adapter) InputFormat() codec.Format {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFormat.Clone()
}

func (a *Adapter) OutputFormat() codec.Format {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outFormat.Clone()
}

func (a *Adapter) SetParameters(params codec.Params) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return fmt.Errorf("set parameters %s: %w", a.name, codec.ErrIllegalState)
	}
	if v, ok := params[codec.ParamVideoBitrate]; ok {
		a.enc.SetBitrate(v.AsInt())
		a.outFormat[codec.KeyBitrate] = codec.IntValue(v.AsInt())
	}
	if _, ok := params[codec.ParamRequestSyncFrame]; ok {
		a.forceKey = true
	}
	return nil
}

func (a *Adapter) InputBuffer(index int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil, fmt.Errorf("input buffer %s: %w", a.name, codec.ErrIllegalState)
	}
	if !a.inOwned[index] {
		return nil, fmt.Errorf("input buffer %d not owned", index)
	}
	return a.inBufs[index], nil
}

func (a *Adapter) OutputBuffer(index int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil, fmt.Errorf("output buffer %s: %w", a.name, codec.ErrIllegalState)
	}
	if !a.outOwned[index] {
		return nil, fmt.Errorf("output buffer %d not owned", index)
	}
	return a.slots[index].data, nil
}

// QueueInputBuffer encodes the frame before returning.
func (a *Adapter) QueueInputBuffer(index, offset, size int, ptsUs int64, flags codec.BufferFlags) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return fmt.Errorf("queue input %s: %w", a.name, codec.ErrIllegalState)
	}
	if !a.inOwned[index] {
		return fmt.Errorf("queue input %d not owned", index)
	}
	delete(a.inOwned, index)
	a.freeIn = append(a.freeIn, index)
	defer a.broadcast()

	if size > 0 {
		pkts, err := a.enc.Encode(a.inBufs[index][offset:offset+size], ptsUs, a.forceKey)
		a.forceKey = false
		if err != nil {
			return &codec.Error{Op: "encode", Err: err}
		}
		a.backlog = append(a.backlog, pkts...)
	}
	if flags.Has(codec.FlagEndOfStream) {
		pkts, err := a.enc.Flush()
		if err != nil {
			return &codec.Error{Op: "flush", Err: err}
		}
		a.backlog = append(a.backlog, pkts...)
		a.eosPending = true
		a.eosPTS = ptsUs
	}
	a.fill()
	return nil
}

// fill moves backlog packets into free output slots. Caller holds a.mu.
func (a *Adapter) fill() {
	for len(a.freeOut) > 0 {
		var out output
		switch {
		case len(a.backlog) > 0:
			p := a.backlog[0]
			a.backlog = a.backlog[1:]
			var flags codec.BufferFlags
			if p.Key {
				flags |= codec.FlagKeyFrame
			}
			if p.Config {
				flags |= codec.FlagCodecConfig
			}
			out = output{data: p.Data, info: codec.BufferInfo{Size: len(p.Data), PresentationTimeUs: p.PTSUs, Flags: flags}}
		case a.eosPending:
			a.eosPending = false
			out = output{info: codec.BufferInfo{PresentationTimeUs: a.eosPTS, Flags: codec.FlagEndOfStream}}
		default:
			return
		}
		idx := a.freeOut[0]
		a.freeOut = a.freeOut[1:]
		a.slots[idx] = out
		a.ready = append(a.ready, idx)
	}
}

func (a *Adapter) ReleaseOutputBuffer(index int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return fmt.Errorf("release output %s: %w", a.name, codec.ErrIllegalState)
	}
	if !a.outOwned[index] {
		return fmt.Errorf("release output %d not owned", index)
	}
	delete(a.outOwned, index)
	a.slots[index] = output{}
	a.freeOut = append(a.freeOut, index)
	a.fill()
	a.broadcast()
	return nil
}

func (a *Adapter) await(timeout time.Duration, ready func() bool) bool {
	deadline := time.Now().Add(timeout)
	for !ready() {
		left := time.Until(deadline)
		if left <= 0 || !a.running {
			return false
		}
		ch := a.changed
		a.mu.Unlock()
		select {
		case <-ch:
		case <-time.After(left):
		}
		a.mu.Lock()
	}
	return true
}

func (a *Adapter) DequeueInputBuffer(timeout time.Duration) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return 0, fmt.Errorf("dequeue input %s: %w", a.name, codec.ErrIllegalState)
	}
	if !a.await(timeout, func() bool { return len(a.freeIn) > 0 }) {
		return codec.InfoTryAgainLater, nil
	}
	idx := a.freeIn[0]
	a.freeIn = a.freeIn[1:]
	a.inOwned[idx] = true
	return idx, nil
}

func (a *Adapter) DequeueOutputBuffer(timeout time.Duration) (int, codec.BufferInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return 0, codec.BufferInfo{}, fmt.Errorf("dequeue output %s: %w", a.name, codec.ErrIllegalState)
	}
	if a.newFormat {
		a.newFormat = false
		return codec.InfoOutputFormatChanged, codec.BufferInfo{}, nil
	}
	if !a.await(timeout, func() bool { return len(a.ready) > 0 }) {
		return codec.InfoTryAgainLater, codec.BufferInfo{}, nil
	}
	idx := a.ready[0]
	a.ready = a.ready[1:]
	a.outOwned[idx] = true
	return idx, a.slots[idx].info, nil
}
