// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fakecodec

import (
	"errors"
	"time"

	"github.com/ManuGH/encbench/internal/codec"
)

// run is the codec's dispatch goroutine. It consumes queued inputs, fills
// output buffers and, in callback mode, delivers every notification.
func (c *Codec) run() {
	defer c.wg.Done()

	c.mu.Lock()
	cb := c.cb
	var announce []int
	if cb != nil {
		announce = c.takeFreeInputs()
	}
	c.mu.Unlock()
	for _, idx := range announce {
		cb.OnInputBufferAvailable(idx)
	}

	for {
		c.mu.Lock()
		for !c.runnable() {
			if c.state != stateRunning {
				c.mu.Unlock()
				return
			}
			ch := c.changed
			c.mu.Unlock()
			select {
			case <-ch:
			case <-c.stop:
			}
			c.mu.Lock()
		}
		if c.state != stateRunning {
			c.mu.Unlock()
			return
		}
		events := c.step()
		c.mu.Unlock()

		if !c.deliver(cb, events) {
			return
		}
	}
}

// runnable reports whether step can make progress. Caller holds c.mu.
func (c *Codec) runnable() bool {
	return c.state == stateRunning && len(c.pending) > 0 && len(c.freeOut) > 0
}

// takeFreeInputs hands all free inputs to the client. Caller holds c.mu.
func (c *Codec) takeFreeInputs() []int {
	out := append([]int(nil), c.freeIn...)
	for _, idx := range out {
		c.inOwned[idx] = true
	}
	c.freeIn = c.freeIn[:0]
	return out
}

type events struct {
	format  codec.Format
	outputs []int
	infos   []codec.BufferInfo
	inputs  []int
	err     *codec.Error
	latency time.Duration
}

// step performs one unit of work. Caller holds c.mu.
func (c *Codec) step() events {
	var ev events
	if !c.formatAnnounced {
		c.formatAnnounced = true
		if c.cb != nil {
			ev.format = c.outFormat.Clone()
		} else {
			c.formatPending = true
		}
	}

	if c.cfg.Encoder && !c.configSent && hasConfig(c.cfg.Mime) {
		c.configSent = true
		idx := c.popOut()
		n := writeConfig(c.cfg.Mime, c.outBufs[idx])
		c.emit(idx, codec.BufferInfo{Size: n, PresentationTimeUs: 0, Flags: codec.FlagCodecConfig}, &ev)
		if len(c.freeOut) == 0 {
			return ev
		}
	}

	w := c.pending[0]
	c.pending = c.pending[1:]
	idx := c.popOut()

	switch {
	case w.flags.Has(codec.FlagEndOfStream) && w.size == 0:
		c.eosSent = true
		c.emit(idx, codec.BufferInfo{PresentationTimeUs: w.pts, Flags: codec.FlagEndOfStream}, &ev)
	case c.cfg.Encoder:
		key := c.isKey()
		n := writeFrame(c.cfg.Mime, c.outBufs[idx], c.frameBytes(), key, c.processed)
		flags := w.flags & codec.FlagEndOfStream
		if key {
			flags |= codec.FlagKeyFrame
		}
		c.emit(idx, codec.BufferInfo{Size: n, PresentationTimeUs: w.pts, Flags: flags}, &ev)
		c.processed++
	default:
		n := c.rawLayout.Size()
		fillDecoded(c.outBufs[idx][:n], c.rawLayout, c.inBufs[w.index][:max(w.size, 0)])
		c.emit(idx, codec.BufferInfo{Size: n, PresentationTimeUs: w.pts, Flags: w.flags & codec.FlagEndOfStream}, &ev)
		c.processed++
	}

	// input buffer returns to the codec
	if c.cb != nil {
		c.inOwned[w.index] = true
		ev.inputs = append(ev.inputs, w.index)
	} else {
		c.freeIn = append(c.freeIn, w.index)
	}

	if c.cfg.ErrorAtFrame > 0 && !c.errorSent && c.processed >= c.cfg.ErrorAtFrame {
		c.errorSent = true
		e := &codec.Error{Op: "process", Transient: c.cfg.ErrorTransient, Err: errors.New("simulated hardware fault")}
		if c.cb != nil {
			ev.err = e
		} else {
			c.pendingErr = e
		}
	}
	ev.latency = c.cfg.Latency
	c.broadcast()
	return ev
}

func (c *Codec) popOut() int {
	idx := c.freeOut[0]
	c.freeOut = c.freeOut[1:]
	return idx
}

// emit publishes a filled output buffer. Caller holds c.mu.
func (c *Codec) emit(idx int, info codec.BufferInfo, ev *events) {
	c.outInfo[idx] = info
	if c.cb != nil {
		c.outOwned[idx] = true
		ev.outputs = append(ev.outputs, idx)
		ev.infos = append(ev.infos, info)
		return
	}
	c.ready = append(c.ready, idx)
}

func (c *Codec) isKey() bool {
	gop := int(c.iFrameSeconds * int64(c.fps))
	key := c.processed == 0 || c.syncRequested || (gop > 0 && c.processed-c.lastKey >= gop)
	if key {
		c.syncRequested = false
		c.lastKey = c.processed
	}
	return key
}

// frameBytes is the payload size a perfect rate controller would produce.
func (c *Codec) frameBytes() int {
	if c.fps <= 0 {
		return 1
	}
	return max(int(float64(c.bitrate)/(8*c.fps)), 16)
}

// deliver runs callbacks outside the lock and simulates processing time.
// It returns false if the codec stopped meanwhile.
func (c *Codec) deliver(cb codec.Callback, ev events) bool {
	if ev.latency > 0 {
		select {
		case <-time.After(ev.latency):
		case <-c.stop:
			return false
		}
	}
	if cb == nil {
		return true
	}
	select {
	case <-c.stop:
		return false
	default:
	}
	if ev.format != nil {
		cb.OnOutputFormatChanged(ev.format)
	}
	for i, idx := range ev.outputs {
		cb.OnOutputBufferAvailable(idx, ev.infos[i])
	}
	for _, idx := range ev.inputs {
		cb.OnInputBufferAvailable(idx)
	}
	if ev.err != nil {
		cb.OnError(ev.err)
	}
	return true
}
