// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fakecodec

import (
	"fmt"
	"time"

	"github.com/ManuGH/encbench/internal/codec"
)

func (c *Codec) violation(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	c.violations = append(c.violations, msg)
	return fmt.Errorf("%s: %w", msg, ErrNotOwned)
}

// InputBuffer implements codec.Codec.
func (c *Codec) InputBuffer(index int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateRunning {
		return nil, fmt.Errorf("input buffer in state %s: %w", c.state, codec.ErrIllegalState)
	}
	if !c.inOwned[index] {
		return nil, c.violation("input buffer %d accessed without ownership", index)
	}
	return c.inBufs[index], nil
}

// OutputBuffer implements codec.Codec.
func (c *Codec) OutputBuffer(index int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateRunning {
		return nil, fmt.Errorf("output buffer in state %s: %w", c.state, codec.ErrIllegalState)
	}
	if !c.outOwned[index] {
		return nil, c.violation("output buffer %d accessed without ownership", index)
	}
	info := c.outInfo[index]
	return c.outBufs[index][:info.Offset+info.Size], nil
}

// QueueInputBuffer implements codec.Codec.
func (c *Codec) QueueInputBuffer(index, offset, size int, ptsUs int64, flags codec.BufferFlags) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateRunning {
		return fmt.Errorf("queue input in state %s: %w", c.state, codec.ErrIllegalState)
	}
	if !c.inOwned[index] {
		return c.violation("input buffer %d queued without ownership", index)
	}
	if size < 0 || offset+size > len(c.inBufs[index]) {
		return fmt.Errorf("queue input %d: size %d exceeds capacity %d", index, size, len(c.inBufs[index]))
	}
	delete(c.inOwned, index)
	c.pending = append(c.pending, work{index: index, size: size, pts: ptsUs, flags: flags})
	c.broadcast()
	return nil
}

// ReleaseOutputBuffer implements codec.Codec.
func (c *Codec) ReleaseOutputBuffer(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateRunning {
		return fmt.Errorf("release output in state %s: %w", c.state, codec.ErrIllegalState)
	}
	if !c.outOwned[index] {
		return c.violation("output buffer %d released without ownership", index)
	}
	delete(c.outOwned, index)
	c.freeOut = append(c.freeOut, index)
	c.broadcast()
	return nil
}

// wait blocks until ready returns true, the deadline passes or the codec
// leaves the running state. Caller holds c.mu; it is held again on return.
func (c *Codec) wait(timeout time.Duration, ready func() bool) bool {
	if ready() {
		return true
	}
	if timeout <= 0 {
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		ch := c.changed
		c.mu.Unlock()
		select {
		case <-ch:
			c.mu.Lock()
		case <-timer.C:
			c.mu.Lock()
			return ready()
		}
		if c.state != stateRunning {
			return false
		}
		if ready() {
			return true
		}
	}
}

// DequeueInputBuffer implements codec.SyncCodec.
func (c *Codec) DequeueInputBuffer(timeout time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateRunning {
		return 0, fmt.Errorf("dequeue input in state %s: %w", c.state, codec.ErrIllegalState)
	}
	if c.cb != nil {
		return 0, fmt.Errorf("dequeue input in callback mode: %w", codec.ErrIllegalState)
	}
	if !c.wait(timeout, func() bool { return len(c.freeIn) > 0 }) {
		return codec.InfoTryAgainLater, nil
	}
	idx := c.freeIn[0]
	c.freeIn = c.freeIn[1:]
	c.inOwned[idx] = true
	return idx, nil
}

// DequeueOutputBuffer implements codec.SyncCodec.
func (c *Codec) DequeueOutputBuffer(timeout time.Duration) (int, codec.BufferInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateRunning {
		return 0, codec.BufferInfo{}, fmt.Errorf("dequeue output in state %s: %w", c.state, codec.ErrIllegalState)
	}
	if c.cb != nil {
		return 0, codec.BufferInfo{}, fmt.Errorf("dequeue output in callback mode: %w", codec.ErrIllegalState)
	}
	ok := c.wait(timeout, func() bool {
		return c.pendingErr != nil || c.formatPending || len(c.ready) > 0
	})
	if !ok {
		return codec.InfoTryAgainLater, codec.BufferInfo{}, nil
	}
	if c.pendingErr != nil {
		err := c.pendingErr
		c.pendingErr = nil
		return codec.InfoTryAgainLater, codec.BufferInfo{}, err
	}
	if c.formatPending {
		c.formatPending = false
		return codec.InfoOutputFormatChanged, codec.BufferInfo{}, nil
	}
	idx := c.ready[0]
	c.ready = c.ready[1:]
	c.outOwned[idx] = true
	return idx, c.outInfo[idx], nil
}
