// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bridge

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ManuGH/encbench/internal/metrics"
	"github.com/ManuGH/encbench/internal/pipeline/pool"
)

// DefaultQueueCapacity bounds the decoded frames waiting for the encoder.
const DefaultQueueCapacity = 4

// Frame is a decoded buffer still owned by the decoder.
type Frame struct {
	Token pool.Token
	Data  []byte
}

// PTS is the decoder timestamp.
func (f Frame) PTS() int64 { return f.Token.Info.PresentationTimeUs }

// Queue is a bounded FIFO of decoded frames. A full queue blocks Push,
// which keeps decoder output buffers owned and throttles the decoder.
type Queue struct {
	ch   chan Frame
	high atomic.Int64
}

// NewQueue returns a queue holding up to capacity frames.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{ch: make(chan Frame, capacity)}
}

// Push waits for room. It fails only when ctx ends.
func (q *Queue) Push(ctx context.Context, f Frame) error {
	select {
	case q.ch <- f:
	case <-ctx.Done():
		return ctx.Err()
	}
	n := int64(len(q.ch))
	for {
		h := q.high.Load()
		if n <= h || q.high.CompareAndSwap(h, n) {
			break
		}
	}
	metrics.SetBridgeQueueDepth(int(n))
	return nil
}

// Pop waits up to timeout for a frame.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (Frame, bool) {
	select {
	case f := <-q.ch:
		metrics.SetBridgeQueueDepth(len(q.ch))
		return f, true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-q.ch:
		metrics.SetBridgeQueueDepth(len(q.ch))
		return f, true
	case <-ctx.Done():
	case <-timer.C:
	}
	return Frame{}, false
}

// Drain removes every queued frame without waiting.
func (q *Queue) Drain() []Frame {
	var out []Frame
	for {
		select {
		case f := <-q.ch:
			out = append(out, f)
		default:
			metrics.SetBridgeQueueDepth(0)
			return out
		}
	}
}

// Len is the number of queued frames.
func (q *Queue) Len() int { return len(q.ch) }

// Cap is the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// HighWater is the largest length observed.
func (q *Queue) HighWater() int { return int(q.high.Load()) }
