// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package clock

import (
	"context"
	"math"
	"sync"
	"time"
)

// DefaultPTSBaseUs is the presentation timestamp of frame zero.
const DefaultPTSBaseUs int64 = 132

// FrameIntervalUs returns the frame duration in microseconds for fps.
func FrameIntervalUs(fps float64) float64 {
	if fps <= 0 {
		return 0
	}
	return 1e6 / fps
}

// PresentationTimeUs maps a frame index onto the stream timeline.
func PresentationTimeUs(baseUs int64, frameIndex int, intervalUs float64) int64 {
	return baseUs + int64(float64(frameIndex)*intervalUs)
}

// TimeUntilNextFrame returns how long to wait before the next submission.
// A zero lastSubmit means nothing was submitted yet. The result is never
// negative: a late caller submits immediately and no debt is carried.
func TimeUntilNextFrame(now, lastSubmit time.Time, interval time.Duration) time.Duration {
	if lastSubmit.IsZero() {
		return 0
	}
	wait := interval - now.Sub(lastSubmit)
	if wait < 0 {
		return 0
	}
	return wait
}

// FrameClock paces frame submission against wall time.
type FrameClock struct {
	mu         sync.Mutex
	clock      Clock
	intervalUs float64
	lastSubmit time.Time
}

// NewFrameClock returns a clock pacing at fps. A nil clk uses system time.
func NewFrameClock(clk Clock, fps float64) *FrameClock {
	if clk == nil {
		clk = Real{}
	}
	return &FrameClock{clock: clk, intervalUs: FrameIntervalUs(fps)}
}

// Clock returns the underlying time source.
func (f *FrameClock) Clock() Clock { return f.clock }

// SetFrameRate changes the pacing interval for frames submitted after the call.
func (f *FrameClock) SetFrameRate(fps float64) {
	f.mu.Lock()
	f.intervalUs = FrameIntervalUs(fps)
	f.mu.Unlock()
}

// IntervalUs returns the current pacing interval.
func (f *FrameClock) IntervalUs() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.intervalUs
}

// Interval returns the current pacing interval as a duration.
func (f *FrameClock) Interval() time.Duration {
	return time.Duration(math.Round(f.IntervalUs() * float64(time.Microsecond)))
}

// Wait returns the delay before the next frame may be submitted.
func (f *FrameClock) Wait() time.Duration {
	f.mu.Lock()
	last := f.lastSubmit
	f.mu.Unlock()
	return TimeUntilNextFrame(f.clock.Now(), last, f.Interval())
}

// Pace blocks until the next frame slot and records the submission time.
// It returns ctx.Err() if the context ends first, without recording.
func (f *FrameClock) Pace(ctx context.Context) error {
	wait := f.Wait()
	if wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.clock.After(wait):
		}
	}
	f.MarkSubmitted(f.clock.Now())
	return nil
}

// MarkSubmitted records a submission at t.
func (f *FrameClock) MarkSubmitted(t time.Time) {
	f.mu.Lock()
	f.lastSubmit = t
	f.mu.Unlock()
}

// LastSubmit returns the time of the most recent submission.
func (f *FrameClock) LastSubmit() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSubmit
}
