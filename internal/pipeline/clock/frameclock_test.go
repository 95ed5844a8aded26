// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeUntilNextFrame(t *testing.T) {
	base := time.Unix(1000, 0)
	interval := 33 * time.Millisecond

	tests := []struct {
		name string
		now  time.Time
		last time.Time
		want time.Duration
	}{
		{name: "first frame", now: base, last: time.Time{}, want: 0},
		{name: "early", now: base.Add(10 * time.Millisecond), last: base, want: 23 * time.Millisecond},
		{name: "exactly on time", now: base.Add(interval), last: base, want: 0},
		{name: "late clamps to zero", now: base.Add(500 * time.Millisecond), last: base, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TimeUntilNextFrame(tt.now, tt.last, interval))
		})
	}
}

func TestPresentationTimeUsMonotonic(t *testing.T) {
	interval := FrameIntervalUs(29.97)
	prev := int64(-1)
	for i := 0; i < 10000; i++ {
		pts := PresentationTimeUs(DefaultPTSBaseUs, i, interval)
		require.Greater(t, pts, prev, "frame %d", i)
		prev = pts
	}
	assert.Equal(t, DefaultPTSBaseUs, PresentationTimeUs(DefaultPTSBaseUs, 0, interval))
	assert.Equal(t, int64(132+33366), PresentationTimeUs(DefaultPTSBaseUs, 1, interval))
}

func TestFrameClockPaceKeepsCadence(t *testing.T) {
	vc := NewVirtual(time.Unix(0, 0))
	fc := NewFrameClock(vc, 30)
	ctx := context.Background()

	require.NoError(t, fc.Pace(ctx))
	start := fc.LastSubmit()
	for i := 0; i < 29; i++ {
		vc.Advance(5 * time.Millisecond) // simulated per-frame work
		require.NoError(t, fc.Pace(ctx))
	}
	// 29 intervals after the first submission, regardless of per-frame work.
	assert.InDelta(t, float64(29*fc.Interval()), float64(fc.LastSubmit().Sub(start)), float64(time.Microsecond))
}

func TestFrameClockNoDebtWhenLate(t *testing.T) {
	vc := NewVirtual(time.Unix(0, 0))
	fc := NewFrameClock(vc, 10)
	ctx := context.Background()

	require.NoError(t, fc.Pace(ctx))
	vc.Advance(time.Second) // stalled for ten frame slots
	require.NoError(t, fc.Pace(ctx))
	require.NoError(t, fc.Pace(ctx))

	waits := vc.Waits()
	require.Len(t, waits, 1)
	assert.Equal(t, 100*time.Millisecond, waits[0])
}

func TestFrameClockSetFrameRateAffectsSubsequentFrames(t *testing.T) {
	vc := NewVirtual(time.Unix(0, 0))
	fc := NewFrameClock(vc, 60)
	ctx := context.Background()

	require.NoError(t, fc.Pace(ctx))
	require.NoError(t, fc.Pace(ctx))
	fc.SetFrameRate(30)
	require.NoError(t, fc.Pace(ctx))

	waits := vc.Waits()
	require.Len(t, waits, 2)
	assert.InDelta(t, float64(16667*time.Microsecond), float64(waits[0]), float64(time.Microsecond))
	assert.InDelta(t, float64(33333*time.Microsecond), float64(waits[1]), float64(time.Microsecond))
}

func TestFrameClockPaceHonorsCancel(t *testing.T) {
	fc := NewFrameClock(Real{}, 1)
	fc.MarkSubmitted(time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, fc.Pace(ctx), context.Canceled)
}
