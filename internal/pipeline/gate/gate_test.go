// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package gate

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/encbench/internal/codec"
)

func kept(g *Gate, n int) []int {
	var out []int
	for i := 0; i < n; i++ {
		if !g.ShouldDrop(i, false) {
			out = append(out, i)
		}
	}
	return out
}

func TestDecimationHalvesRate(t *testing.T) {
	g := New(60, 30)
	assert.InDelta(t, 2.0, g.KeepInterval(), 1e-9)

	got := kept(g, 120)
	require.Len(t, got, 60)
	for i, f := range got {
		assert.Equal(t, 2*i+1, f)
	}
}

func TestDecimationRetainedFraction(t *testing.T) {
	tests := []struct {
		reference, target float64
		frames, want      int
	}{
		{reference: 30, target: 30, frames: 300, want: 300},
		{reference: 60, target: 30, frames: 300, want: 150},
		{reference: 30, target: 10, frames: 300, want: 100},
		{reference: 60, target: 24, frames: 600, want: 240},
		{reference: 30, target: 60, frames: 90, want: 90},
	}
	for _, tt := range tests {
		g := New(tt.reference, tt.target)
		assert.Len(t, kept(g, tt.frames), tt.want, "%v->%v", tt.reference, tt.target)
	}
}

func TestDropList(t *testing.T) {
	g := New(30, 30, WithDropFrames([]int{5, 6, 7}))
	got := kept(g, 20)
	assert.Len(t, got, 17)
	for _, f := range []int{5, 6, 7} {
		assert.NotContains(t, got, f)
	}

	drop, reason := New(30, 30, WithDropFrames([]int{2})).Decide(2, false)
	assert.True(t, drop)
	assert.Equal(t, ReasonDropList, reason)
}

func TestEOSNeverDropped(t *testing.T) {
	g := New(60, 30, WithDropFrames([]int{4}))
	assert.False(t, g.ShouldDrop(4, true))
	assert.False(t, g.ShouldDrop(0, true))
}

func TestRateChangeIsNotRetroactive(t *testing.T) {
	var rates []float64
	g := New(60, 60,
		WithRateChanges([]RateChange{{Frame: 10, FPS: 30}}),
		WithRateHook(func(fps float64) { rates = append(rates, fps) }))

	got := kept(g, 20)
	want := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("kept frames mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []float64{30}, rates)
	assert.InDelta(t, 2.0, g.KeepInterval(), 1e-9)

	// one-shot: revisiting frame 10 does not fire again
	g.ShouldDrop(10, false)
	assert.Len(t, rates, 1)
}

func TestRateChangeIsRelativeToInput(t *testing.T) {
	g := New(30, 15, WithRateChanges([]RateChange{{Frame: 0, FPS: 10}}))
	assert.InDelta(t, 2.0, g.KeepInterval(), 1e-9)

	g.ShouldDrop(0, false)
	assert.InDelta(t, 3.0, g.KeepInterval(), 1e-9)
	assert.Len(t, kept(g, 30), 10)
}

type recordingSetter struct {
	calls []codec.Params
	err   error
}

func (r *recordingSetter) SetParameters(p codec.Params) error {
	r.calls = append(r.calls, p)
	return r.err
}

func TestScheduleBundlesEventsPerFrame(t *testing.T) {
	s, err := NewSchedule([]Event{
		{Frame: 30, Kind: KindBitrate, Value: codec.IntValue(500_000)},
		{Frame: 30, Kind: KindRequestSync},
		{Frame: 60, Kind: KindParameter, Key: "vendor.qp-max", Value: codec.IntValue(40)},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{30, 60}, s.Pending())

	target := &recordingSetter{}
	applied, err := s.Apply(0, target)
	require.NoError(t, err)
	assert.Nil(t, applied)

	applied, err = s.Apply(30, target)
	require.NoError(t, err)
	assert.Equal(t, codec.Params{
		codec.ParamVideoBitrate:     codec.IntValue(500_000),
		codec.ParamRequestSyncFrame: codec.IntValue(0),
	}, applied)

	_, err = s.Apply(30, target)
	require.NoError(t, err)
	require.Len(t, target.calls, 1, "events fire once")

	_, err = s.Apply(60, target)
	require.NoError(t, err)
	assert.Equal(t, codec.IntValue(40), target.calls[1]["vendor.qp-max"])
	assert.Empty(t, s.Pending())
}

func TestScheduleErrors(t *testing.T) {
	_, err := NewSchedule([]Event{{Frame: 1, Kind: "volume"}})
	require.Error(t, err)
	_, err = NewSchedule([]Event{{Frame: 1, Kind: KindParameter}})
	require.Error(t, err)

	s, err := NewSchedule([]Event{{Frame: 1, Kind: KindRequestSync}})
	require.NoError(t, err)
	boom := errors.New("rejected")
	_, err = s.Apply(1, &recordingSetter{err: boom})
	require.ErrorIs(t, err, boom)

	var nilSchedule *Schedule
	assert.Nil(t, nilSchedule.Due(3))
}
