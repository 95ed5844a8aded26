// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package swcodec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/encbench/internal/codec"
)

func startRaw(t *testing.T) *Adapter {
	t.Helper()
	c, err := codec.Default.Create(RawName)
	require.NoError(t, err)
	a := c.(*Adapter)
	require.NoError(t, a.Configure(codec.Format{
		codec.KeyMime:   codec.StringValue(codec.MimeRaw),
		codec.KeyWidth:  codec.IntValue(4),
		codec.KeyHeight: codec.IntValue(2),
	}))
	require.NoError(t, a.Start())
	t.Cleanup(func() { require.NoError(t, a.Release()) })
	return a
}

func TestRawEncoderRoundTrip(t *testing.T) {
	a := startRaw(t)

	idx, info, err := a.DequeueOutputBuffer(0)
	require.NoError(t, err)
	assert.Equal(t, codec.InfoOutputFormatChanged, idx)
	assert.Zero(t, info)

	in, err := a.DequeueInputBuffer(time.Millisecond)
	require.NoError(t, err)
	buf, err := a.InputBuffer(in)
	require.NoError(t, err)
	require.Len(t, buf, 12)
	for i := range buf {
		buf[i] = byte(i)
	}
	require.NoError(t, a.QueueInputBuffer(in, 0, len(buf), 132, 0))

	out, info, err := a.DequeueOutputBuffer(time.Millisecond)
	require.NoError(t, err)
	require.GreaterOrEqual(t, out, 0)
	assert.Equal(t, int64(132), info.PresentationTimeUs)
	assert.True(t, info.Flags.Has(codec.FlagKeyFrame))
	data, err := a.OutputBuffer(out)
	require.NoError(t, err)
	assert.Equal(t, byte(11), data[11])
	require.NoError(t, a.ReleaseOutputBuffer(out))

	in, err = a.DequeueInputBuffer(time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, a.QueueInputBuffer(in, 0, 0, 200, codec.FlagEndOfStream))
	out, info, err = a.DequeueOutputBuffer(time.Millisecond)
	require.NoError(t, err)
	assert.True(t, info.Flags.Has(codec.FlagEndOfStream))
	require.NoError(t, a.ReleaseOutputBuffer(out))

	out, _, err = a.DequeueOutputBuffer(time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, codec.InfoTryAgainLater, out)
}

func TestBacklogWaitsForFreeSlots(t *testing.T) {
	a := startRaw(t)
	_, _, err := a.DequeueOutputBuffer(0)
	require.NoError(t, err)

	for i := range defaultBuffers + 2 {
		in, err := a.DequeueInputBuffer(time.Millisecond)
		require.NoError(t, err)
		require.NoError(t, a.QueueInputBuffer(in, 0, 12, int64(i), 0))
	}

	var seen []int64
	for range defaultBuffers + 2 {
		out, info, err := a.DequeueOutputBuffer(time.Millisecond)
		require.NoError(t, err)
		require.GreaterOrEqual(t, out, 0)
		seen = append(seen, info.PresentationTimeUs)
		require.NoError(t, a.ReleaseOutputBuffer(out))
	}
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5}, seen)
}

func TestIllegalStates(t *testing.T) {
	a := New("x", &RawEncoder{})
	assert.ErrorIs(t, a.Start(), codec.ErrIllegalState)
	require.Error(t, a.Configure(codec.Format{}))
	require.ErrorIs(t, a.Configure(codec.Format{
		codec.KeyMime:   codec.StringValue(codec.MimeAVC),
		codec.KeyWidth:  codec.IntValue(4),
		codec.KeyHeight: codec.IntValue(2),
	}), ErrUnsupported)

	a = startRaw(t)
	require.NoError(t, a.Stop())
	assert.ErrorIs(t, a.ReleaseOutputBuffer(0), codec.ErrIllegalState)
	require.NoError(t, a.Release())
	require.NoError(t, a.Release())
}
