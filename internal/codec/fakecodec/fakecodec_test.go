// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fakecodec

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/encbench/internal/codec"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func encoderFormat() codec.Format {
	return codec.Format{
		codec.KeyWidth:     codec.IntValue(64),
		codec.KeyHeight:    codec.IntValue(48),
		codec.KeyBitrate:   codec.IntValue(240_000),
		codec.KeyFrameRate: codec.FloatValue(30),
	}
}

func dequeueOutput(t *testing.T, c *Codec) (int, codec.BufferInfo) {
	t.Helper()
	for range 100 {
		idx, info, err := c.DequeueOutputBuffer(20 * time.Millisecond)
		require.NoError(t, err)
		if idx != codec.InfoTryAgainLater {
			return idx, info
		}
	}
	t.Fatal("no output produced")
	return 0, codec.BufferInfo{}
}

func TestSyncEncoderContract(t *testing.T) {
	c := New(Config{Name: "enc", Mime: codec.MimeAVC, Encoder: true})
	require.NoError(t, c.Configure(encoderFormat()))
	require.NoError(t, c.Start())
	defer func() { require.NoError(t, c.Release()) }()

	frame := c.rawLayout.Size()
	for i := range 2 {
		idx, err := c.DequeueInputBuffer(100 * time.Millisecond)
		require.NoError(t, err)
		require.GreaterOrEqual(t, idx, 0)
		buf, err := c.InputBuffer(idx)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(buf), frame)
		require.NoError(t, c.QueueInputBuffer(idx, 0, frame, int64(132+i*33333), 0))
	}

	idx, _ := dequeueOutput(t, c)
	assert.Equal(t, codec.InfoOutputFormatChanged, idx)
	assert.Equal(t, codec.MimeAVC, c.OutputFormat().String(codec.KeyMime))

	idx, info := dequeueOutput(t, c)
	assert.True(t, info.Flags.Has(codec.FlagCodecConfig))
	payload, err := c.OutputBuffer(idx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x67}, payload[:5])
	require.NoError(t, c.ReleaseOutputBuffer(idx))

	idx, info = dequeueOutput(t, c)
	assert.True(t, info.Flags.Has(codec.FlagKeyFrame))
	assert.Equal(t, int64(132), info.PresentationTimeUs)
	// 240 kbit/s at 30 fps
	assert.Equal(t, 1000, info.Size)
	require.NoError(t, c.ReleaseOutputBuffer(idx))

	idx, info = dequeueOutput(t, c)
	assert.False(t, info.Flags.Has(codec.FlagKeyFrame))
	payload, err = c.OutputBuffer(idx)
	require.NoError(t, err)
	assert.Equal(t, byte(0x41), payload[4])
	require.NoError(t, c.ReleaseOutputBuffer(idx))

	assert.Equal(t, 2, c.Processed())
	assert.Empty(t, c.Violations())
}

func TestSyncEndOfStream(t *testing.T) {
	c := New(Config{Mime: codec.MimeVP8, Encoder: true})
	require.NoError(t, c.Configure(encoderFormat()))
	require.NoError(t, c.Start())
	defer func() { require.NoError(t, c.Release()) }()

	idx, err := c.DequeueInputBuffer(100 * time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, c.QueueInputBuffer(idx, 0, 0, 500, codec.FlagEndOfStream))

	out, _ := dequeueOutput(t, c)
	require.Equal(t, codec.InfoOutputFormatChanged, out)
	out, info := dequeueOutput(t, c)
	assert.True(t, info.Flags.Has(codec.FlagEndOfStream))
	assert.Zero(t, info.Size)
	require.NoError(t, c.ReleaseOutputBuffer(out))
}

func TestOwnershipViolations(t *testing.T) {
	c := New(Config{Mime: codec.MimeVP9, Encoder: true})
	require.NoError(t, c.Configure(encoderFormat()))
	require.NoError(t, c.Start())
	defer func() { require.NoError(t, c.Release()) }()

	assert.ErrorIs(t, c.QueueInputBuffer(0, 0, 1, 0, 0), ErrNotOwned)
	assert.ErrorIs(t, c.ReleaseOutputBuffer(1), ErrNotOwned)
	_, err := c.OutputBuffer(2)
	assert.ErrorIs(t, err, ErrNotOwned)
	assert.Len(t, c.Violations(), 3)
}

func TestLifecycleStates(t *testing.T) {
	c := New(Config{Mime: codec.MimeAVC, Encoder: true})
	assert.ErrorIs(t, c.Start(), codec.ErrIllegalState)
	require.Error(t, c.Configure(codec.Format{codec.KeyWidth: codec.IntValue(64), codec.KeyHeight: codec.IntValue(48)}), "bitrate required")
	require.NoError(t, c.Configure(encoderFormat()))
	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())

	assert.ErrorIs(t, c.ReleaseOutputBuffer(0), codec.ErrIllegalState)
	_, err := c.DequeueInputBuffer(0)
	assert.ErrorIs(t, err, codec.ErrIllegalState)

	require.NoError(t, c.Release())
	require.NoError(t, c.Release())
	assert.ErrorIs(t, c.Start(), codec.ErrIllegalState)
}

type recorder struct {
	mu      sync.Mutex
	c       *Codec
	inputs  []int
	outputs []codec.BufferInfo
	formats int
	errs    []*codec.Error
	done    chan struct{}
}

func (r *recorder) callbacks() codec.CallbackFuncs {
	return codec.CallbackFuncs{
		InputAvailable: func(idx int) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.inputs = append(r.inputs, idx)
		},
		OutputAvailable: func(idx int, info codec.BufferInfo) {
			r.mu.Lock()
			r.outputs = append(r.outputs, info)
			r.mu.Unlock()
			_ = r.c.ReleaseOutputBuffer(idx)
			if info.Flags.Has(codec.FlagEndOfStream) {
				close(r.done)
			}
		},
		FormatChanged: func(codec.Format) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.formats++
		},
		Error: func(e *codec.Error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, e)
		},
	}
}

func (r *recorder) takeInput(t *testing.T) int {
	t.Helper()
	var idx int
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		if len(r.inputs) == 0 {
			return false
		}
		idx = r.inputs[0]
		r.inputs = r.inputs[1:]
		return true
	}, time.Second, time.Millisecond)
	return idx
}

func TestAsyncDecoderPadsOutput(t *testing.T) {
	c := New(Config{Mime: codec.MimeVP8, StrideAlign: 16, SliceAlign: 16, ErrorAtFrame: 2, ErrorTransient: true})
	rec := &recorder{c: c, done: make(chan struct{})}
	require.NoError(t, c.SetCallback(rec.callbacks()))
	require.NoError(t, c.Configure(codec.Format{
		codec.KeyWidth:  codec.IntValue(40),
		codec.KeyHeight: codec.IntValue(30),
	}))
	require.NoError(t, c.Start())
	defer func() { require.NoError(t, c.Release()) }()

	for i := range 3 {
		idx := rec.takeInput(t)
		buf, err := c.InputBuffer(idx)
		require.NoError(t, err)
		buf[0] = byte(i)
		flags := codec.BufferFlags(0)
		if i == 2 {
			flags = codec.FlagEndOfStream
		}
		require.NoError(t, c.QueueInputBuffer(idx, 0, 1, int64(i*1000), flags))
	}

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("end of stream not reported")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.formats)
	require.Len(t, rec.outputs, 3)
	assert.Equal(t, int64(1000), rec.outputs[1].PresentationTimeUs)
	require.Len(t, rec.errs, 1)
	assert.True(t, rec.errs[0].Transient)

	out := c.OutputFormat()
	assert.Equal(t, int64(48), out.IntOr(codec.KeyStride, 0))
	assert.Equal(t, int64(32), out.IntOr(codec.KeySliceHeight, 0))
	// 48*32 luma plus two 24*16 chroma planes
	assert.Equal(t, 48*32+2*24*16, rec.outputs[0].Size)
}

func TestSetParametersRequestsSyncFrame(t *testing.T) {
	c := New(Config{Mime: codec.MimeHEVC, Encoder: true})
	require.NoError(t, c.Configure(encoderFormat()))
	require.NoError(t, c.Start())
	defer func() { require.NoError(t, c.Release()) }()

	queue := func(pts int64) {
		idx, err := c.DequeueInputBuffer(100 * time.Millisecond)
		require.NoError(t, err)
		require.NoError(t, c.QueueInputBuffer(idx, 0, 16, pts, 0))
	}
	next := func() codec.BufferInfo {
		for {
			idx, info := dequeueOutput(t, c)
			if idx < 0 || info.Flags.Has(codec.FlagCodecConfig) {
				if idx >= 0 {
					require.NoError(t, c.ReleaseOutputBuffer(idx))
				}
				continue
			}
			require.NoError(t, c.ReleaseOutputBuffer(idx))
			return info
		}
	}

	queue(0)
	assert.True(t, next().Flags.Has(codec.FlagKeyFrame))
	queue(1)
	assert.False(t, next().Flags.Has(codec.FlagKeyFrame))

	require.NoError(t, c.SetParameters(codec.Params{
		codec.ParamRequestSyncFrame: codec.IntValue(0),
		codec.ParamVideoBitrate:     codec.IntValue(480_000),
	}))
	queue(2)
	info := next()
	assert.True(t, info.Flags.Has(codec.FlagKeyFrame))
	assert.Equal(t, 2000, info.Size)
	assert.Len(t, c.Applied(), 1)
}

func TestRegister(t *testing.T) {
	r := codec.NewRegistry()
	require.NoError(t, Register(r))
	assert.Len(t, r.List(), 10)

	info, err := r.Lookup("av1", true)
	require.NoError(t, err)
	assert.Equal(t, "c2.fake.av1.encoder", info.Name)

	c, err := r.Create(info.Name)
	require.NoError(t, err)
	_, ok := c.(codec.AsyncCodec)
	assert.True(t, ok)
	_, ok = c.(codec.SyncCodec)
	assert.True(t, ok)
}

func TestWriteFrameAV1HasSizedOBU(t *testing.T) {
	buf := make([]byte, 512)
	n := writeFrame(codec.MimeAV1, buf, 300, true, 0)
	require.Equal(t, 300, n)
	assert.Equal(t, byte(0x12), buf[0])
	assert.Equal(t, byte(0x32), buf[2])
	// leb128(295) = 0xa7 0x02
	assert.Equal(t, []byte{0xa7, 0x02}, buf[3:5])
}
