// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package muxer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/encbench/internal/codec"
	"github.com/ManuGH/encbench/internal/source"
)

func trackFormat(mime string) codec.Format {
	return codec.Format{
		codec.KeyMime:   codec.StringValue(mime),
		codec.KeyWidth:  codec.IntValue(64),
		codec.KeyHeight: codec.IntValue(48),
	}
}

func info(pts int64, key bool) codec.BufferInfo {
	bi := codec.BufferInfo{PresentationTimeUs: pts}
	if key {
		bi.Flags = codec.FlagKeyFrame
	}
	return bi
}

func TestIVFRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "run"+ContainerIVF.Extension(codec.MimeVP8))
	m, err := New(path, "", codec.MimeVP8)
	require.NoError(t, err)
	assert.Equal(t, ContainerIVF, m.Container())

	track, err := m.AddTrack(trackFormat(codec.MimeVP8))
	require.NoError(t, err)
	require.NoError(t, m.Start())
	for i := range 3 {
		frame := []byte{0x10, byte(i), 0xaa}
		require.NoError(t, m.WriteSampleData(track, frame, info(int64(132+i*33333), i == 0)))
	}

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err), "output must not appear before release")
	require.NoError(t, m.Release())

	r, err := source.OpenIVF(path)
	require.NoError(t, err)
	defer r.Close()
	si := r.Info()
	assert.Equal(t, codec.MimeVP8, si.Mime)
	assert.Equal(t, 64, si.Width)
	assert.Equal(t, 3, si.Frames)

	buf := make([]byte, 16)
	var pts []int64
	for {
		s, err := r.ReadSample(buf)
		require.NoError(t, err)
		if s.Size == 0 {
			break
		}
		pts = append(pts, s.PTSUs)
	}
	assert.Equal(t, []int64{132, 33465, 66798}, pts)
}

func TestIVFTrackWithoutMime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.ivf")
	m, err := New(path, ContainerIVF, codec.MimeVP9)
	require.NoError(t, err)

	_, err = m.AddTrack(codec.Format{codec.KeyWidth: codec.IntValue(64), codec.KeyHeight: codec.IntValue(48)})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	require.NoError(t, m.WriteSampleData(0, []byte{1, 2, 3}, info(132, true)))
	require.NoError(t, m.Release())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "VP90", string(data[8:12]))

	r, err := source.OpenIVF(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, codec.MimeVP9, r.Info().Mime)
}

func TestAnnexBPrependsConfigAndStartCodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.h264")
	m, err := New(path, ContainerAnnexB, codec.MimeAVC)
	require.NoError(t, err)
	_, err = m.AddTrack(trackFormat(codec.MimeAVC))
	require.NoError(t, err)
	require.NoError(t, m.Start())

	require.NoError(t, m.WriteCodecConfig(0, []byte{0, 0, 0, 1, 0x67, 0x01}))
	require.NoError(t, m.WriteSampleData(0, []byte{0, 0, 0, 1, 0x65, 0x02}, info(132, true)))
	require.NoError(t, m.WriteSampleData(0, []byte{0x41, 0x03}, info(33465, false)))
	require.NoError(t, m.Release())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	want := []byte{
		0, 0, 0, 1, 0x67, 0x01,
		0, 0, 0, 1, 0x65, 0x02,
		0, 0, 0, 1, 0x41, 0x03,
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 2, m.Samples())
}

func TestRTPDumpPacketizesSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.rtpdump")
	m, err := New(path, ContainerRTP, codec.MimeAVC)
	require.NoError(t, err)
	_, err = m.AddTrack(trackFormat(codec.MimeAVC))
	require.NoError(t, err)
	require.NoError(t, m.Start())

	big := append([]byte{0, 0, 0, 1, 0x65}, bytes.Repeat([]byte{0x5a}, 3000)...)
	require.NoError(t, m.WriteSampleData(0, big, info(0, true)))
	require.NoError(t, m.WriteSampleData(0, []byte{0, 0, 0, 1, 0x41, 0x01}, info(40_000, false)))
	require.NoError(t, m.Release())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	pkts, err := ReadRTPDump(bytes.NewReader(raw))
	require.NoError(t, err)
	// the 3000 byte NAL needs fragmentation
	require.Greater(t, len(pkts), 3)

	last := pkts[len(pkts)-1]
	assert.Equal(t, uint32(3600), last.Timestamp)
	assert.True(t, last.Marker)
	for i, p := range pkts {
		assert.Equal(t, uint8(96), p.PayloadType)
		assert.Equal(t, uint32(RTPSSRC), p.SSRC)
		assert.LessOrEqual(t, len(p.Payload), RTPMTU-rtpHeaderSize)
		if i > 0 {
			assert.Equal(t, pkts[i-1].SequenceNumber+1, p.SequenceNumber)
		}
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.ivf")
	m, err := New(path, ContainerIVF, codec.MimeVP9)
	require.NoError(t, err)
	_, err = m.AddTrack(trackFormat(codec.MimeVP9))
	require.NoError(t, err)
	require.NoError(t, m.Start())

	require.NoError(t, m.Release())
	require.NoError(t, m.Release())
	assert.ErrorIs(t, m.WriteSampleData(0, []byte{1}, info(0, true)), ErrReleased)
	_, err = m.AddTrack(trackFormat(codec.MimeVP9))
	assert.ErrorIs(t, err, ErrReleased)
}

func TestReleaseWithoutStartWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.ivf")
	m, err := New(path, ContainerIVF, codec.MimeAV1)
	require.NoError(t, err)
	require.NoError(t, m.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteRules(t *testing.T) {
	m, err := New(filepath.Join(t.TempDir(), "run.ivf"), ContainerIVF, codec.MimeVP8)
	require.NoError(t, err)
	defer m.Release()

	assert.ErrorIs(t, m.WriteSampleData(0, []byte{1}, info(0, true)), ErrNotStarted)
	require.Error(t, m.Start(), "no track yet")
	_, err = m.AddTrack(trackFormat(codec.MimeVP8))
	require.NoError(t, err)
	_, err = m.AddTrack(trackFormat(codec.MimeVP8))
	require.Error(t, err)
	require.NoError(t, m.Start())
	_, err = m.AddTrack(trackFormat(codec.MimeVP8))
	assert.ErrorIs(t, err, ErrStarted)
}

func TestUnsupportedCombinations(t *testing.T) {
	dir := t.TempDir()
	_, err := New(filepath.Join(dir, "a"), ContainerIVF, codec.MimeAVC)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = New(filepath.Join(dir, "b"), ContainerAnnexB, codec.MimeVP8)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = New(filepath.Join(dir, "c"), ContainerRTP, codec.MimeRaw)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = ParseContainer("mp4")
	assert.Error(t, err)
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "encbench_x.h265"), OutputPath("out", "encbench_x", ForMime(codec.MimeHEVC), codec.MimeHEVC))
	assert.Equal(t, filepath.Join("out", "encbench_x.ivf"), OutputPath("out", "encbench_x", ForMime(codec.MimeAV1), codec.MimeAV1))
}
