// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stats

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/encbench/internal/codec"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newStats() *Statistics {
	clk := &stepClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	return New("unit", WithNow(clk.Now))
}

func TestIDPrefix(t *testing.T) {
	s := New("x")
	assert.True(t, strings.HasPrefix(s.ID(), IDPrefix))
	assert.NotEqual(t, s.ID(), New("x").ID())
}

func TestClosestMatch(t *testing.T) {
	s := newStats()
	for i := range 5 {
		s.StartEncodingFrame(int64(132+i*33333), i)
	}
	assert.Equal(t, 5, s.InFlight())

	f := s.StopEncodingFrame(132+2*33333+10, 900, true)
	require.NotNil(t, f)
	assert.Equal(t, 2, f.OriginalFrame)
	assert.Equal(t, int64(900), f.Size)
	assert.True(t, f.Key)
	assert.Positive(t, f.ProcessingTime())

	f = s.StopEncodingFrame(0, 10, false)
	require.NotNil(t, f)
	assert.Equal(t, 0, f.OriginalFrame)
	assert.Equal(t, 3, s.InFlight())
}

func TestStopWithoutStart(t *testing.T) {
	s := newStats()
	assert.Nil(t, s.StopEncodingFrame(100, 1, false))
}

func TestAverageBitrateIgnoresLastFrame(t *testing.T) {
	s := newStats()
	// 4 frames at 1s spacing; the last frame's size is left out
	for i := range 4 {
		s.StartEncodingFrame(int64(i)*1_000_000, i)
		s.StopEncodingFrame(int64(i)*1_000_000, 1000, i == 0)
	}
	s.StartEncodingFrame(3_500_000, 4)
	s.StopEncodingFrame(3_500_000, 999_999, false)
	// 4000 bytes over 3.5s
	assert.Equal(t, int64(9143), s.AverageBitrate())

	assert.Zero(t, newStats().AverageBitrate())
}

func TestDecodingFrames(t *testing.T) {
	s := newStats()
	s.StartDecodingFrame(200, 50, codec.FlagKeyFrame)
	s.StartDecodingFrame(100, 40, 0)
	require.NotNil(t, s.StopDecodingFrame(100))
	assert.Nil(t, s.StopDecodingFrame(300))
	assert.Equal(t, 2, s.DecodedFrameCount())

	r := s.Report(nil)
	// unfinished decodes are left out
	require.Len(t, r.DecodedFrames, 1)
	assert.Equal(t, int64(100), r.DecodedFrames[0].PTS)
	assert.Equal(t, 1, r.DecodedFrames[0].Frame)
}

func TestReportWriteFile(t *testing.T) {
	t.Setenv("ENCBENCH_REALTIME", "true")
	s := newStats()
	s.SetCodec("c2.fake.avc.encoder", true)
	s.SetEncoderFormat(codec.Format{codec.KeyMime: codec.StringValue(codec.MimeAVC)})
	s.SetSourceFile("/data/in/foreman.yuv")
	s.SetEncodedFile("out.h264")
	s.Start()
	s.PushTimestamp("encoder.start")
	s.StartEncodingFrame(232, 1)
	s.StartEncodingFrame(132, 0)
	f := s.StopEncodingFrame(132, 10, true)
	s.Annotate(f, map[string]string{"bitrate": "2000000"})
	s.StopEncodingFrame(232, 20, false)
	s.Stop()

	dir := t.TempDir()
	path, err := s.Report(map[string]string{"name": "t1"}).WriteFile(filepath.Join(dir, "reports"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "reports", s.ID()+".json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Report
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, s.ID(), got.ID)
	assert.Equal(t, "c2.fake.avc.encoder", got.Codec)
	assert.Equal(t, "foreman.yuv", got.SourceFile)
	assert.Equal(t, "true", got.Environment["ENCBENCH_REALTIME"])
	assert.Equal(t, codec.MimeAVC, got.EncoderFormat[codec.KeyMime])
	require.Len(t, got.Frames, 2)
	assert.Equal(t, int64(132), got.Frames[0].PTS, "frames are ordered by pts")
	assert.Equal(t, 1, got.Frames[0].IFrame)
	assert.Equal(t, "2000000", got.Frames[0].Info["bitrate"])
	assert.Equal(t, 1, got.Frames[1].OriginalFrame)
	require.Len(t, got.Timestamps, 1)
	assert.Equal(t, "encoder.start", got.Timestamps[0].Label)
	assert.Positive(t, got.ProcTime)
}
