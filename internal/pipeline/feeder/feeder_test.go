// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package feeder

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/encbench/internal/codec"
	"github.com/ManuGH/encbench/internal/pipeline/completion"
	"github.com/ManuGH/encbench/internal/pipeline/gate"
	"github.com/ManuGH/encbench/internal/pipeline/pool"
	"github.com/ManuGH/encbench/internal/source"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type queued struct {
	index int
	size  int
	pts   int64
	flags codec.BufferFlags
}

// stubCodec hands every queued input straight back to the pool, like a
// codec that consumes instantly.
type stubCodec struct {
	codec.Codec

	pool   *pool.Pool
	bufs   [][]byte
	failAt int
	err    error

	mu     sync.Mutex
	queued []queued
	params []codec.Params
}

func newStub(t *testing.T, buffers int) *stubCodec {
	t.Helper()
	s := &stubCodec{pool: pool.New(pool.RoleInput), failAt: -1}
	for i := range buffers {
		s.bufs = append(s.bufs, make([]byte, 64))
		require.NoError(t, s.pool.Offer(pool.Token{Index: i}))
	}
	return s
}

func (s *stubCodec) InputBuffer(index int) ([]byte, error) { return s.bufs[index], nil }

func (s *stubCodec) QueueInputBuffer(index, _, size int, pts int64, flags codec.BufferFlags) error {
	s.mu.Lock()
	if s.failAt >= 0 && len(s.queued) == s.failAt {
		s.mu.Unlock()
		return s.err
	}
	s.queued = append(s.queued, queued{index: index, size: size, pts: pts, flags: flags})
	s.mu.Unlock()
	if flags.Has(codec.FlagEndOfStream) {
		return nil
	}
	return s.pool.Offer(pool.Token{Index: index})
}

func (s *stubCodec) SetParameters(p codec.Params) error {
	s.mu.Lock()
	s.params = append(s.params, p)
	s.mu.Unlock()
	return nil
}

func (s *stubCodec) calls() []queued {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]queued(nil), s.queued...)
}

// countFiller produces perPass frames of 8 bytes, then runs dry until
// rewound.
type countFiller struct {
	perPass int
	n       int
	rewinds int
}

func (c *countFiller) Fill(buf []byte) (FillResult, error) {
	if c.n >= c.perPass {
		return FillResult{}, nil
	}
	c.n++
	return FillResult{Size: 8}, nil
}

func (c *countFiller) Rewind() error { c.rewinds++; c.n = 0; return nil }
func (c *countFiller) Close() error  { return nil }

func newFeeder(t *testing.T, stub *stubCodec, filler Filler, cc *completion.Controller, mut func(*Config)) *Feeder {
	t.Helper()
	cfg := Config{
		Codec:       stub,
		View:        stub.pool,
		Filler:      filler,
		Completion:  cc,
		PTSBaseUs:   132,
		IntervalUs:  33333.33,
		PollTimeout: 10 * time.Millisecond,
		EOSTimeout:  50 * time.Millisecond,
	}
	if mut != nil {
		mut(&cfg)
	}
	return New(context.Background(), cfg)
}

func last(calls []queued) queued { return calls[len(calls)-1] }

func TestPlayoutLoopsSource(t *testing.T) {
	stub := newStub(t, 2)
	filler := &countFiller{perPass: 10}
	cc := completion.New(context.Background())
	f := newFeeder(t, stub, filler, cc, func(c *Config) { c.PlayoutFrames = 25 })

	f.Run(context.Background())

	calls := stub.calls()
	require.Len(t, calls, 26)
	assert.Equal(t, int64(25), f.Submitted())
	assert.Equal(t, int64(2), f.Loops())
	assert.Equal(t, 2, filler.rewinds)
	assert.True(t, last(calls).flags.Has(codec.FlagEndOfStream))
	assert.Zero(t, last(calls).size)
	assert.True(t, cc.InputDone())
	assert.Equal(t, completion.StateDraining, cc.State())
}

func TestNoLimitsPlaysOnce(t *testing.T) {
	stub := newStub(t, 2)
	filler := &countFiller{perPass: 7}
	cc := completion.New(context.Background())
	f := newFeeder(t, stub, filler, cc, nil)

	f.Run(context.Background())

	assert.Equal(t, int64(7), f.Submitted())
	assert.Zero(t, f.Loops())
	assert.Len(t, stub.calls(), 8)
	assert.True(t, f.EOSSent())
}

func TestPresentationTimesFollowFrameIndex(t *testing.T) {
	stub := newStub(t, 3)
	cc := completion.New(context.Background())
	g := gate.New(30, 30, gate.WithDropFrames([]int{5, 6, 7}))
	f := newFeeder(t, stub, &countFiller{perPass: 20}, cc, func(c *Config) { c.Gate = g })

	f.Run(context.Background())

	calls := stub.calls()
	assert.Equal(t, int64(17), f.Submitted())
	assert.Equal(t, int64(3), f.Skipped())
	require.Len(t, calls, 18)

	assert.Equal(t, int64(132), calls[0].pts)
	assert.Equal(t, int64(132+33333), calls[1].pts)
	// frame 8 follows the dropped 5..7 but keeps its own slot
	assert.Equal(t, int64(132+266666), calls[5].pts)
	for i := 1; i < len(calls); i++ {
		assert.Greater(t, calls[i].pts, calls[i-1].pts)
	}
}

func TestDecimationHalvesRate(t *testing.T) {
	stub := newStub(t, 2)
	cc := completion.New(context.Background())
	f := newFeeder(t, stub, &countFiller{perPass: 60}, cc, func(c *Config) {
		c.Gate = gate.New(60, 30)
		c.IntervalUs = 16666.67
	})

	f.Run(context.Background())

	assert.Equal(t, int64(30), f.Submitted())
	assert.Equal(t, int64(30), f.Skipped())
}

func TestStopTimeEndsInput(t *testing.T) {
	stub := newStub(t, 2)
	cc := completion.New(context.Background())
	// frame n has pts 132+n*100000; the first frame at or past 1s is n=10
	f := newFeeder(t, stub, &countFiller{perPass: 1000}, cc, func(c *Config) {
		c.IntervalUs = 100_000
		c.StopTimeSec = 1
	})

	f.Run(context.Background())

	assert.Equal(t, int64(11), f.Submitted())
	assert.True(t, last(stub.calls()).flags.Has(codec.FlagEndOfStream))
}

func TestScheduleAppliedAtFrame(t *testing.T) {
	stub := newStub(t, 2)
	cc := completion.New(context.Background())
	sched, err := gate.NewSchedule([]gate.Event{{Frame: 3, Kind: gate.KindBitrate, Value: codec.IntValue(500_000)}})
	require.NoError(t, err)
	f := newFeeder(t, stub, &countFiller{perPass: 5}, cc, func(c *Config) { c.Schedule = sched })

	f.Run(context.Background())

	require.Len(t, stub.params, 1)
	assert.Equal(t, int64(500_000), stub.params[0][codec.ParamVideoBitrate].AsInt())
}

func TestSubmitEOSOnce(t *testing.T) {
	stub := newStub(t, 2)
	cc := completion.New(context.Background())
	f := newFeeder(t, stub, &countFiller{perPass: 3}, cc, nil)

	f.SubmitEOS(context.Background())
	f.SubmitEOS(context.Background())
	assert.False(t, f.Iterate(context.Background()))

	calls := stub.calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].flags.Has(codec.FlagEndOfStream))
	assert.Equal(t, int64(132), calls[0].pts)
	assert.True(t, cc.InputDone())
}

func TestSubmitEOSTimeoutForcesCompletion(t *testing.T) {
	stub := newStub(t, 0)
	cc := completion.New(context.Background())
	f := newFeeder(t, stub, &countFiller{perPass: 3}, cc, func(c *Config) { c.EOSTimeout = 20 * time.Millisecond })

	start := time.Now()
	f.SubmitEOS(context.Background())

	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Empty(t, stub.calls())
	assert.Equal(t, ReasonEOSTimeout, cc.Reason())
	assert.Equal(t, completion.StateStopped, cc.State())
}

func TestSubmitEOSCancelledDoesNotForce(t *testing.T) {
	stub := newStub(t, 0)
	cc := completion.New(context.Background())
	f := newFeeder(t, stub, &countFiller{perPass: 3}, cc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.SubmitEOS(ctx)

	assert.Empty(t, cc.Reason())
	assert.Equal(t, completion.StateActive, cc.State())
}

func TestRepeatedQueueFailuresForceCompletion(t *testing.T) {
	stub := newStub(t, 2)
	stub.failAt = 2
	stub.err = &codec.Error{Op: "queue", Transient: true, Err: assert.AnError}
	cc := completion.New(context.Background())
	f := newFeeder(t, stub, &countFiller{perPass: 100}, cc, nil)

	f.Run(context.Background())

	assert.Equal(t, ReasonRepeatedFailures, cc.Reason())
	assert.Equal(t, int64(2), f.Submitted())
	// every failed buffer went back to the view
	assert.Equal(t, 2, stub.pool.Len())
}

func TestIllegalStateStopsFeeding(t *testing.T) {
	stub := newStub(t, 2)
	stub.failAt = 0
	stub.err = codec.ErrIllegalState
	cc := completion.New(context.Background())
	f := newFeeder(t, stub, &countFiller{perPass: 100}, cc, nil)

	assert.False(t, f.Iterate(context.Background()))
	assert.False(t, f.Iterate(context.Background()))
	assert.Zero(t, f.Submitted())
	assert.Empty(t, cc.Reason())
}

func TestCancelStopsRealtimeFeeding(t *testing.T) {
	stub := newStub(t, 2)
	cc := completion.New(context.Background())
	f := newFeeder(t, stub, &countFiller{perPass: 1 << 20}, cc, func(c *Config) { c.Realtime = true })

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	go f.Run(ctx)

	select {
	case <-f.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("feeder did not stop")
	}
	// about 30 fps for 150ms
	assert.Less(t, f.Submitted(), int64(15))
	assert.False(t, f.EOSSent())
}

func TestOnSubmitSeesEveryFrame(t *testing.T) {
	stub := newStub(t, 2)
	cc := completion.New(context.Background())
	var frames []int
	f := newFeeder(t, stub, &countFiller{perPass: 4}, cc, func(c *Config) {
		c.Gate = gate.New(30, 30, gate.WithDropFrames([]int{1}))
		c.OnSubmit = func(frame int, _ int64, size int, _ codec.BufferFlags) {
			frames = append(frames, frame)
			assert.Equal(t, 8, size)
		}
	})

	f.Run(context.Background())

	assert.Equal(t, []int{0, 2, 3}, frames)
}

func TestSampleFillerLoopsWithContinuousTimestamps(t *testing.T) {
	path := writeIVF(t, []uint64{0, 3000, 6000})
	src, err := source.OpenIVF(path)
	require.NoError(t, err)
	defer src.Close()

	stub := newStub(t, 2)
	cc := completion.New(context.Background())
	f := newFeeder(t, stub, NewSampleFiller(src, 3000), cc, func(c *Config) { c.PlayoutFrames = 7 })

	f.Run(context.Background())

	calls := stub.calls()
	require.Len(t, calls, 8)
	want := []int64{0, 3000, 6000, 9000, 12000, 15000, 18000}
	for i, w := range want {
		assert.Equal(t, w, calls[i].pts, "frame %d", i)
	}
	assert.Equal(t, int64(18001), calls[7].pts)
	assert.True(t, calls[0].flags.Has(codec.FlagKeyFrame))
}

// writeIVF writes a VP8 clip with a microsecond timebase.
func writeIVF(t *testing.T, timestamps []uint64) string {
	t.Helper()
	var buf bytes.Buffer
	hdr := make([]byte, 32)
	copy(hdr[0:4], "DKIF")
	binary.LittleEndian.PutUint16(hdr[6:], 32)
	copy(hdr[8:12], "VP80")
	binary.LittleEndian.PutUint16(hdr[12:], 64)
	binary.LittleEndian.PutUint16(hdr[14:], 48)
	binary.LittleEndian.PutUint32(hdr[16:], 1_000_000)
	binary.LittleEndian.PutUint32(hdr[20:], 1)
	binary.LittleEndian.PutUint32(hdr[24:], uint32(len(timestamps)))
	buf.Write(hdr)
	for _, ts := range timestamps {
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[0:], 4)
		binary.LittleEndian.PutUint64(fh[4:], ts)
		buf.Write(fh)
		buf.Write([]byte{0x01, 0x02, 0x03, 0x04})
	}
	path := filepath.Join(t.TempDir(), "clip.ivf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}
