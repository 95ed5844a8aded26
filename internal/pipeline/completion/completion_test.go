// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package completion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/encbench/internal/codec"
	"github.com/ManuGH/encbench/internal/pipeline/pool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestInputThenOutputStops(t *testing.T) {
	c := New(context.Background())
	assert.Equal(t, StateActive, c.State())

	c.MarkInputDone()
	c.MarkInputDone()
	assert.Equal(t, StateDraining, c.State())
	select {
	case <-c.Done():
		t.Fatal("done before output finished")
	default:
	}

	c.MarkOutputDone()
	assert.Equal(t, StateStopped, c.State())
	require.NoError(t, c.Wait(context.Background()))
	assert.Empty(t, c.Reason())
	assert.NoError(t, c.Context().Err(), "workers keep running until shutdown")
}

func TestForceCompleteKeepsFirstReason(t *testing.T) {
	c := New(context.Background())
	c.ForceComplete("eos_timeout")
	c.ForceComplete("codec_error")

	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, "eos_timeout", c.Reason())
	assert.True(t, c.InputDone())
	assert.True(t, c.OutputDone())
}

func TestWaitHonoursContext(t *testing.T) {
	c := New(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)
}

func TestStopAllIsIdempotentAndWakesWaiters(t *testing.T) {
	c := New(context.Background())

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Wait(context.Background())
		}()
	}
	c.StopAll()
	c.StopAll()
	wg.Wait()

	assert.ErrorIs(t, c.Context().Err(), context.Canceled)
	assert.True(t, c.InputDone())
	assert.True(t, c.OutputDone())
}

type stubCodec struct {
	name     string
	calls    *[]string
	released []int
	stopErr  error
}

func (s *stubCodec) Name() string                     { return s.name }
func (s *stubCodec) Configure(codec.Format) error     { return nil }
func (s *stubCodec) Start() error                     { return nil }
func (s *stubCodec) Flush() error                     { return nil }
func (s *stubCodec) InputBuffer(int) ([]byte, error)  { return nil, nil }
func (s *stubCodec) OutputBuffer(int) ([]byte, error) { return nil, nil }
func (s *stubCodec) InputFormat() codec.Format        { return nil }
func (s *stubCodec) OutputFormat() codec.Format       { return nil }
func (s *stubCodec) SetParameters(codec.Params) error { return nil }

func (s *stubCodec) QueueInputBuffer(int, int, int, int64, codec.BufferFlags) error {
	return nil
}

func (s *stubCodec) Stop() error {
	*s.calls = append(*s.calls, "stop "+s.name)
	return s.stopErr
}

func (s *stubCodec) Release() error {
	*s.calls = append(*s.calls, "release "+s.name)
	return nil
}

func (s *stubCodec) ReleaseOutputBuffer(i int) error {
	*s.calls = append(*s.calls, "return "+s.name)
	s.released = append(s.released, i)
	return nil
}

func TestShutdownOrdering(t *testing.T) {
	c := New(context.Background())
	var calls []string

	in := pool.New(pool.RoleInput)
	out := pool.New(pool.RoleOutput)
	require.NoError(t, in.Offer(pool.Token{Index: 0}))
	require.NoError(t, out.Offer(pool.Token{Index: 2}))
	require.NoError(t, out.Offer(pool.Token{Index: 3}))

	dec := &stubCodec{name: "dec", calls: &calls, stopErr: codec.ErrIllegalState}
	enc := &stubCodec{name: "enc", calls: &calls}

	feederDone := make(chan struct{})
	go func() {
		defer close(feederDone)
		<-c.Context().Done()
		_, ok := in.Take(context.Background(), time.Second)
		_ = ok
	}()
	stuck := make(chan struct{})
	defer close(stuck)

	rep := c.Shutdown(Plan{
		Pools:       []*pool.Pool{in, out},
		Workers:     []Worker{{Name: "feeder", Done: feederDone}, {Name: "writer", Done: stuck}},
		JoinTimeout: 20 * time.Millisecond,
		Outputs:     []OutputQueue{{Pool: out, Codec: enc}},
		Codecs:      []codec.Codec{dec, enc},
		Muxer: &Resource{Name: "muxer", Close: func() error {
			calls = append(calls, "muxer")
			return nil
		}},
		Sources: []Resource{{Name: "source", Close: func() error {
			calls = append(calls, "source")
			return errors.New("already closed")
		}}},
	})

	assert.Equal(t, []string{"cancel", "close_pools", "join", "return_outputs", "release_codecs", "release_muxer", "close_sources"}, rep.Steps)
	assert.Equal(t, []string{"writer"}, rep.TimedOut)
	assert.Equal(t, 2, rep.Returned)
	assert.Equal(t, []int{2, 3}, enc.released)
	assert.Equal(t, []string{
		"return enc", "return enc",
		"stop dec", "release dec",
		"stop enc", "release enc",
		"muxer", "source",
	}, calls)
	require.Error(t, rep.Err)
	assert.Contains(t, rep.Err.Error(), "close source")
	assert.Equal(t, StateStopped, c.State())

	again := c.Shutdown(Plan{})
	assert.Equal(t, rep.Steps, again.Steps)
}
