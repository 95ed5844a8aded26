// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package encoder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/encbench/internal/codec"
	"github.com/ManuGH/encbench/internal/config"
	"github.com/ManuGH/encbench/internal/log"
	"github.com/ManuGH/encbench/internal/metrics"
	"github.com/ManuGH/encbench/internal/muxer"
	"github.com/ManuGH/encbench/internal/pipeline/completion"
	"github.com/ManuGH/encbench/internal/pipeline/pool"
	"github.com/ManuGH/encbench/internal/stats"
)

// workerCheckInterval is how often Wait looks for workers that exited
// without completing the run.
const workerCheckInterval = 50 * time.Millisecond

// session is the state every strategy shares: completion controller,
// statistics, output file and the teardown plan that grows as resources
// are created.
type session struct {
	test   config.Test
	opts   Options
	logger zerolog.Logger

	ctl     *completion.Controller
	stats   *stats.Statistics
	mux     *muxer.File
	plan    completion.Plan
	workers []completion.Worker
	began   time.Time
	started bool

	// collect adds strategy specific numbers to the result.
	collect func(r *Result)

	waitOnce sync.Once
	result   Result
}

func newSession(t config.Test, opts Options) *session {
	return &session{
		test:  t,
		opts:  opts,
		stats: stats.New(t.Common.Description),
		plan:  completion.Plan{JoinTimeout: t.Setup.JoinTimeout},
	}
}

// begin creates the controller. Every later step may fail and call abort.
func (s *session) begin(ctx context.Context) {
	ctx = log.ContextWithTestID(ctx, s.test.Common.ID)
	s.logger = log.WithComponentFromContext(ctx, "encoder").With().
		Str(log.FieldMode, s.test.Setup.Mode).
		Str(log.FieldStatID, s.stats.ID()).
		Logger()
	s.ctl = completion.New(ctx)
	s.began = time.Now()
	s.stats.SetVersion(s.opts.Version)
	s.stats.SetSourceFile(s.test.Input.Filepath)
}

// runContext is cancelled when the run's workers must stop.
func (s *session) runContext() context.Context { return s.ctl.Context() }

// abort releases whatever setup created so far and returns err.
func (s *session) abort(err error) error {
	rep := s.ctl.Shutdown(s.plan)
	s.logger.Error().
		Str(log.FieldEvent, "encoder.setup_failed").
		Err(err).
		Strs("steps", rep.Steps).
		Msg("run setup failed")
	return err
}

// addCodec registers c for teardown. Upstream codecs must be added first.
func (s *session) addCodec(c codec.Codec) {
	s.plan.Codecs = append(s.plan.Codecs, c)
}

func (s *session) addPools(v *views, c codec.Codec) {
	s.plan.Pools = append(s.plan.Pools, v.in, v.out)
	s.plan.Outputs = append(s.plan.Outputs, completion.OutputQueue{Pool: v.out, Codec: c})
}

func (s *session) addSource(name string, closeFn func() error) {
	s.plan.Sources = append(s.plan.Sources, completion.Resource{Name: name, Close: closeFn})
}

func (s *session) addWorker(name string, done <-chan struct{}) {
	w := completion.Worker{Name: name, Done: done}
	s.workers = append(s.workers, w)
	s.plan.Workers = append(s.plan.Workers, w)
}

// openMuxer creates the output file for mime. It returns nil when the
// test writes no output.
func (s *session) openMuxer(mime string) (*muxer.File, error) {
	if s.test.Configure.Container == config.ContainerNone {
		return nil, nil
	}
	c, err := muxer.ParseContainer(s.test.Configure.Container)
	if err != nil {
		return nil, err
	}
	if c == "" {
		c = muxer.ForMime(mime)
	}
	dir := s.test.Common.OutputDir
	if dir == "" {
		dir = s.opts.OutputDir
	}
	if dir == "" {
		dir = "."
	}
	m, err := muxer.New(muxer.OutputPath(dir, s.stats.ID(), c, mime), c, mime)
	if err != nil {
		return nil, err
	}
	s.mux = m
	s.plan.Muxer = &completion.Resource{Name: "muxer", Close: m.Release}
	s.stats.SetEncodedFile(m.Path())
	return m, nil
}

// codecError classifies runtime errors reported outside of a direct call:
// transient errors are logged, fatal ones end the run.
func (s *session) codecError(role string) func(err error) {
	return func(err error) {
		transient := codec.IsTransient(err)
		if errors.Is(err, codec.ErrIllegalState) {
			// polling a codec that was already stopped
			return
		}
		metrics.RecordCodecError(role, transient)
		if transient {
			s.logger.Warn().Str(log.FieldEvent, "encoder.codec_error").Str(log.FieldRole, role).Err(err).Msg("transient codec error")
			return
		}
		s.logger.Error().Str(log.FieldEvent, "encoder.codec_error").Str(log.FieldRole, role).Err(err).Msg("fatal codec error")
		s.ctl.ForceComplete(ReasonCodecError)
	}
}

// launched marks setup as finished.
func (s *session) launched() {
	s.started = true
	s.stats.Start()
	s.logger.Info().
		Str(log.FieldEvent, "encoder.started").
		Str(log.FieldCodec, s.test.Configure.Codec).
		Str(log.FieldResolution, s.test.Configure.Resolution).
		Float64(log.FieldFPS, s.test.Configure.Framerate).
		Str(log.FieldBitrate, s.test.Configure.Bitrate).
		Bool("realtime", s.test.Input.Realtime).
		Msg("run started")
}

// Stop implements Runner.
func (s *session) Stop() {
	if s.ctl != nil {
		s.ctl.StopAll()
	}
}

// Wait implements Runner.
func (s *session) Wait(ctx context.Context) Result {
	s.waitOnce.Do(func() {
		if !s.started {
			s.result = Result{TestID: s.test.Common.ID, Mode: s.test.Setup.Mode, Stats: s.stats}
			return
		}
		s.await(ctx)
		rep := s.ctl.Shutdown(s.plan)
		s.stats.Stop()
		s.result = Result{
			TestID:   s.test.Common.ID,
			Mode:     s.test.Setup.Mode,
			Stats:    s.stats,
			Forced:   s.ctl.Reason(),
			Shutdown: rep,
			Elapsed:  time.Since(s.began),
		}
		if s.mux != nil {
			s.result.OutputPath = s.mux.Path()
		}
		if s.collect != nil {
			s.collect(&s.result)
		}
		s.result.Counters = s.ctl.Counters.Snapshot()

		ev := s.logger.Info()
		if rep.Err != nil || s.result.Forced != "" {
			ev = s.logger.Warn().AnErr("shutdown_error", rep.Err)
		}
		ev.Str(log.FieldEvent, "encoder.finished").
			Int64("submitted", s.result.Counters.Submitted).
			Int64("encoded", s.result.Counters.Encoded).
			Int64("decoded", s.result.Counters.Decoded).
			Int64("skipped", s.result.Counters.Skipped).
			Str("forced", s.result.Forced).
			Dur("elapsed", s.result.Elapsed).
			Msg("run finished")
	})
	return s.result
}

// await blocks until the run stopped, ctx ended or every worker exited
// without completing the run.
func (s *session) await(ctx context.Context) {
	ticker := time.NewTicker(workerCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctl.Done():
			return
		case <-ctx.Done():
			s.ctl.ForceComplete(ReasonCancelled)
			return
		case <-ticker.C:
			if s.workersExited() {
				s.ctl.ForceComplete(ReasonWorkersExited)
				return
			}
		}
	}
}

func (s *session) workersExited() bool {
	for _, w := range s.workers {
		select {
		case <-w.Done:
		default:
			return false
		}
	}
	return len(s.workers) > 0
}

// views are the token queues of one codec: pools fed by callbacks for
// asynchronous codecs, pollers for synchronous ones.
type views struct {
	in, out      *pool.Pool
	input        pool.View
	output       pool.View
	asynchronous bool
}

// attach selects how c hands out buffers. It must run before Configure.
// onFormat may be called on the codec's dispatch goroutine.
func (s *session) attach(c codec.Codec, info codec.Info, preferAsync bool, role string, onFormat func(codec.Format)) (*views, error) {
	v := &views{in: pool.New(pool.RoleInput), out: pool.New(pool.RoleOutput)}
	onError := s.codecError(role)

	if ac, ok := c.(codec.AsyncCodec); ok && info.Async && preferAsync {
		err := ac.SetCallback(codec.CallbackFuncs{
			InputAvailable: func(index int) {
				s.offer(v.in, pool.Token{Index: index, Role: pool.RoleInput, Taken: time.Now()})
			},
			OutputAvailable: func(index int, bi codec.BufferInfo) {
				s.offer(v.out, pool.Token{Index: index, Role: pool.RoleOutput, Info: bi, Taken: time.Now()})
			},
			FormatChanged: onFormat,
			Error:         func(err *codec.Error) { onError(err) },
		})
		if err != nil {
			return nil, err
		}
		v.input, v.output, v.asynchronous = v.in, v.out, true
		return v, nil
	}

	sc, ok := c.(codec.SyncCodec)
	if !ok {
		return nil, fmt.Errorf("codec %s supports neither polling nor callbacks", c.Name())
	}
	v.input = &pool.InputPoller{Pool: v.in, Codec: sc, OnError: onError}
	v.output = &pool.OutputPoller{Pool: v.out, Codec: sc, OnFormatChanged: onFormat, OnError: onError}
	return v, nil
}

// offer hands a token from a codec callback to its pool. Nothing else
// runs on the callback goroutine.
func (s *session) offer(p *pool.Pool, tok pool.Token) {
	if err := p.Offer(tok); err != nil {
		s.logger.Warn().
			Str(log.FieldEvent, "encoder.offer_rejected").
			Str(log.FieldRole, string(tok.Role)).
			Int(log.FieldBufferIndex, tok.Index).
			Err(err).
			Msg("codec returned a buffer twice")
	}
}
