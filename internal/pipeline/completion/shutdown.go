// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package completion

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/encbench/internal/codec"
	"github.com/ManuGH/encbench/internal/log"
	"github.com/ManuGH/encbench/internal/metrics"
	"github.com/ManuGH/encbench/internal/pipeline/pool"
)

// DefaultJoinTimeout bounds the wait for each worker.
const DefaultJoinTimeout = time.Second

// Worker is a goroutine the run waits for.
type Worker struct {
	Name string
	Done <-chan struct{}
}

// OutputQueue pairs an output pool with the codec its tokens belong to.
type OutputQueue struct {
	Pool  *pool.Pool
	Codec codec.Codec
}

// Resource is anything closed at the end of a run.
type Resource struct {
	Name  string
	Close func() error
}

// Plan lists what Shutdown tears down. Codecs are stopped in the given
// order, so list upstream codecs first.
type Plan struct {
	Pools       []*pool.Pool
	Workers     []Worker
	JoinTimeout time.Duration
	Outputs     []OutputQueue
	Codecs      []codec.Codec
	Muxer       *Resource
	Sources     []Resource
}

// Report describes what Shutdown did.
type Report struct {
	Steps     []string
	TimedOut  []string
	Returned  int
	Abandoned int
	Err       error
}

// Shutdown tears the run down once: cancel workers, close pools, join
// workers, return outstanding output buffers, stop and release codecs,
// release the muxer, close sources. Later calls return the first report.
func (c *Controller) Shutdown(plan Plan) Report {
	c.shutdownOnce.Do(func() {
		c.report = c.shutdown(plan)
	})
	return c.report
}

func (c *Controller) shutdown(plan Plan) Report {
	var (
		rep  Report
		errs []error
	)
	step := func(name string) { rep.Steps = append(rep.Steps, name) }

	step("cancel")
	c.StopAll()

	step("close_pools")
	for _, p := range plan.Pools {
		p.Close()
	}

	step("join")
	timeout := plan.JoinTimeout
	if timeout <= 0 {
		timeout = DefaultJoinTimeout
	}
	for _, w := range plan.Workers {
		if w.Done == nil {
			continue
		}
		timer := time.NewTimer(timeout)
		select {
		case <-w.Done:
		case <-timer.C:
			rep.TimedOut = append(rep.TimedOut, w.Name)
			c.logger.Warn().
				Str(log.FieldEvent, "completion.join_timeout").
				Str(log.FieldComponent, w.Name).
				Dur("timeout", timeout).
				Msg("worker did not stop in time, proceeding")
		}
		timer.Stop()
	}

	step("return_outputs")
	for _, q := range plan.Outputs {
		for _, tok := range q.Pool.Drain() {
			if err := q.Codec.ReleaseOutputBuffer(tok.Index); err != nil {
				if !errors.Is(err, codec.ErrIllegalState) {
					errs = append(errs, fmt.Errorf("return output %d: %w", tok.Index, err))
				}
				metrics.RecordIgnoredRelease("output_buffer")
				continue
			}
			rep.Returned++
		}
	}
	for _, p := range plan.Pools {
		if p.Role() != pool.RoleInput {
			continue
		}
		n := len(p.Drain())
		rep.Abandoned += n
		metrics.RecordAbandonedTokens(string(pool.RoleInput), n)
	}

	step("release_codecs")
	for _, cd := range plan.Codecs {
		if err := cd.Stop(); err != nil && !errors.Is(err, codec.ErrIllegalState) {
			errs = append(errs, fmt.Errorf("stop %s: %w", cd.Name(), err))
		}
		if err := cd.Release(); err != nil {
			if errors.Is(err, codec.ErrIllegalState) {
				metrics.RecordIgnoredRelease("codec")
			} else {
				errs = append(errs, fmt.Errorf("release %s: %w", cd.Name(), err))
			}
		}
	}

	step("release_muxer")
	if plan.Muxer != nil && plan.Muxer.Close != nil {
		if err := plan.Muxer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", plan.Muxer.Name, err))
		}
	}

	step("close_sources")
	for _, s := range plan.Sources {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name, err))
		}
	}

	rep.Err = errors.Join(errs...)
	c.logger.Debug().
		Str(log.FieldEvent, "completion.shutdown").
		Strs("timed_out", rep.TimedOut).
		Int("returned", rep.Returned).
		Int("abandoned", rep.Abandoned).
		Msg("run torn down")
	return rep
}
