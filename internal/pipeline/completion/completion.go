// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package completion decides when a pipeline run is over and tears it down
// in a fixed order.
package completion

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/ManuGH/encbench/internal/log"
	"github.com/ManuGH/encbench/internal/metrics"
	"github.com/ManuGH/encbench/internal/pipeline/fsm"
)

// State of a run.
type State string

const (
	StateActive   State = "ACTIVE"
	StateDraining State = "DRAINING"
	StateStopped  State = "STOPPED"
)

// Event moves a run between states.
type Event string

const (
	EventInputDone  Event = "input_done"
	EventOutputDone Event = "output_done"
	EventForce      Event = "force"
)

var transitions = []fsm.Transition[State, Event]{
	{From: StateActive, Event: EventInputDone, To: StateDraining},
	{From: StateActive, Event: EventOutputDone, To: StateStopped},
	{From: StateActive, Event: EventForce, To: StateStopped},
	{From: StateDraining, Event: EventOutputDone, To: StateStopped},
	{From: StateDraining, Event: EventForce, To: StateStopped},
}

// Counters are the per-run frame tallies shared by all stages.
type Counters struct {
	Submitted atomic.Int64
	Decoded   atomic.Int64
	Encoded   atomic.Int64
	Skipped   atomic.Int64
}

// Snapshot is a copy of Counters.
type Snapshot struct {
	Submitted int64 `json:"submitted"`
	Decoded   int64 `json:"decoded"`
	Encoded   int64 `json:"encoded"`
	Skipped   int64 `json:"skipped"`
}

// Snapshot reads all counters.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Submitted: c.Submitted.Load(),
		Decoded:   c.Decoded.Load(),
		Encoded:   c.Encoded.Load(),
		Skipped:   c.Skipped.Load(),
	}
}

// Controller observes every stage of one run. All methods are safe for
// concurrent use and idempotent.
type Controller struct {
	Counters Counters

	machine *fsm.Machine[State, Event]
	fireMu  sync.Mutex

	inputDone  atomic.Bool
	outputDone atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once

	reasonMu sync.Mutex
	reason   string

	shutdownOnce sync.Once
	report       Report

	logger zerolog.Logger
}

// New returns a controller whose worker context derives from parent.
func New(parent context.Context) *Controller {
	ctx, cancel := context.WithCancel(parent)
	c := &Controller{
		machine: fsm.MustNew(StateActive, transitions),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  log.WithComponentFromContext(parent, "completion"),
	}
	c.machine.OnTransition(func(from, to State, ev Event) {
		c.logger.Debug().
			Str(log.FieldEvent, "completion.transition").
			Str(log.FieldOldState, string(from)).
			Str(log.FieldNewState, string(to)).
			Str("trigger", string(ev)).
			Msg("run state changed")
		if to == StateStopped {
			c.closeDone()
		}
	})
	return c
}

// Context is cancelled when workers must stop.
func (c *Controller) Context() context.Context { return c.ctx }

// State returns the current run state.
func (c *Controller) State() State { return c.machine.State() }

func (c *Controller) fire(ev Event) {
	c.fireMu.Lock()
	defer c.fireMu.Unlock()
	if c.machine.Can(ev) {
		_, _ = c.machine.Fire(c.ctx, ev)
	}
}

func (c *Controller) closeDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// MarkInputDone records that end-of-stream was submitted.
func (c *Controller) MarkInputDone() {
	if c.inputDone.Swap(true) {
		return
	}
	c.fire(EventInputDone)
}

// MarkOutputDone records that end-of-stream came out of the last stage.
func (c *Controller) MarkOutputDone() {
	if c.outputDone.Swap(true) {
		return
	}
	c.fire(EventOutputDone)
}

// InputDone reports whether input finished.
func (c *Controller) InputDone() bool { return c.inputDone.Load() }

// OutputDone reports whether output finished.
func (c *Controller) OutputDone() bool { return c.outputDone.Load() }

// ForceComplete ends the run without waiting for end-of-stream. Only the
// first reason is kept.
func (c *Controller) ForceComplete(reason string) {
	c.reasonMu.Lock()
	first := c.reason == "" && c.State() != StateStopped
	if first {
		c.reason = reason
	}
	c.reasonMu.Unlock()
	if first {
		metrics.RecordForcedCompletion(reason)
		c.logger.Warn().
			Str(log.FieldEvent, "completion.forced").
			Str("reason", reason).
			Msg("forcing run completion")
	}
	c.inputDone.Store(true)
	c.outputDone.Store(true)
	c.fire(EventForce)
}

// Reason returns why the run was forced to complete, or "".
func (c *Controller) Reason() string {
	c.reasonMu.Lock()
	defer c.reasonMu.Unlock()
	return c.reason
}

// StopAll sets both flags, interrupts every worker and wakes all waiters.
func (c *Controller) StopAll() {
	c.inputDone.Store(true)
	c.outputDone.Store(true)
	c.fire(EventForce)
	c.cancel()
	c.closeDone()
}

// Done is closed once the run reached STOPPED.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Wait blocks until the run stopped or ctx ends.
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
