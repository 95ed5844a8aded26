// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resilience turns recurring pipeline failures into a single decision.
package resilience

import (
	"sync"

	"github.com/ManuGH/encbench/internal/metrics"
)

// DefaultThreshold is used when a breaker is created without one.
const DefaultThreshold = 3

// Trip describes why a breaker gave up.
type Trip struct {
	Name     string
	Op       string
	Failures int
	Err      error
}

// Breaker counts consecutive failures of one component. Once threshold
// failures happened in a row it trips and stays tripped: a run that keeps
// failing is over, there is nothing to probe.
type Breaker struct {
	mu        sync.Mutex
	name      string
	threshold int
	failures  int
	byOp      map[string]int
	tripped   bool
	onTrip    func(Trip)
}

// New returns a breaker for component name. onTrip may be nil; it runs once,
// outside the breaker's lock, on the failure that trips it.
func New(name string, threshold int, onTrip func(Trip)) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	metrics.SetConsecutiveFailures(name, 0)
	return &Breaker{
		name:      name,
		threshold: threshold,
		byOp:      make(map[string]int),
		onTrip:    onTrip,
	}
}

// Failure records a failed op and reports whether this call tripped the
// breaker.
func (b *Breaker) Failure(op string, err error) bool {
	b.mu.Lock()
	b.failures++
	b.byOp[op]++
	metrics.SetConsecutiveFailures(b.name, b.failures)
	if b.tripped || b.failures < b.threshold {
		b.mu.Unlock()
		return false
	}
	b.tripped = true
	trip := Trip{Name: b.name, Op: op, Failures: b.failures, Err: err}
	hook := b.onTrip
	b.mu.Unlock()

	metrics.RecordBreakerTrip(b.name, op)
	if hook != nil {
		hook(trip)
	}
	return true
}

// Success ends the current failure streak. A tripped breaker stays tripped.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures == 0 {
		return
	}
	b.failures = 0
	metrics.SetConsecutiveFailures(b.name, 0)
}

// Tripped reports whether the breaker gave up.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}

// Failures is the current streak.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// FailuresByOp counts every failure seen per operation, streaks or not.
func (b *Breaker) FailuresByOp() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.byOp))
	for k, v := range b.byOp {
		out[k] = v
	}
	return out
}
