// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package gate decides per frame whether a source frame is submitted, and
// dispatches scheduled runtime parameter changes.
package gate

import (
	"math"
	"sync"
)

// Drop reasons reported by Decide.
const (
	ReasonNone       = ""
	ReasonDropList   = "drop_list"
	ReasonDecimation = "decimation"
)

// RateChange switches the target frame rate at Frame.
type RateChange struct {
	Frame int
	FPS   float64
}

// Gate holds the frame selection policy of one input stream. It is owned by
// the feeding goroutine; the mutex only guards observers.
type Gate struct {
	mu           sync.Mutex
	reference    float64
	keepInterval float64
	drops        map[int]struct{}
	rates        map[int]float64
	onRate       func(fps float64)
}

// Option configures a Gate.
type Option func(*Gate)

// WithDropFrames drops the listed frame indices.
func WithDropFrames(frames []int) Option {
	return func(g *Gate) {
		for _, f := range frames {
			g.drops[f] = struct{}{}
		}
	}
}

// WithRateChanges schedules dynamic frame rate changes.
func WithRateChanges(changes []RateChange) Option {
	return func(g *Gate) {
		for _, c := range changes {
			if c.FPS > 0 {
				g.rates[c.Frame] = c.FPS
			}
		}
	}
}

// WithRateHook is called with the new rate whenever a rate change fires,
// typically FrameClock.SetFrameRate.
func WithRateHook(fn func(fps float64)) Option {
	return func(g *Gate) { g.onRate = fn }
}

// New returns a gate decimating from referenceFPS to targetFPS.
func New(referenceFPS, targetFPS float64, opts ...Option) *Gate {
	g := &Gate{
		reference: referenceFPS,
		drops:     make(map[int]struct{}),
		rates:     make(map[int]float64),
	}
	g.keepInterval = keepInterval(referenceFPS, targetFPS)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func keepInterval(reference, target float64) float64 {
	if reference <= 0 || target <= 0 {
		return 1
	}
	return reference / target
}

// KeepInterval returns the current decimation ratio.
func (g *Gate) KeepInterval() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.keepInterval
}

// Decimate reports whether frame i is removed when keeping one frame per k.
// The frame that crosses a multiple of k is kept.
func Decimate(i int, k float64) bool {
	if k <= 1 {
		return false
	}
	return math.Floor(float64(i)/k) == math.Floor(float64(i+1)/k)
}

// Decide returns whether frame i is dropped and why. Frames carrying
// end-of-stream are never dropped. A rate change scheduled at i is applied
// after deciding i and affects later frames only.
func (g *Gate) Decide(i int, eos bool) (bool, string) {
	g.mu.Lock()
	reason := ReasonNone
	if !eos {
		if _, ok := g.drops[i]; ok {
			reason = ReasonDropList
		} else if Decimate(i, g.keepInterval) {
			reason = ReasonDecimation
		}
	}

	fps, change := g.rates[i]
	if change {
		delete(g.rates, i)
		g.keepInterval = keepInterval(g.reference, fps)
	}
	hook := g.onRate
	g.mu.Unlock()

	if change && hook != nil {
		hook(fps)
	}
	return reason != ReasonNone, reason
}

// ShouldDrop is Decide without the reason.
func (g *Gate) ShouldDrop(i int, eos bool) bool {
	drop, _ := g.Decide(i, eos)
	return drop
}
