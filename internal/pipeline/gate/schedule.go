// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package gate

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ManuGH/encbench/internal/codec"
)

// EventKind selects how an event is turned into codec parameters.
type EventKind string

const (
	KindBitrate     EventKind = "bitrate"
	KindRequestSync EventKind = "request_sync"
	KindParameter   EventKind = "parameter"
)

// Event is a runtime change bound to a frame index.
type Event struct {
	Frame int
	Kind  EventKind
	Key   string
	Value codec.Value
}

// ParamSetter receives parameter bundles.
type ParamSetter interface {
	SetParameters(params codec.Params) error
}

var dispatch = map[EventKind]func(ev Event, out codec.Params){
	KindBitrate: func(ev Event, out codec.Params) {
		out[codec.ParamVideoBitrate] = codec.IntValue(ev.Value.AsInt())
	},
	KindRequestSync: func(_ Event, out codec.Params) {
		out[codec.ParamRequestSyncFrame] = codec.IntValue(0)
	},
	KindParameter: func(ev Event, out codec.Params) {
		out[ev.Key] = ev.Value
	},
}

// Schedule holds runtime events keyed by frame. Each frame's events fire at
// most once.
type Schedule struct {
	mu     sync.Mutex
	events map[int][]Event
}

// NewSchedule indexes events by frame, keeping their relative order.
func NewSchedule(events []Event) (*Schedule, error) {
	s := &Schedule{events: make(map[int][]Event)}
	for _, ev := range events {
		if _, ok := dispatch[ev.Kind]; !ok {
			return nil, fmt.Errorf("runtime event at frame %d: unknown kind %q", ev.Frame, ev.Kind)
		}
		if ev.Kind == KindParameter && ev.Key == "" {
			return nil, fmt.Errorf("runtime parameter at frame %d: empty key", ev.Frame)
		}
		s.events[ev.Frame] = append(s.events[ev.Frame], ev)
	}
	return s, nil
}

// Pending returns the frames that still have unfired events.
func (s *Schedule) Pending() []int {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.events))
	for f := range s.events {
		out = append(out, f)
	}
	sort.Ints(out)
	return out
}

// Due removes and returns the events of frame.
func (s *Schedule) Due(frame int) []Event {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.events[frame]
	delete(s.events, frame)
	return evs
}

// Apply fires the events of frame as one SetParameters call. It returns the
// bundle that was applied, or nil when nothing was due.
func (s *Schedule) Apply(frame int, target ParamSetter) (codec.Params, error) {
	evs := s.Due(frame)
	if len(evs) == 0 {
		return nil, nil
	}
	params := make(codec.Params, len(evs))
	for _, ev := range evs {
		dispatch[ev.Kind](ev, params)
	}
	if err := target.SetParameters(params); err != nil {
		return params, fmt.Errorf("apply runtime parameters at frame %d: %w", frame, err)
	}
	return params, nil
}
