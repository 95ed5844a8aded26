// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type state string
type event string

func testTable() []Transition[state, event] {
	return []Transition[state, event]{
		{From: "idle", Event: "start", To: "running"},
		{From: "running", Event: "stop", To: "stopped"},
	}
}

func TestFireFollowsTable(t *testing.T) {
	m := MustNew[state, event]("idle", testTable())

	var seen []string
	m.OnTransition(func(from, to state, ev event) {
		seen = append(seen, string(from)+">"+string(to))
	})

	to, err := m.Fire(context.Background(), "start")
	require.NoError(t, err)
	assert.Equal(t, state("running"), to)

	to, err = m.Fire(context.Background(), "stop")
	require.NoError(t, err)
	assert.Equal(t, state("stopped"), to)
	assert.Equal(t, []string{"idle>running", "running>stopped"}, seen)
}

func TestFireRejectsUnknownEdge(t *testing.T) {
	m := MustNew[state, event]("idle", testTable())
	assert.False(t, m.Can("stop"))

	cur, err := m.Fire(context.Background(), "stop")
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, state("idle"), cur)
}

func TestGuardBlocksTransition(t *testing.T) {
	blocked := errors.New("blocked")
	m := MustNew[state, event]("idle", []Transition[state, event]{
		{From: "idle", Event: "start", To: "running", Guard: func(context.Context, state, event) error { return blocked }},
	})

	_, err := m.Fire(context.Background(), "start")
	require.ErrorIs(t, err, blocked)
	assert.Equal(t, state("idle"), m.State())
}

func TestNewRejectsDuplicates(t *testing.T) {
	_, err := New[state, event]("idle", []Transition[state, event]{
		{From: "idle", Event: "start", To: "a"},
		{From: "idle", Event: "start", To: "b"},
	})
	require.Error(t, err)
}
