// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pool hands codec buffer indices between pipeline stages. A token
// is owned by exactly one stage at a time; pools are the only way ownership
// moves.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/encbench/internal/codec"
	"github.com/ManuGH/encbench/internal/metrics"
)

// ErrDuplicateToken is returned when a token is offered while the same
// index is already queued.
var ErrDuplicateToken = errors.New("pool: token already queued")

// Role tells which side of a codec a token belongs to.
type Role string

const (
	RoleInput  Role = "input"
	RoleOutput Role = "output"
)

// Token is a handle to a codec-owned buffer.
type Token struct {
	Index int
	Role  Role
	// Info is set for output tokens.
	Info codec.BufferInfo
	// Taken is when the token was last handed to a consumer.
	Taken time.Time
}

// View is what feeders and drainers consume.
type View interface {
	// Take waits up to timeout for a token. It returns false on timeout,
	// cancellation or close; it never returns an error.
	Take(ctx context.Context, timeout time.Duration) (Token, bool)
	// Offer hands a token (back) to the queue. It never blocks.
	Offer(tok Token) error
}

// Stats are lifetime counters for conservation checks.
type Stats struct {
	Offered    int64
	Taken      int64
	Duplicates int64
	MaxDepth   int
}

// Pool is a FIFO of tokens safe for concurrent use.
type Pool struct {
	role Role

	mu       sync.Mutex
	items    []Token
	queued   map[int]struct{}
	maxDepth int

	signal    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once

	offered    atomic.Int64
	taken      atomic.Int64
	duplicates atomic.Int64
}

// New returns an empty pool for role.
func New(role Role) *Pool {
	return &Pool{
		role:   role,
		queued: make(map[int]struct{}),
		signal: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Role returns the pool's role.
func (p *Pool) Role() Role { return p.role }

// Offer appends tok. Offering an index that is already queued is a protocol
// violation: it is rejected and counted.
func (p *Pool) Offer(tok Token) error {
	if tok.Role == "" {
		tok.Role = p.role
	}
	p.mu.Lock()
	if _, dup := p.queued[tok.Index]; dup {
		p.mu.Unlock()
		p.duplicates.Add(1)
		metrics.RecordDuplicateToken()
		return fmt.Errorf("%w: %s index %d", ErrDuplicateToken, p.role, tok.Index)
	}
	p.queued[tok.Index] = struct{}{}
	p.items = append(p.items, tok)
	if len(p.items) > p.maxDepth {
		p.maxDepth = len(p.items)
	}
	p.mu.Unlock()

	p.offered.Add(1)
	p.wake()
	return nil
}

func (p *Pool) wake() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// TryTake pops the oldest token without waiting.
func (p *Pool) TryTake() (Token, bool) {
	p.mu.Lock()
	if len(p.items) == 0 {
		p.mu.Unlock()
		return Token{}, false
	}
	tok := p.items[0]
	p.items[0] = Token{}
	p.items = p.items[1:]
	delete(p.queued, tok.Index)
	remaining := len(p.items)
	p.mu.Unlock()

	if remaining > 0 {
		// pass the wakeup on to the next waiter
		p.wake()
	}
	p.taken.Add(1)
	tok.Taken = time.Now()
	return tok, true
}

// Take implements View.
func (p *Pool) Take(ctx context.Context, timeout time.Duration) (Token, bool) {
	if tok, ok := p.TryTake(); ok {
		return tok, true
	}
	if timeout <= 0 {
		return Token{}, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return Token{}, false
		case <-p.closed:
			return p.TryTake()
		case <-timer.C:
			return p.TryTake()
		case <-p.signal:
			if tok, ok := p.TryTake(); ok {
				return tok, true
			}
		}
	}
}

// Len returns the number of queued tokens.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Close wakes every waiter. Queued tokens stay available to Drain and TryTake.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.closed) })
}

// Closed reports whether Close was called.
func (p *Pool) Closed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// Drain removes and returns everything still queued.
func (p *Pool) Drain() []Token {
	p.mu.Lock()
	out := p.items
	p.items = nil
	clear(p.queued)
	p.mu.Unlock()
	p.taken.Add(int64(len(out)))
	return out
}

// Stats returns lifetime counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	maxDepth := p.maxDepth
	p.mu.Unlock()
	return Stats{
		Offered:    p.offered.Load(),
		Taken:      p.taken.Load(),
		Duplicates: p.duplicates.Load(),
		MaxDepth:   maxDepth,
	}
}
