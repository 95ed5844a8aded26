// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pool

import (
	"context"
	"time"

	"github.com/ManuGH/encbench/internal/codec"
)

// InputPoller is the View of a polled codec's free input buffers. Returned
// tokens are served first; the codec is asked only when none are queued.
type InputPoller struct {
	Pool    *Pool
	Codec   codec.SyncCodec
	OnError func(err error)
}

// Take implements View.
func (ip *InputPoller) Take(ctx context.Context, timeout time.Duration) (Token, bool) {
	if tok, ok := ip.Pool.TryTake(); ok {
		return tok, true
	}
	if ctx.Err() != nil || ip.Pool.Closed() {
		return Token{}, false
	}
	idx, err := ip.Codec.DequeueInputBuffer(timeout)
	if err != nil {
		if ip.OnError != nil {
			ip.OnError(err)
		}
		return Token{}, false
	}
	if idx < 0 {
		return Token{}, false
	}
	return Token{Index: idx, Role: RoleInput, Taken: time.Now()}, true
}

// Offer implements View.
func (ip *InputPoller) Offer(tok Token) error { return ip.Pool.Offer(tok) }

// OutputPoller is the View of a polled codec's filled output buffers.
type OutputPoller struct {
	Pool            *Pool
	Codec           codec.SyncCodec
	OnFormatChanged func(format codec.Format)
	OnError         func(err error)
}

// Take implements View.
func (op *OutputPoller) Take(ctx context.Context, timeout time.Duration) (Token, bool) {
	if tok, ok := op.Pool.TryTake(); ok {
		return tok, true
	}
	if ctx.Err() != nil || op.Pool.Closed() {
		return Token{}, false
	}
	idx, info, err := op.Codec.DequeueOutputBuffer(timeout)
	if err != nil {
		if op.OnError != nil {
			op.OnError(err)
		}
		return Token{}, false
	}
	switch {
	case idx == codec.InfoOutputFormatChanged:
		if op.OnFormatChanged != nil {
			op.OnFormatChanged(op.Codec.OutputFormat())
		}
		return Token{}, false
	case idx < 0:
		return Token{}, false
	}
	return Token{Index: idx, Role: RoleOutput, Info: info, Taken: time.Now()}, true
}

// Offer implements View.
func (op *OutputPoller) Offer(tok Token) error { return op.Pool.Offer(tok) }
