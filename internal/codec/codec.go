// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package codec defines the buffer-queue contract every benchmarked codec
// implements, in synchronous (polling) and asynchronous (callback) flavours.
//
// Lifecycle: Configure -> Start -> {queue/dequeue or callbacks} -> Stop -> Release.
// Buffers are identified by integer indices owned by the codec until handed
// out, and must be handed back exactly once.
package codec

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// BufferFlags mark special buffers.
type BufferFlags uint32

const (
	FlagKeyFrame    BufferFlags = 1 << iota // sync frame
	FlagCodecConfig                         // codec-specific data, not media
	FlagEndOfStream                         // last buffer of the stream
)

// Has reports whether all bits of flag are set.
func (f BufferFlags) Has(flag BufferFlags) bool { return f&flag == flag }

func (f BufferFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	if f.Has(FlagKeyFrame) {
		parts = append(parts, "key")
	}
	if f.Has(FlagCodecConfig) {
		parts = append(parts, "config")
	}
	if f.Has(FlagEndOfStream) {
		parts = append(parts, "eos")
	}
	return strings.Join(parts, "|")
}

// BufferInfo describes the valid region of a buffer.
type BufferInfo struct {
	Offset             int
	Size               int
	PresentationTimeUs int64
	Flags              BufferFlags
}

// Special indices returned by the dequeue calls of a SyncCodec.
const (
	InfoTryAgainLater       = -1
	InfoOutputFormatChanged = -2
)

// ErrIllegalState is returned for operations not valid in the codec's
// current state, e.g. releasing a buffer after Stop.
var ErrIllegalState = errors.New("codec: illegal state")

// Error is a runtime codec failure.
type Error struct {
	Op        string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("codec %s (%s): %v", e.Op, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a codec error the pipeline may ride out.
func IsTransient(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Transient
	}
	return false
}

// Codec is the part of the contract shared by both driving modes.
type Codec interface {
	Name() string
	Configure(format Format) error
	Start() error
	Stop() error
	Flush() error
	Release() error

	InputBuffer(index int) ([]byte, error)
	OutputBuffer(index int) ([]byte, error)
	QueueInputBuffer(index, offset, size int, ptsUs int64, flags BufferFlags) error
	ReleaseOutputBuffer(index int) error

	InputFormat() Format
	OutputFormat() Format
	SetParameters(params Params) error
}

// SyncCodec is driven by polling.
type SyncCodec interface {
	Codec
	// DequeueInputBuffer returns a free input index or InfoTryAgainLater.
	DequeueInputBuffer(timeout time.Duration) (int, error)
	// DequeueOutputBuffer returns a filled output index, InfoTryAgainLater or
	// InfoOutputFormatChanged.
	DequeueOutputBuffer(timeout time.Duration) (int, BufferInfo, error)
}

// Callback receives notifications from an AsyncCodec on the codec's own
// dispatch goroutine. Implementations must not block.
type Callback interface {
	OnInputBufferAvailable(index int)
	OnOutputBufferAvailable(index int, info BufferInfo)
	OnOutputFormatChanged(format Format)
	OnError(err *Error)
}

// AsyncCodec delivers buffers through a Callback. SetCallback must be called
// before Configure.
type AsyncCodec interface {
	Codec
	SetCallback(cb Callback) error
}

// CallbackFuncs adapts plain functions to Callback. Nil fields are ignored.
type CallbackFuncs struct {
	InputAvailable  func(index int)
	OutputAvailable func(index int, info BufferInfo)
	FormatChanged   func(format Format)
	Error           func(err *Error)
}

func (c CallbackFuncs) OnInputBufferAvailable(index int) {
	if c.InputAvailable != nil {
		c.InputAvailable(index)
	}
}

func (c CallbackFuncs) OnOutputBufferAvailable(index int, info BufferInfo) {
	if c.OutputAvailable != nil {
		c.OutputAvailable(index, info)
	}
}

func (c CallbackFuncs) OnOutputFormatChanged(format Format) {
	if c.FormatChanged != nil {
		c.FormatChanged(format)
	}
}

func (c CallbackFuncs) OnError(err *Error) {
	if c.Error != nil {
		c.Error(err)
	}
}
