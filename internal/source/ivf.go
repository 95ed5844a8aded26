// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"
	"os"
	"path/filepath"
	"sync"

	"github.com/pion/webrtc/v4/pkg/media/ivfreader"

	"github.com/ManuGH/encbench/internal/codec"
)

// StreamInfo describes a compressed input stream.
type StreamInfo struct {
	Mime      string
	FourCC    string
	Width     int
	Height    int
	FrameRate float64 // 0 when the container does not say
	Frames    int
}

// Sample is one compressed access unit.
type Sample struct {
	Size  int
	PTSUs int64
	Key   bool
}

// SampleSource yields compressed samples for decoding.
type SampleSource interface {
	Open() error
	// ReadSample copies the next sample into buf. Size 0 means exhausted.
	ReadSample(buf []byte) (Sample, error)
	Info() StreamInfo
	Close() error
	IsClosed() bool
}

// IVFReader reads samples from an IVF file.
type IVFReader struct {
	path string

	mu     sync.Mutex
	file   *os.File
	reader *ivfreader.IVFReader
	header *ivfreader.IVFFileHeader
	count  int
	closed bool
}

// OpenIVF opens path and parses its header.
func OpenIVF(path string) (*IVFReader, error) {
	r := &IVFReader{path: filepath.Clean(path), closed: true}
	if err := r.Open(); err != nil {
		return nil, err
	}
	return r, nil
}

// Open implements SampleSource; it rewinds to the first sample.
func (r *IVFReader) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
	// #nosec G304 -- input paths come from the operator's suite file
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("open ivf input: %w", err)
	}
	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("parse ivf header %s: %w", r.path, err)
	}
	if header.TimebaseNumerator == 0 {
		_ = f.Close()
		return fmt.Errorf("parse ivf header %s: zero timebase numerator", r.path)
	}
	r.file, r.reader, r.header = f, reader, header
	r.count = 0
	r.closed = false
	return nil
}

// Info implements SampleSource.
func (r *IVFReader) Info() StreamInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.header == nil {
		return StreamInfo{}
	}
	h := r.header
	info := StreamInfo{
		FourCC: h.FourCC,
		Mime:   codec.MimeFromFourCC(h.FourCC),
		Width:  int(h.Width),
		Height: int(h.Height),
		Frames: int(h.NumFrames),
	}
	if h.TimebaseNumerator > 0 {
		if fps := float64(h.TimebaseDenominator) / float64(h.TimebaseNumerator); fps <= 240 {
			info.FrameRate = fps
		}
	}
	return info
}

// ReadSample implements SampleSource.
func (r *IVFReader) ReadSample(buf []byte) (Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.reader == nil {
		return Sample{}, nil
	}
	payload, fh, err := r.reader.ParseNextFrame()
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Sample{}, nil
	}
	if err != nil {
		return Sample{}, fmt.Errorf("read ivf frame: %w", err)
	}
	if len(payload) > len(buf) {
		return Sample{}, fmt.Errorf("ivf frame of %d bytes exceeds input buffer of %d", len(payload), len(buf))
	}
	n := copy(buf, payload)

	pts := ticksToUs(headerTicks(fh.Timestamp, r.header), r.header)
	s := Sample{Size: n, PTSUs: pts, Key: r.count == 0 || isVP8Key(r.header.FourCC, payload)}
	r.count++
	return s, nil
}

// headerTicks recovers the frame header timestamp in timebase ticks.
// ivfreader reports it as ticks*den/num rounded down; rounding back up is
// exact while num <= den.
func headerTicks(ts uint64, h *ivfreader.IVFFileHeader) uint64 {
	num, den := uint64(h.TimebaseNumerator), uint64(h.TimebaseDenominator)
	if num == den || den == 0 {
		return ts
	}
	hi, lo := bits.Mul64(ts, num)
	hi, lo, carry := addUint128(hi, lo, den-1)
	if carry != 0 || hi >= den {
		return ts * num / den
	}
	q, _ := bits.Div64(hi, lo, den)
	return q
}

func addUint128(hi, lo, v uint64) (uint64, uint64, uint64) {
	lo, c := bits.Add64(lo, v, 0)
	hi, c = bits.Add64(hi, 0, c)
	return hi, lo, c
}

// ticksToUs converts ticks of num/den seconds to microseconds.
func ticksToUs(ticks uint64, h *ivfreader.IVFFileHeader) int64 {
	num, den := uint64(h.TimebaseNumerator), uint64(h.TimebaseDenominator)
	if den == 0 {
		return 0
	}
	hi, lo := bits.Mul64(ticks, num*1_000_000)
	if hi >= den {
		return math.MaxInt64
	}
	q, _ := bits.Div64(hi, lo, den)
	if q > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(q)
}

func isVP8Key(fourcc string, payload []byte) bool {
	return fourcc == "VP80" && len(payload) > 0 && payload[0]&0x01 == 0
}

// Close implements SampleSource.
func (r *IVFReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.reader = nil
	return err
}

// IsClosed implements SampleSource.
func (r *IVFReader) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
