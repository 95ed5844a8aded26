// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import "sync"

// patternExtraWidth is how far the stripe pattern scrolls before repeating.
const patternExtraWidth = 64

// FakeReader generates vertical stripes that scroll one pixel per frame,
// so encoders see motion without any I/O cost. It never runs dry unless
// MaxFrames is set.
type FakeReader struct {
	pf     PixelFormat
	width  int
	height int

	// MaxFrames limits each pass; 0 means unlimited.
	MaxFrames int

	mu      sync.Mutex
	closed  bool
	frames  int
	y, u, v []byte
	scratch []byte
}

// NewFakeReader returns an unopened synthetic source.
func NewFakeReader(pf PixelFormat, width, height int) *FakeReader {
	return &FakeReader{pf: pf, width: width, height: height, closed: true}
}

// Open implements FrameSource.
func (r *FakeReader) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = false
	r.frames = 0
	if r.y != nil {
		return nil
	}

	pw := r.width + patternExtraWidth
	cw, ch := pw/2, (r.height+1)/2
	r.y = make([]byte, pw*r.height)
	r.u = make([]byte, cw*ch)
	r.v = make([]byte, cw*ch)
	for row := 0; row < r.height; row++ {
		for x := 0; x < pw; x++ {
			r.y[row*pw+x] = byte(64 + ((x/16)%4)*48)
		}
	}
	for row := 0; row < ch; row++ {
		for x := 0; x < cw; x++ {
			stripe := (x / 8) % 4
			r.u[row*cw+x] = byte(64 + stripe*32)
			r.v[row*cw+x] = byte(128 + stripe*24)
		}
	}
	return nil
}

// FrameSize implements FrameSource.
func (r *FakeReader) FrameSize() int { return FrameSize(r.width, r.height) }

// PixelFormat implements FrameSource.
func (r *FakeReader) PixelFormat() PixelFormat { return r.pf }

// FillBuffer implements FrameSource.
func (r *FakeReader) FillBuffer(buf []byte, size int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	frameSize := r.FrameSize()
	if r.closed || (r.MaxFrames > 0 && r.frames >= r.MaxFrames) || size < frameSize || len(buf) < frameSize {
		return 0, nil
	}

	offset := r.frames % patternExtraWidth
	pw := r.width + patternExtraWidth
	w, h := r.width, r.height
	cw, ch := (w+1)/2, (h+1)/2
	luma := w * h

	for row := 0; row < h; row++ {
		copy(buf[row*w:row*w+w], r.y[row*pw+offset:])
	}
	chroma := buf[luma:frameSize]
	first, second := r.u, r.v
	if r.pf == PixFmtYVU420P || r.pf == PixFmtNV21 {
		first, second = r.v, r.u
	}
	cpw := pw / 2
	co := offset / 2
	if r.pf.SemiPlanar() {
		for row := 0; row < ch; row++ {
			for x := 0; x < cw; x++ {
				src := row*cpw + x + co
				dst := (row*cw + x) * 2
				chroma[dst] = first[src]
				chroma[dst+1] = second[src]
			}
		}
	} else {
		for row := 0; row < ch; row++ {
			copy(chroma[row*cw:row*cw+cw], first[row*cpw+co:])
			copy(chroma[cw*ch+row*cw:cw*ch+row*cw+cw], second[row*cpw+co:])
		}
	}

	r.frames++
	return frameSize, nil
}

// FillImage implements FrameSource.
func (r *FakeReader) FillImage(img *Image) (int, error) {
	size := r.FrameSize()
	if len(r.scratch) < size {
		r.scratch = make([]byte, size)
	}
	n, err := r.FillBuffer(r.scratch, size)
	if err != nil || n == 0 {
		return n, err
	}
	return PlanarToImage(r.pf, r.scratch[:n], img)
}

// Close implements FrameSource.
func (r *FakeReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// IsClosed implements FrameSource.
func (r *FakeReader) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
