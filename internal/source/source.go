// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package source provides raw and compressed frame sources for the
// benchmark pipeline.
package source

import "fmt"

// FakeInputPath selects the synthetic source instead of a file.
const FakeInputPath = "fake_input"

// FrameSource yields raw frames. Open (re)starts from the first frame, so a
// source can be replayed after it ran dry.
type FrameSource interface {
	Open() error
	// FillBuffer copies the next frame into buf[:size]. It returns the
	// number of bytes written; 0 means the source is exhausted.
	FillBuffer(buf []byte, size int) (int, error)
	// FillImage writes the next frame into img honoring its strides.
	FillImage(img *Image) (int, error)
	Close() error
	IsClosed() bool
	// FrameSize is the packed size of one frame.
	FrameSize() int
	PixelFormat() PixelFormat
}

// Open creates and opens the source for path: the synthetic pattern for
// FakeInputPath, a raw YUV file otherwise.
func Open(path string, pf PixelFormat, width, height int) (FrameSource, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("open source %s: invalid size %dx%d", path, width, height)
	}
	var src FrameSource
	if path == FakeInputPath {
		src = NewFakeReader(pf, width, height)
	} else {
		src = NewFileReader(path, pf, width, height)
	}
	if err := src.Open(); err != nil {
		return nil, err
	}
	return src, nil
}
