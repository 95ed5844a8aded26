// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ManuGH/encbench/internal/log"
)

// FileReader reads packed raw frames from a file.
type FileReader struct {
	path   string
	pf     PixelFormat
	width  int
	height int

	mu      sync.Mutex
	file    *os.File
	reader  *bufio.Reader
	closed  bool
	frames  int
	scratch []byte
}

// NewFileReader returns an unopened reader.
func NewFileReader(path string, pf PixelFormat, width, height int) *FileReader {
	return &FileReader{path: filepath.Clean(path), pf: pf, width: width, height: height, closed: true}
}

// Open implements FrameSource.
func (r *FileReader) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		_ = r.file.Close()
	}
	// #nosec G304 -- input paths come from the operator's suite file
	f, err := os.Open(r.path)
	if err != nil {
		r.closed = true
		return fmt.Errorf("open raw input: %w", err)
	}
	r.file = f
	r.reader = bufio.NewReaderSize(f, r.FrameSize())
	r.closed = false
	r.frames = 0
	return nil
}

// FrameSize implements FrameSource.
func (r *FileReader) FrameSize() int { return FrameSize(r.width, r.height) }

// PixelFormat implements FrameSource.
func (r *FileReader) PixelFormat() PixelFormat { return r.pf }

// FillBuffer implements FrameSource. A trailing partial frame counts as
// exhaustion.
func (r *FileReader) FillBuffer(buf []byte, size int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, nil
	}
	if size > len(buf) {
		size = len(buf)
	}
	n, err := io.ReadFull(r.reader, buf[:size])
	switch {
	case errors.Is(err, io.EOF):
		return 0, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		logger := log.WithComponent("source")
		logger.Debug().
			Str(log.FieldPath, r.path).
			Int("bytes", n).
			Int("want", size).
			Msg("discarding partial trailing frame")
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read raw input: %w", err)
	}
	r.frames++
	return n, nil
}

// FillImage implements FrameSource.
func (r *FileReader) FillImage(img *Image) (int, error) {
	size := r.FrameSize()
	if len(r.scratch) < size {
		r.scratch = make([]byte, size)
	}
	n, err := r.FillBuffer(r.scratch, size)
	if err != nil || n == 0 {
		return n, err
	}
	if _, err := PlanarToImage(r.pf, r.scratch[:n], img); err != nil {
		return 0, err
	}
	return n, nil
}

// Close implements FrameSource.
func (r *FileReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed && r.file == nil {
		return nil
	}
	r.closed = true
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.reader = nil
	return err
}

// IsClosed implements FrameSource.
func (r *FileReader) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Frames returns the frames read since the last Open.
func (r *FileReader) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}
