// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package feeder

import (
	"fmt"

	"github.com/ManuGH/encbench/internal/codec"
	"github.com/ManuGH/encbench/internal/source"
)

// FillResult describes what a Filler wrote into a codec buffer.
type FillResult struct {
	// Size is the number of valid bytes; 0 means the pass is exhausted.
	Size int
	// PTSUs is the sample's own timestamp when HasPTS is set. Raw frames
	// carry none and are stamped from their index.
	PTSUs  int64
	HasPTS bool
	Key    bool
}

// Filler copies the next frame or sample into a codec input buffer.
type Filler interface {
	Fill(buf []byte) (FillResult, error)
	// Rewind restarts from the first frame for another pass.
	Rewind() error
	Close() error
}

// RawFiller feeds raw frames, repacking them into the codec's input
// layout when it is padded or uses a different chroma arrangement.
type RawFiller struct {
	src    source.FrameSource
	layout source.Layout
	direct bool
}

// NewRawFiller fills buffers laid out as layout from src.
func NewRawFiller(src source.FrameSource, layout source.Layout) *RawFiller {
	pf := src.PixelFormat()
	direct := layout.Packed() &&
		((pf == source.PixFmtYUV420P && !layout.SemiPlanar) || (pf == source.PixFmtNV12 && layout.SemiPlanar))
	return &RawFiller{src: src, layout: layout, direct: direct}
}

// Fill implements Filler.
func (r *RawFiller) Fill(buf []byte) (FillResult, error) {
	if r.direct {
		n, err := r.src.FillBuffer(buf, r.src.FrameSize())
		if err != nil {
			return FillResult{}, err
		}
		if n < r.src.FrameSize() {
			return FillResult{}, nil
		}
		return FillResult{Size: n}, nil
	}
	need := r.layout.Size()
	if len(buf) < need {
		return FillResult{}, fmt.Errorf("input buffer of %d bytes cannot hold %s", len(buf), r.layout)
	}
	n, err := r.src.FillImage(source.ImageOver(buf[:need], r.layout))
	if err != nil || n == 0 {
		return FillResult{}, err
	}
	return FillResult{Size: need}, nil
}

// Rewind implements Filler.
func (r *RawFiller) Rewind() error {
	if err := r.src.Close(); err != nil {
		return err
	}
	return r.src.Open()
}

// Close implements Filler.
func (r *RawFiller) Close() error { return r.src.Close() }

// SampleFiller feeds compressed samples. Every pass after the first is
// shifted so timestamps keep increasing across loops.
type SampleFiller struct {
	src        source.SampleSource
	intervalUs int64

	offset int64
	first  int64
	last   int64
	seen   bool
}

// NewSampleFiller reads samples from src. intervalUs is the gap inserted
// between the last sample of a pass and the first of the next.
func NewSampleFiller(src source.SampleSource, intervalUs int64) *SampleFiller {
	if intervalUs <= 0 {
		intervalUs = 33_333
	}
	return &SampleFiller{src: src, intervalUs: intervalUs}
}

// Fill implements Filler.
func (s *SampleFiller) Fill(buf []byte) (FillResult, error) {
	smp, err := s.src.ReadSample(buf)
	if err != nil || smp.Size == 0 {
		return FillResult{}, err
	}
	if !s.seen {
		s.first = smp.PTSUs
		s.seen = true
	}
	pts := smp.PTSUs + s.offset
	if pts > s.last {
		s.last = pts
	}
	return FillResult{Size: smp.Size, PTSUs: pts, HasPTS: true, Key: smp.Key}, nil
}

// Rewind implements Filler.
func (s *SampleFiller) Rewind() error {
	if err := s.src.Open(); err != nil {
		return err
	}
	// the file's first timestamp lands one interval after the last one
	s.offset = s.last - s.first + s.intervalUs
	return nil
}

// Close implements Filler.
func (s *SampleFiller) Close() error { return s.src.Close() }

// Info returns the underlying stream description.
func (s *SampleFiller) Info() source.StreamInfo { return s.src.Info() }

// sampleFlags maps a fill result onto codec input flags.
func sampleFlags(res FillResult) codec.BufferFlags {
	if res.Key {
		return codec.FlagKeyFrame
	}
	return 0
}
