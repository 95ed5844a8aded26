// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bridge

import (
	"errors"
	"fmt"

	"github.com/ManuGH/encbench/internal/source"
)

// ErrLayoutMismatch is returned when a frame cannot be repacked because the
// picture sizes differ. The common prefix is still copied.
var ErrLayoutMismatch = errors.New("bridge: frame layouts do not match")

// Repack copies a 4:2:0 frame from src (laid out as srcLayout) into dst
// (laid out as dstLayout) and returns the bytes used in dst. Planes are
// copied row by row when strides or slice heights differ, and chroma is
// (de)interleaved when one side is semi-planar.
func Repack(dst []byte, dstLayout source.Layout, src []byte, srcLayout source.Layout) (int, error) {
	if dstLayout == srcLayout {
		n := min(len(src), srcLayout.Size())
		if len(dst) < n {
			return copy(dst, src[:n]), fmt.Errorf("destination of %d bytes cannot hold %s", len(dst), dstLayout)
		}
		return copy(dst, src[:n]), nil
	}
	if dstLayout.Width != srcLayout.Width || dstLayout.Height != srcLayout.Height {
		n := copy(dst, src)
		return n, fmt.Errorf("%w: %s into %s", ErrLayoutMismatch, srcLayout, dstLayout)
	}
	if len(dst) < dstLayout.Size() {
		return 0, fmt.Errorf("destination of %d bytes cannot hold %s", len(dst), dstLayout)
	}
	if len(src) < minSize(srcLayout) {
		return 0, fmt.Errorf("source of %d bytes is too short for %s", len(src), srcLayout)
	}

	w, h := srcLayout.Width, srcLayout.Height
	for y := 0; y < h; y++ {
		copy(dst[y*dstLayout.Stride:y*dstLayout.Stride+w], src[y*srcLayout.Stride:])
	}

	cw, ch := (w+1)/2, srcLayout.ChromaRows()
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			u, v := chromaAt(src, srcLayout, x, y)
			setChroma(dst, dstLayout, x, y, u, v)
		}
	}
	return dstLayout.Size(), nil
}

// minSize is the smallest buffer holding every visible sample of l; the
// padding after the last chroma row may be missing.
func minSize(l source.Layout) int {
	cw, ch := (l.Width+1)/2, l.ChromaRows()
	if l.SemiPlanar {
		return l.ChromaOffset() + (ch-1)*l.ChromaStride() + 2*cw
	}
	planeRows := (l.SliceHeight + 1) / 2
	return l.ChromaOffset() + planeRows*l.ChromaStride() + (ch-1)*l.ChromaStride() + cw
}

func chromaAt(b []byte, l source.Layout, x, y int) (u, v byte) {
	base := l.ChromaOffset()
	if l.SemiPlanar {
		i := base + y*l.ChromaStride() + 2*x
		return b[i], b[i+1]
	}
	plane := l.ChromaStride() * ((l.SliceHeight + 1) / 2)
	i := base + y*l.ChromaStride() + x
	return b[i], b[i+plane]
}

func setChroma(b []byte, l source.Layout, x, y int, u, v byte) {
	base := l.ChromaOffset()
	if l.SemiPlanar {
		i := base + y*l.ChromaStride() + 2*x
		b[i], b[i+1] = u, v
		return
	}
	plane := l.ChromaStride() * ((l.SliceHeight + 1) / 2)
	i := base + y*l.ChromaStride() + x
	b[i], b[i+plane] = u, v
}
