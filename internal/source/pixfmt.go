// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"fmt"
	"strings"

	"github.com/ManuGH/encbench/internal/codec"
)

// PixelFormat is the memory layout of raw input frames.
type PixelFormat int

const (
	PixFmtYUV420P PixelFormat = iota // Y, U, V planes
	PixFmtYVU420P                    // Y, V, U planes
	PixFmtNV12                       // Y, interleaved UV
	PixFmtNV21                       // Y, interleaved VU
)

var pixFmtNames = map[PixelFormat]string{
	PixFmtYUV420P: "yuv420p",
	PixFmtYVU420P: "yvu420p",
	PixFmtNV12:    "nv12",
	PixFmtNV21:    "nv21",
}

func (p PixelFormat) String() string {
	if n, ok := pixFmtNames[p]; ok {
		return n
	}
	return fmt.Sprintf("pixfmt(%d)", int(p))
}

// ParsePixelFormat maps a configuration name onto a PixelFormat.
func ParsePixelFormat(s string) (PixelFormat, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, n := range pixFmtNames {
		if n == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unsupported pixel format %q", s)
}

// SemiPlanar reports whether chroma samples are interleaved.
func (p PixelFormat) SemiPlanar() bool { return p == PixFmtNV12 || p == PixFmtNV21 }

// ColorFormat returns the codec color format matching p.
func (p PixelFormat) ColorFormat() int64 {
	if p.SemiPlanar() {
		return codec.ColorFormatYUV420SemiPlanar
	}
	return codec.ColorFormatYUV420Planar
}

// FrameSize is the packed size of one 4:2:0 frame.
func FrameSize(width, height int) int {
	cw, ch := (width+1)/2, (height+1)/2
	return width*height + 2*cw*ch
}

// Layout describes how a 4:2:0 frame sits in a codec buffer.
type Layout struct {
	Width       int
	Height      int
	Stride      int // bytes per luma row
	SliceHeight int // luma rows before the chroma planes start
	SemiPlanar  bool
}

// PackedLayout is the tight layout of a frame without padding.
func PackedLayout(width, height int, semiPlanar bool) Layout {
	return Layout{Width: width, Height: height, Stride: width, SliceHeight: height, SemiPlanar: semiPlanar}
}

// LayoutFromFormat reads a layout from codec format keys. Stride and slice
// height default to width and height.
func LayoutFromFormat(f codec.Format) Layout {
	w := int(f.IntOr(codec.KeyWidth, 0))
	h := int(f.IntOr(codec.KeyHeight, 0))
	l := Layout{
		Width:       w,
		Height:      h,
		Stride:      int(f.IntOr(codec.KeyStride, int64(w))),
		SliceHeight: int(f.IntOr(codec.KeySliceHeight, int64(h))),
		SemiPlanar:  f.IntOr(codec.KeyColorFormat, codec.ColorFormatYUV420Planar) == codec.ColorFormatYUV420SemiPlanar,
	}
	if l.Stride < w {
		l.Stride = w
	}
	if l.SliceHeight < h {
		l.SliceHeight = h
	}
	return l
}

// Packed reports whether the layout has no padding.
func (l Layout) Packed() bool { return l.Stride == l.Width && l.SliceHeight == l.Height }

// ChromaOffset is where the first chroma plane starts.
func (l Layout) ChromaOffset() int { return l.Stride * l.SliceHeight }

// ChromaStride is the row stride of the chroma plane(s).
func (l Layout) ChromaStride() int {
	if l.SemiPlanar {
		return l.Stride
	}
	return (l.Stride + 1) / 2
}

// ChromaRows is the number of chroma rows per plane.
func (l Layout) ChromaRows() int { return (l.Height + 1) / 2 }

// Size is the number of bytes needed to hold a frame in this layout.
func (l Layout) Size() int {
	chromaPlaneRows := (l.SliceHeight + 1) / 2
	if l.SemiPlanar {
		return l.ChromaOffset() + l.ChromaStride()*chromaPlaneRows
	}
	return l.ChromaOffset() + 2*l.ChromaStride()*chromaPlaneRows
}

func (l Layout) String() string {
	kind := "planar"
	if l.SemiPlanar {
		kind = "semi-planar"
	}
	return fmt.Sprintf("%dx%d stride=%d slice=%d %s", l.Width, l.Height, l.Stride, l.SliceHeight, kind)
}
