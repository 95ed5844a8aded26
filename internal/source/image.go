// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import "fmt"

// Plane is one image plane with arbitrary row and pixel strides.
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// Image is a flexible 4:2:0 image: planes Y, U and V.
type Image struct {
	Width  int
	Height int
	Planes [3]Plane
}

// NewImage allocates an image over a single buffer laid out as l.
func NewImage(l Layout) *Image {
	buf := make([]byte, l.Size())
	return ImageOver(buf, l)
}

// ImageOver maps the planes of layout l onto buf without copying.
func ImageOver(buf []byte, l Layout) *Image {
	img := &Image{Width: l.Width, Height: l.Height}
	img.Planes[0] = Plane{Data: buf[:l.ChromaOffset()], RowStride: l.Stride, PixelStride: 1}
	chroma := buf[l.ChromaOffset():]
	if l.SemiPlanar {
		img.Planes[1] = Plane{Data: chroma, RowStride: l.ChromaStride(), PixelStride: 2}
		img.Planes[2] = Plane{Data: chroma[1:], RowStride: l.ChromaStride(), PixelStride: 2}
		return img
	}
	planeSize := l.ChromaStride() * ((l.SliceHeight + 1) / 2)
	img.Planes[1] = Plane{Data: chroma[:planeSize], RowStride: l.ChromaStride(), PixelStride: 1}
	img.Planes[2] = Plane{Data: chroma[planeSize:], RowStride: l.ChromaStride(), PixelStride: 1}
	return img
}

// PlanarToImage copies a packed frame of format pf into img, honoring the
// image's strides. It returns the number of source bytes consumed.
func PlanarToImage(pf PixelFormat, src []byte, img *Image) (int, error) {
	w, h := img.Width, img.Height
	cw, ch := (w+1)/2, (h+1)/2
	need := FrameSize(w, h)
	if len(src) < need {
		return 0, fmt.Errorf("packed frame too short: %d < %d", len(src), need)
	}

	copyPlane(&img.Planes[0], src[:w*h], w, h, w, 1)
	chroma := src[w*h:]
	switch pf {
	case PixFmtYUV420P:
		copyPlane(&img.Planes[1], chroma[:cw*ch], cw, ch, cw, 1)
		copyPlane(&img.Planes[2], chroma[cw*ch:], cw, ch, cw, 1)
	case PixFmtYVU420P:
		copyPlane(&img.Planes[2], chroma[:cw*ch], cw, ch, cw, 1)
		copyPlane(&img.Planes[1], chroma[cw*ch:], cw, ch, cw, 1)
	case PixFmtNV12:
		copyPlane(&img.Planes[1], chroma, cw, ch, 2*cw, 2)
		copyPlane(&img.Planes[2], chroma[1:], cw, ch, 2*cw, 2)
	case PixFmtNV21:
		copyPlane(&img.Planes[2], chroma, cw, ch, 2*cw, 2)
		copyPlane(&img.Planes[1], chroma[1:], cw, ch, 2*cw, 2)
	default:
		return 0, fmt.Errorf("unsupported pixel format %s", pf)
	}
	return need, nil
}

func copyPlane(dst *Plane, src []byte, width, height, srcRowStride, srcPixelStride int) {
	if dst.PixelStride == 1 && srcPixelStride == 1 {
		for y := 0; y < height; y++ {
			copy(dst.Data[y*dst.RowStride:y*dst.RowStride+width], src[y*srcRowStride:y*srcRowStride+width])
		}
		return
	}
	for y := 0; y < height; y++ {
		d := y * dst.RowStride
		s := y * srcRowStride
		for x := 0; x < width; x++ {
			dst.Data[d+x*dst.PixelStride] = src[s+x*srcPixelStride]
		}
	}
}
