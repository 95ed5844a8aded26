// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fakecodec

import (
	"github.com/ManuGH/encbench/internal/codec"
	"github.com/ManuGH/encbench/internal/source"
)

var startCode = []byte{0, 0, 0, 1}

// hasConfig reports whether encoders of mime emit codec-config data first.
func hasConfig(mime string) bool {
	switch mime {
	case codec.MimeAVC, codec.MimeHEVC, codec.MimeAV1:
		return true
	}
	return false
}

// writeConfig writes the codec-config payload for mime and returns its size.
func writeConfig(mime string, buf []byte) int {
	var out []byte
	switch mime {
	case codec.MimeAVC:
		out = append(out, startCode...)
		out = append(out, 0x67, 0x42, 0xc0, 0x1f) // SPS, baseline
		out = append(out, startCode...)
		out = append(out, 0x68, 0xce, 0x3c, 0x80) // PPS
	case codec.MimeHEVC:
		out = append(out, startCode...)
		out = append(out, 0x40, 0x01, 0x0c) // VPS
		out = append(out, startCode...)
		out = append(out, 0x42, 0x01, 0x01) // SPS
		out = append(out, startCode...)
		out = append(out, 0x44, 0x01, 0xc1) // PPS
	case codec.MimeAV1:
		seq := []byte{0x00, 0x00, 0x00, 0x0a, 0x0b}
		out = append(out, 0x0a) // sequence header OBU
		out = appendLEB128(out, uint64(len(seq)))
		out = append(out, seq...)
	default:
		return 0
	}
	return copy(buf, out)
}

// writeFrame writes a synthetic access unit of roughly size bytes.
func writeFrame(mime string, buf []byte, size int, key bool, seq int) int {
	size = min(size, len(buf))
	var hdr []byte
	switch mime {
	case codec.MimeAVC:
		hdr = append(hdr, startCode...)
		if key {
			hdr = append(hdr, 0x65)
		} else {
			hdr = append(hdr, 0x41)
		}
	case codec.MimeHEVC:
		hdr = append(hdr, startCode...)
		if key {
			hdr = append(hdr, 0x26, 0x01) // IDR_W_RADL
		} else {
			hdr = append(hdr, 0x02, 0x01) // TRAIL_R
		}
	case codec.MimeVP8:
		// frame tag: bit 0 clear marks a key frame
		if key {
			hdr = append(hdr, 0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a)
		} else {
			hdr = append(hdr, 0x11, 0x02, 0x00)
		}
	case codec.MimeVP9:
		if key {
			hdr = append(hdr, 0x82, 0x49, 0x83, 0x42)
		} else {
			hdr = append(hdr, 0x86)
		}
	case codec.MimeAV1:
		body := max(size-5, 1)
		hdr = append(hdr, 0x12, 0x00) // temporal delimiter
		hdr = append(hdr, 0x32)       // frame OBU with size field
		hdr = appendLEB128(hdr, uint64(body))
		size = min(len(hdr)+body, len(buf))
	}
	size = max(size, len(hdr))
	if size > len(buf) {
		return copy(buf, hdr)
	}
	n := copy(buf, hdr)
	for i := n; i < size; i++ {
		buf[i] = byte(seq + i)
	}
	return size
}

func appendLEB128(b []byte, v uint64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b = append(b, c|0x80)
			continue
		}
		return append(b, c)
	}
}

// fillDecoded paints a decoded frame into dst using l, padding included.
// Luma rows take a value derived from the compressed sample so tests can
// tell frames apart.
func fillDecoded(dst []byte, l source.Layout, sample []byte) {
	clear(dst)
	var seed byte
	if len(sample) > 0 {
		seed = sample[len(sample)-1]
	}
	for y := 0; y < l.Height; y++ {
		row := dst[y*l.Stride : y*l.Stride+l.Width]
		for x := range row {
			row[x] = seed + byte(y)
		}
	}
	cw := (l.Width + 1) / 2
	off := l.ChromaOffset()
	planeRows := (l.SliceHeight + 1) / 2
	if l.SemiPlanar {
		for y := 0; y < l.ChromaRows(); y++ {
			row := dst[off+y*l.ChromaStride() : off+y*l.ChromaStride()+2*cw]
			for x := range row {
				row[x] = 128
			}
		}
		return
	}
	for p := 0; p < 2; p++ {
		base := off + p*l.ChromaStride()*planeRows
		for y := 0; y < l.ChromaRows(); y++ {
			row := dst[base+y*l.ChromaStride() : base+y*l.ChromaStride()+cw]
			for x := range row {
				row[x] = 128
			}
		}
	}
}
