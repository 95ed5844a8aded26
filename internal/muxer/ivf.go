// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package muxer

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/ManuGH/encbench/internal/codec"
)

const (
	ivfHeaderSize      = 32
	ivfFrameHeaderSize = 12
	ivfFrameCountAt    = 24
)

func ivfSupports(mime string) bool {
	switch mime {
	case codec.MimeVP8, codec.MimeVP9, codec.MimeAV1, codec.MimeRaw:
		return true
	}
	return false
}

// ivfWriter stores timestamps in microseconds (timebase 1/1000000).
type ivfWriter struct{}

func (ivfWriter) header(w io.Writer, f codec.Format) error {
	hdr := make([]byte, ivfHeaderSize)
	copy(hdr[0:4], "DKIF")
	binary.LittleEndian.PutUint16(hdr[4:], 0)
	binary.LittleEndian.PutUint16(hdr[6:], ivfHeaderSize)
	copy(hdr[8:12], codec.FourCC(f.String(codec.KeyMime)))
	binary.LittleEndian.PutUint16(hdr[12:], uint16(f.IntOr(codec.KeyWidth, 0)))
	binary.LittleEndian.PutUint16(hdr[14:], uint16(f.IntOr(codec.KeyHeight, 0)))
	binary.LittleEndian.PutUint32(hdr[16:], 1_000_000)
	binary.LittleEndian.PutUint32(hdr[20:], 1)
	_, err := w.Write(hdr)
	return err
}

func (ivfWriter) sample(w io.Writer, data []byte, ptsUs int64, _ bool) error {
	fh := make([]byte, ivfFrameHeaderSize)
	binary.LittleEndian.PutUint32(fh[0:], uint32(len(data)))
	binary.LittleEndian.PutUint64(fh[4:], uint64(ptsUs))
	if _, err := w.Write(fh); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func (ivfWriter) finish(f *os.File, samples int) error {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(samples))
	_, err := f.WriteAt(n[:], ivfFrameCountAt)
	return err
}
