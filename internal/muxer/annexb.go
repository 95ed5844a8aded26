// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package muxer

import (
	"bytes"
	"io"
	"os"

	"github.com/ManuGH/encbench/internal/codec"
)

var startCode = []byte{0, 0, 0, 1}

// annexBWriter writes an H.264/H.265 elementary stream. Access units that
// do not begin with a start code get one.
type annexBWriter struct{}

func (annexBWriter) header(io.Writer, codec.Format) error { return nil }

func (annexBWriter) sample(w io.Writer, data []byte, _ int64, _ bool) error {
	if !bytes.HasPrefix(data, startCode) && !bytes.HasPrefix(data, startCode[1:]) {
		if _, err := w.Write(startCode); err != nil {
			return err
		}
	}
	_, err := w.Write(data)
	return err
}

func (annexBWriter) finish(*os.File, int) error { return nil }
