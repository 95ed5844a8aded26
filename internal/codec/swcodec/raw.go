// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package swcodec

import (
	"github.com/ManuGH/encbench/internal/codec"
)

// RawName is the registered name of the bundled pass-through encoder.
const RawName = "sw.raw.encoder"

// RawEncoder emits every frame unchanged as a key frame. It measures the
// pipeline without any encoding cost.
type RawEncoder struct {
	bitrate int64
}

func (e *RawEncoder) Init(format codec.Format) (codec.Format, error) {
	if m := format.String(codec.KeyMime); m != "" && m != codec.MimeRaw {
		return nil, ErrUnsupported
	}
	out := format.Clone()
	out[codec.KeyMime] = codec.StringValue(codec.MimeRaw)
	e.bitrate = format.IntOr(codec.KeyBitrate, 0)
	return out, nil
}

func (e *RawEncoder) Encode(frame []byte, ptsUs int64, _ bool) ([]Packet, error) {
	data := make([]byte, len(frame))
	copy(data, frame)
	return []Packet{{Data: data, PTSUs: ptsUs, Key: true}}, nil
}

func (e *RawEncoder) Flush() ([]Packet, error) { return nil, nil }

func (e *RawEncoder) SetBitrate(bps int64) { e.bitrate = bps }

func (e *RawEncoder) Close() error { return nil }

func init() {
	codec.Default.MustRegister(codec.Info{
		Name:    RawName,
		Mime:    codec.MimeRaw,
		Encoder: true,
		Sync:    true,
	}, func() (codec.Codec, error) {
		return New(RawName, &RawEncoder{}), nil
	})
}
