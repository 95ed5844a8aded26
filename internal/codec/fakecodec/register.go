// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fakecodec

import (
	"github.com/ManuGH/encbench/internal/codec"
)

// Decoder outputs are padded the way typical hardware pads them.
const (
	decoderStrideAlign = 16
	decoderSliceAlign  = 16
)

var families = []struct {
	short string
	mime  string
}{
	{"avc", codec.MimeAVC},
	{"hevc", codec.MimeHEVC},
	{"vp8", codec.MimeVP8},
	{"vp9", codec.MimeVP9},
	{"av1", codec.MimeAV1},
}

// Register adds the simulated encoders and decoders to r.
func Register(r *codec.Registry) error {
	for _, f := range families {
		for _, encoder := range []bool{true, false} {
			cfg := Config{Mime: f.mime, Encoder: encoder}
			if encoder {
				cfg.Name = "c2.fake." + f.short + ".encoder"
			} else {
				cfg.Name = "c2.fake." + f.short + ".decoder"
				cfg.StrideAlign = decoderStrideAlign
				cfg.SliceAlign = decoderSliceAlign
			}
			info := codec.Info{
				Name:     cfg.Name,
				Mime:     cfg.Mime,
				Encoder:  encoder,
				Hardware: true,
				Sync:     true,
				Async:    true,
			}
			if err := r.Register(info, func() (codec.Codec, error) { return New(cfg), nil }); err != nil {
				return err
			}
		}
	}
	return nil
}

func init() {
	if err := Register(codec.Default); err != nil {
		panic(err)
	}
}
