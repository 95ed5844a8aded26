// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package muxer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/ManuGH/encbench/internal/codec"
)

// RTP dump parameters.
const (
	RTPMTU       = 1200
	RTPClockRate = 90_000
	RTPSSRC      = 0x656e6362

	rtpHeaderSize = 12
	rtpdumpMagic  = "#!rtpplay1.0 127.0.0.1/5004\n"
)

var payloadTypes = map[string]uint8{
	codec.MimeAVC:  96,
	codec.MimeHEVC: 97,
	codec.MimeVP8:  98,
	codec.MimeVP9:  99,
	codec.MimeAV1:  100,
}

func payloaderFor(mime string) (rtp.Payloader, error) {
	switch mime {
	case codec.MimeAVC:
		return &codecs.H264Payloader{}, nil
	case codec.MimeHEVC:
		return &codecs.H265Payloader{}, nil
	case codec.MimeVP8:
		return &codecs.VP8Payloader{EnablePictureID: true}, nil
	case codec.MimeVP9:
		return &codecs.VP9Payloader{}, nil
	case codec.MimeAV1:
		return &codecs.AV1Payloader{}, nil
	}
	return nil, fmt.Errorf("%w: no RTP payloader for %s", ErrUnsupported, mime)
}

// rtpWriter packetizes every sample and stores the packets in rtpdump
// format, as read by rtpplay and Wireshark.
type rtpWriter struct {
	payloader   rtp.Payloader
	payloadType uint8
	sequencer   rtp.Sequencer

	firstPTS int64
	seen     bool
	packets  int
}

func newRTPWriter(mime string) (*rtpWriter, error) {
	p, err := payloaderFor(mime)
	if err != nil {
		return nil, err
	}
	return &rtpWriter{
		payloader:   p,
		payloadType: payloadTypes[mime],
		sequencer:   rtp.NewFixedSequencer(1),
	}, nil
}

func (r *rtpWriter) header(w io.Writer, _ codec.Format) error {
	if _, err := io.WriteString(w, rtpdumpMagic); err != nil {
		return err
	}
	// start time, source address, port, padding
	hdr := make([]byte, 16)
	binary.BigEndian.PutUint16(hdr[12:], 5004)
	_, err := w.Write(hdr)
	return err
}

func (r *rtpWriter) sample(w io.Writer, data []byte, ptsUs int64, _ bool) error {
	if !r.seen {
		r.firstPTS, r.seen = ptsUs, true
	}
	payloads := r.payloader.Payload(RTPMTU-rtpHeaderSize, data)
	ts := uint32(ptsUs * RTPClockRate / 1_000_000)
	offsetMs := uint32((ptsUs - r.firstPTS) / 1000)

	for i, payload := range payloads {
		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == len(payloads)-1,
				PayloadType:    r.payloadType,
				SequenceNumber: r.sequencer.NextSequenceNumber(),
				Timestamp:      ts,
				SSRC:           RTPSSRC,
			},
			Payload: payload,
		}
		raw, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("marshal rtp packet: %w", err)
		}
		rec := make([]byte, 8)
		binary.BigEndian.PutUint16(rec[0:], uint16(len(raw)+8))
		binary.BigEndian.PutUint16(rec[2:], uint16(len(raw)))
		binary.BigEndian.PutUint32(rec[4:], offsetMs)
		if _, err := w.Write(rec); err != nil {
			return err
		}
		if _, err := w.Write(raw); err != nil {
			return err
		}
		r.packets++
	}
	return nil
}

func (r *rtpWriter) finish(*os.File, int) error { return nil }

// ReadRTPDump parses an rtpdump stream back into packets.
func ReadRTPDump(rd io.Reader) ([]*rtp.Packet, error) {
	magic := make([]byte, len(rtpdumpMagic)+16)
	if _, err := io.ReadFull(rd, magic); err != nil {
		return nil, fmt.Errorf("read rtpdump header: %w", err)
	}
	if string(magic[:len(rtpdumpMagic)]) != rtpdumpMagic {
		return nil, errors.New("not an rtpdump stream")
	}
	var out []*rtp.Packet
	rec := make([]byte, 8)
	for {
		if _, err := io.ReadFull(rd, rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("read rtpdump record: %w", err)
		}
		raw := make([]byte, binary.BigEndian.Uint16(rec[2:]))
		if _, err := io.ReadFull(rd, raw); err != nil {
			return out, fmt.Errorf("read rtp packet: %w", err)
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(raw); err != nil {
			return out, fmt.Errorf("unmarshal rtp packet: %w", err)
		}
		out = append(out, pkt)
	}
}
