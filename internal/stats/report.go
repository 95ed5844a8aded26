// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/encbench/internal/codec"
)

// FrameReport is one row of the frames table.
type FrameReport struct {
	Frame         int               `json:"frame"`
	OriginalFrame int               `json:"original_frame"`
	IFrame        int               `json:"iframe"`
	Size          int64             `json:"size"`
	PTS           int64             `json:"pts"`
	ProcTime      int64             `json:"proctime"`
	StartTime     int64             `json:"starttime"`
	StopTime      int64             `json:"stoptime"`
	Info          map[string]string `json:"info,omitempty"`
}

// DecodedFrameReport is one row of the decoded frames table.
type DecodedFrameReport struct {
	Frame     int    `json:"frame"`
	Flags     uint32 `json:"flags"`
	Size      int64  `json:"size"`
	PTS       int64  `json:"pts"`
	ProcTime  int64  `json:"proctime"`
	StartTime int64  `json:"starttime"`
	StopTime  int64  `json:"stoptime"`
}

// TimestampReport is one lifecycle event.
type TimestampReport struct {
	Label string `json:"label"`
	Time  int64  `json:"time"`
}

// Report is the serialized form of Statistics. Times are nanoseconds.
type Report struct {
	ID                  string               `json:"id"`
	Description         string               `json:"description"`
	Test                any                  `json:"test,omitempty"`
	Environment         map[string]string    `json:"environment,omitempty"`
	Codec               string               `json:"codec,omitempty"`
	EncoderHW           bool                 `json:"encoder_hw_accelerated"`
	MeanBitrate         int64                `json:"meanbitrate"`
	Date                string               `json:"date"`
	Version             string               `json:"encbench_version"`
	ProcTime            int64                `json:"proctime"`
	FrameCount          int                  `json:"framecount"`
	EncodedFile         string               `json:"encodedfile"`
	SourceFile          string               `json:"sourcefile"`
	EncoderConfigFormat map[string]string    `json:"encoder_config_format,omitempty"`
	EncoderFormat       map[string]string    `json:"encoder_media_format,omitempty"`
	Decoder             string               `json:"decoder,omitempty"`
	DecoderFormat       map[string]string    `json:"decoder_media_format,omitempty"`
	DecoderHW           bool                 `json:"decoder_hw_accelerated,omitempty"`
	Frames              []FrameReport        `json:"frames"`
	DecodedFrames       []DecodedFrameReport `json:"decoded_frames,omitempty"`
	Timestamps          []TimestampReport    `json:"timestamps,omitempty"`
	Error               string               `json:"error,omitempty"`
	Forced              string               `json:"forced_completion,omitempty"`
}

func formatMap(f codec.Format) map[string]string {
	if len(f) == 0 {
		return nil
	}
	out := make(map[string]string, len(f))
	for k, v := range f {
		out[k] = v.String()
	}
	return out
}

// environment returns the harness's own settings from the process
// environment.
func environment() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(k, "ENCBENCH_") {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Report snapshots the statistics. test is embedded as-is.
func (s *Statistics) Report(test any) Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	enc := sortedByPTS(s.encoding)
	r := Report{
		ID:                  s.id,
		Description:         s.description,
		Test:                test,
		Environment:         environment(),
		EncoderHW:           s.encoderHW,
		MeanBitrate:         averageBitrate(enc),
		Date:                s.date.Format("2006-01-02T15:04:05Z07:00"),
		Version:             s.version,
		FrameCount:          len(enc),
		EncodedFile:         s.encodedFile,
		SourceFile:          filepath.Base(s.sourceFile),
		EncoderConfigFormat: formatMap(s.configFormat),
		EncoderFormat:       formatMap(s.encoderFormat),
		Frames:              make([]FrameReport, 0, len(enc)),
	}
	if s.stopped >= s.started {
		r.ProcTime = int64(s.stopped - s.started)
	}
	if len(enc) > 0 {
		r.Codec = s.codecName
	}
	for i, f := range enc {
		fr := FrameReport{
			Frame:         i,
			OriginalFrame: f.OriginalFrame,
			Size:          f.Size,
			PTS:           f.PTS,
			ProcTime:      int64(f.ProcessingTime()),
			StartTime:     int64(f.Start),
			StopTime:      int64(f.Stop),
			Info:          f.Info,
		}
		if f.Key {
			fr.IFrame = 1
		}
		r.Frames = append(r.Frames, fr)
	}

	if len(s.decoding) > 0 {
		r.Decoder = s.decoderName
		r.DecoderHW = s.decoderHW
		r.DecoderFormat = formatMap(s.decoderFormat)
		dec := make([]*Frame, 0, len(s.decoding))
		for _, f := range s.decoding {
			dec = append(dec, f)
		}
		dec = sortedByPTS(dec)
		n := 1
		for _, f := range dec {
			if f.ProcessingTime() <= 0 {
				continue
			}
			r.DecodedFrames = append(r.DecodedFrames, DecodedFrameReport{
				Frame:     n,
				Flags:     uint32(f.Flags),
				Size:      f.Size,
				PTS:       f.PTS,
				ProcTime:  int64(f.ProcessingTime()),
				StartTime: int64(f.Start),
				StopTime:  int64(f.Stop),
			})
			n++
		}
	}

	stamps := append([]Timestamp(nil), s.stamps...)
	sort.SliceStable(stamps, func(i, j int) bool { return stamps[i].At < stamps[j].At })
	for _, ts := range stamps {
		r.Timestamps = append(r.Timestamps, TimestampReport{Label: ts.Label, Time: int64(ts.At)})
	}
	return r
}

// WriteJSON writes r indented.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteFile atomically writes r to dir/<id>.json and returns the path.
func (r Report) WriteFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(dir, r.ID+".json")
	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return "", fmt.Errorf("create report %s: %w", path, err)
	}
	defer func() { _ = pf.Cleanup() }()

	if err := r.WriteJSON(pf); err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("commit report %s: %w", path, err)
	}
	return path, nil
}
