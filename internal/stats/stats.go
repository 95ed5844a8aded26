// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package stats records per-frame timing of one benchmark run and renders
// it as a JSON report.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/encbench/internal/codec"
	"github.com/ManuGH/encbench/internal/log"
)

// IDPrefix starts every statistics id.
const IDPrefix = "encbench_"

// Frame is the record of one encoded or decoded frame.
type Frame struct {
	PTS           int64
	OriginalFrame int
	Size          int64
	Key           bool
	Flags         codec.BufferFlags
	Start         time.Duration // since the statistics epoch
	Stop          time.Duration // zero until the frame completed
	Info          map[string]string
}

// ProcessingTime is Stop-Start, or zero for an unfinished frame.
func (f *Frame) ProcessingTime() time.Duration {
	if f.Stop == 0 {
		return 0
	}
	return f.Stop - f.Start
}

// Timestamp is a labelled lifecycle event.
type Timestamp struct {
	Label string
	At    time.Duration
}

// Statistics collects the frames of one run. Methods are safe for
// concurrent use: the feeder starts frames while the drainer stops them.
type Statistics struct {
	id          string
	description string

	mu       sync.Mutex
	now      func() time.Time
	epoch    time.Time
	date     time.Time
	started  time.Duration
	stopped  time.Duration
	encoding []*Frame
	decoding map[int64]*Frame
	stamps   []Timestamp
	inFlight int

	codecName     string
	decoderName   string
	encoderHW     bool
	decoderHW     bool
	configFormat  codec.Format
	encoderFormat codec.Format
	decoderFormat codec.Format
	encodedFile   string
	sourceFile    string
	version       string
}

// Option configures Statistics.
type Option func(*Statistics)

// WithNow replaces the time source.
func WithNow(now func() time.Time) Option {
	return func(s *Statistics) { s.now = now }
}

// New returns empty statistics with a fresh id.
func New(description string, opts ...Option) *Statistics {
	s := &Statistics{
		id:          IDPrefix + uuid.NewString(),
		description: description,
		now:         time.Now,
		decoding:    make(map[int64]*Frame),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.epoch = s.now()
	s.date = s.epoch
	return s
}

// ID returns the statistics id.
func (s *Statistics) ID() string { return s.id }

func (s *Statistics) since() time.Duration {
	d := s.now().Sub(s.epoch)
	if d <= 0 {
		// keep zero reserved for "not stopped"
		d = 1
	}
	return d
}

// Start marks the beginning of processing.
func (s *Statistics) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = s.since()
}

// Stop marks the end of processing.
func (s *Statistics) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = s.since()
}

// ProcessingTime is the time between Start and Stop.
func (s *Statistics) ProcessingTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped < s.started {
		return 0
	}
	return s.stopped - s.started
}

// PushTimestamp records a lifecycle event such as "encoder.start".
func (s *Statistics) PushTimestamp(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stamps = append(s.stamps, Timestamp{Label: label, At: s.since()})
}

// StartEncodingFrame records a frame handed to the encoder.
func (s *Statistics) StartEncodingFrame(pts int64, originalFrame int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encoding = append(s.encoding, &Frame{PTS: pts, OriginalFrame: originalFrame, Start: s.since()})
	s.inFlight++
}

// StopEncodingFrame completes the started frame closest to pts. It returns
// nil if no frame was started.
func (s *Statistics) StopEncodingFrame(pts, size int64, key bool) *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	f := s.closest(pts)
	if f == nil {
		logger := log.WithComponent("stats")
		logger.Error().
			Str(log.FieldEvent, "stats.unmatched_pts").
			Int64(log.FieldPTS, pts).
			Msg("no started frame matches output timestamp")
		return nil
	}
	f.Stop = s.since()
	f.Size = size
	f.Key = key
	return f
}

// closest scans backwards and stops as soon as the distance grows, which
// is exact for the mostly increasing order frames are started in.
func (s *Statistics) closest(pts int64) *Frame {
	var (
		match   *Frame
		minDist int64 = -1
	)
	for i := len(s.encoding) - 1; i >= 0; i-- {
		f := s.encoding[i]
		dist := pts - f.PTS
		if dist < 0 {
			dist = -dist
		}
		if minDist < 0 || dist <= minDist {
			minDist = dist
			match = f
			continue
		}
		break
	}
	return match
}

// Annotate attaches key/value details, such as output format changes, to a
// frame record.
func (s *Statistics) Annotate(f *Frame, info map[string]string) {
	if f == nil || len(info) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.Info == nil {
		f.Info = make(map[string]string, len(info))
	}
	for k, v := range info {
		f.Info[k] = v
	}
}

// StartDecodingFrame records a compressed sample handed to the decoder.
func (s *Statistics) StartDecodingFrame(pts, size int64, flags codec.BufferFlags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decoding[pts] = &Frame{PTS: pts, Size: size, Flags: flags, Start: s.since()}
}

// StopDecodingFrame completes the decode of pts. It returns nil for an
// unknown timestamp.
func (s *Statistics) StopDecodingFrame(pts int64) *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.decoding[pts]
	if f != nil {
		f.Stop = s.since()
	}
	return f
}

// EncodedFrameCount is the number of frames started for encoding.
func (s *Statistics) EncodedFrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.encoding)
}

// DecodedFrameCount is the number of samples started for decoding.
func (s *Statistics) DecodedFrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.decoding)
}

// InFlight is the number of frames started but not yet stopped.
func (s *Statistics) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func sortedByPTS(frames []*Frame) []*Frame {
	out := append([]*Frame(nil), frames...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].PTS < out[j].PTS })
	return out
}

// AverageBitrate returns bits per second over the encoded frames. The last
// frame's size is left out since its duration is unknown.
func (s *Statistics) AverageBitrate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return averageBitrate(sortedByPTS(s.encoding))
}

func averageBitrate(frames []*Frame) int64 {
	if len(frames) < 2 {
		return 0
	}
	first, last := frames[0], frames[len(frames)-1]
	seconds := float64(last.PTS-first.PTS) / 1e6
	if seconds <= 0 {
		return 0
	}
	var total int64
	for _, f := range frames[:len(frames)-1] {
		total += f.Size
	}
	return int64(float64(8*total)/seconds + 0.5)
}

// SetCodec records the encoder name and whether it is hardware backed.
func (s *Statistics) SetCodec(name string, hardware bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codecName, s.encoderHW = name, hardware
}

// SetDecoder records the decoder name and whether it is hardware backed.
func (s *Statistics) SetDecoder(name string, hardware bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decoderName, s.decoderHW = name, hardware
}

// SetEncoderConfigFormat records the format the encoder was configured with.
func (s *Statistics) SetEncoderConfigFormat(f codec.Format) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configFormat = f.Clone()
}

// SetEncoderFormat records the encoder's output format.
func (s *Statistics) SetEncoderFormat(f codec.Format) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encoderFormat = f.Clone()
}

// SetDecoderFormat records the decoder's output format.
func (s *Statistics) SetDecoderFormat(f codec.Format) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decoderFormat = f.Clone()
}

// SetEncodedFile records the muxed output path.
func (s *Statistics) SetEncodedFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encodedFile = path
}

// SetSourceFile records the input path.
func (s *Statistics) SetSourceFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sourceFile = path
}

// SetVersion records the harness version.
func (s *Statistics) SetVersion(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = v
}
