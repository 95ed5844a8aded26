// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package muxer writes encoded video into container files. Output goes to
// a pending file that is committed atomically on Release, so an aborted
// run never leaves a truncated file behind.
package muxer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/ManuGH/encbench/internal/codec"
	"github.com/ManuGH/encbench/internal/log"
)

var (
	// ErrReleased is returned for writes after Release.
	ErrReleased = errors.New("muxer: released")
	// ErrNotStarted is returned for writes before Start.
	ErrNotStarted = errors.New("muxer: not started")
	// ErrStarted is returned when adding a track to a running muxer.
	ErrStarted = errors.New("muxer: already started")
	// ErrUnsupported is returned when the container cannot carry the codec.
	ErrUnsupported = errors.New("muxer: unsupported codec for container")
)

// Container selects the output file format.
type Container string

const (
	ContainerIVF    Container = "ivf"
	ContainerAnnexB Container = "annexb"
	ContainerRTP    Container = "rtp"
)

// Extension returns the file extension for mime in container c.
func (c Container) Extension(mime string) string {
	switch c {
	case ContainerIVF:
		return ".ivf"
	case ContainerRTP:
		return ".rtpdump"
	}
	if mime == codec.MimeHEVC {
		return ".h265"
	}
	return ".h264"
}

// ParseContainer accepts "" (pick from codec), "ivf", "annexb" and "rtp".
func ParseContainer(s string) (Container, error) {
	switch Container(s) {
	case "", ContainerIVF, ContainerAnnexB, ContainerRTP:
		return Container(s), nil
	}
	return "", fmt.Errorf("unknown container %q", s)
}

// ForMime returns the natural container for mime: IVF for VP8, VP9 and
// AV1, Annex-B for H.264 and H.265.
func ForMime(mime string) Container {
	switch mime {
	case codec.MimeAVC, codec.MimeHEVC:
		return ContainerAnnexB
	default:
		return ContainerIVF
	}
}

// OutputPath names the output of a run: <dir>/<id><ext>.
func OutputPath(dir, id string, c Container, mime string) string {
	return filepath.Join(dir, id+c.Extension(mime))
}

// Muxer accepts one video track.
type Muxer interface {
	// AddTrack registers the track format and returns its index.
	AddTrack(format codec.Format) (int, error)
	Start() error
	WriteSampleData(track int, data []byte, info codec.BufferInfo) error
	// Release commits the file. It is safe to call more than once.
	Release() error
}

// writer is the container-specific part of a file muxer.
type writer interface {
	header(w io.Writer, format codec.Format) error
	sample(w io.Writer, data []byte, ptsUs int64, key bool) error
	// finish runs after all samples were flushed to f.
	finish(f *os.File, samples int) error
}

// File is a Muxer writing one container file.
type File struct {
	path      string
	container Container
	mime      string
	w         writer
	logger    zerolog.Logger

	mu       sync.Mutex
	format   codec.Format
	tracks   int
	pending  *renameio.PendingFile
	buf      *bufio.Writer
	config   []byte
	samples  int
	bytes    int64
	started  bool
	released bool
}

// New returns a muxer writing container c to path. An empty container is
// chosen from mime.
func New(path string, c Container, mime string) (*File, error) {
	if c == "" {
		c = ForMime(mime)
	}
	var w writer
	switch c {
	case ContainerIVF:
		if !ivfSupports(mime) {
			return nil, fmt.Errorf("%w: %s in %s", ErrUnsupported, mime, c)
		}
		w = &ivfWriter{}
	case ContainerAnnexB:
		if mime != codec.MimeAVC && mime != codec.MimeHEVC {
			return nil, fmt.Errorf("%w: %s in %s", ErrUnsupported, mime, c)
		}
		w = annexBWriter{}
	case ContainerRTP:
		rw, err := newRTPWriter(mime)
		if err != nil {
			return nil, err
		}
		w = rw
	default:
		return nil, fmt.Errorf("unknown container %q", c)
	}
	return &File{
		path:      path,
		container: c,
		mime:      mime,
		w:         w,
		logger:    log.WithComponent("muxer").With().Str(log.FieldPath, path).Str("container", string(c)).Logger(),
	}, nil
}

// Path returns the final output path.
func (m *File) Path() string { return m.path }

// Container returns the file format being written.
func (m *File) Container() Container { return m.container }

// Samples returns the number of samples written.
func (m *File) Samples() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.samples
}

// AddTrack implements Muxer. A format without a mime gets the one the
// muxer was created for.
func (m *File) AddTrack(format codec.Format) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.released:
		return -1, ErrReleased
	case m.started:
		return -1, ErrStarted
	case m.tracks > 0:
		return -1, errors.New("muxer: only one video track is supported")
	}
	m.format = format.Clone()
	if m.format.String(codec.KeyMime) == "" {
		if m.format == nil {
			m.format = codec.Format{}
		}
		m.format[codec.KeyMime] = codec.StringValue(m.mime)
	}
	m.tracks++
	return 0, nil
}

// Start implements Muxer.
func (m *File) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return ErrReleased
	}
	if m.started {
		return nil
	}
	if m.tracks == 0 {
		return errors.New("muxer: start without a track")
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	pf, err := renameio.NewPendingFile(m.path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending output file: %w", err)
	}
	m.pending = pf
	m.buf = bufio.NewWriterSize(pf, 256<<10)
	if err := m.w.header(m.buf, m.format); err != nil {
		_ = pf.Cleanup()
		m.pending = nil
		return fmt.Errorf("write %s header: %w", m.container, err)
	}
	m.started = true
	m.logger.Debug().Str(log.FieldEvent, "muxer.start").Str(log.FieldMime, m.format.String(codec.KeyMime)).Msg("muxer started")
	return nil
}

// WriteCodecConfig keeps codec-specific data to be emitted in front of the
// next sample.
func (m *File) WriteCodecConfig(track int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return ErrReleased
	}
	if track != 0 {
		return fmt.Errorf("muxer: unknown track %d", track)
	}
	m.config = append(m.config, data...)
	return nil
}

// WriteSampleData implements Muxer.
func (m *File) WriteSampleData(track int, data []byte, info codec.BufferInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.released:
		return ErrReleased
	case !m.started:
		return ErrNotStarted
	case track != 0:
		return fmt.Errorf("muxer: unknown track %d", track)
	}
	payload := data
	if len(m.config) > 0 {
		payload = append(m.config, data...)
		m.config = nil
	}
	if err := m.w.sample(m.buf, payload, info.PresentationTimeUs, info.Flags.Has(codec.FlagKeyFrame)); err != nil {
		return fmt.Errorf("write %s sample: %w", m.container, err)
	}
	m.samples++
	m.bytes += int64(len(payload))
	return nil
}

// Release implements Muxer. A muxer that never started writes nothing.
func (m *File) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return nil
	}
	m.released = true
	if !m.started {
		return nil
	}
	pf := m.pending
	defer func() {
		if err := pf.Cleanup(); err != nil {
			m.logger.Debug().Err(err).Msg("cleanup pending output file")
		}
	}()
	if err := m.buf.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	if err := m.w.finish(pf.File, m.samples); err != nil {
		return fmt.Errorf("finish %s: %w", m.container, err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace output file: %w", err)
	}
	m.logger.Info().
		Str(log.FieldEvent, "muxer.released").
		Int("samples", m.samples).
		Int64("bytes", m.bytes).
		Msg("output written")
	return nil
}
