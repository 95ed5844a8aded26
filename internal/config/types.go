// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads benchmark suites: YAML test definitions with
// defaults, strict parsing and environment overrides.
package config

import "time"

// Driving modes of a run.
const (
	ModeSync      = "sync"
	ModeAsync     = "async"
	ModeTranscode = "transcode"
)

// Output containers.
const (
	ContainerAuto   = ""
	ContainerIVF    = "ivf"
	ContainerAnnexB = "annexb"
	ContainerRTP    = "rtp"
	ContainerNone   = "none"
)

// FakeInput selects the synthetic frame source.
const FakeInput = "fake_input"

// Suite is a benchmark definition file.
type Suite struct {
	OutputDir string          `yaml:"output_dir"`
	ResultsDB string          `yaml:"results_db"`
	LogLevel  string          `yaml:"log_level"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Tests     []Test          `yaml:"tests"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // "grpc" or "http"
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Test is one run.
type Test struct {
	Common           Common          `yaml:"common"`
	Input            Input           `yaml:"input"`
	Configure        Configure       `yaml:"configure"`
	Runtime          Runtime         `yaml:"runtime"`
	DecoderConfigure DecoderSettings `yaml:"decoder_configure"`
	DecoderRuntime   Runtime         `yaml:"decoder_runtime"`
	Setup            Setup           `yaml:"test_setup"`
}

// Common identifies a test.
type Common struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	OutputDir   string `yaml:"output_dir"`
}

// Input describes the frame source.
type Input struct {
	Filepath      string  `yaml:"filepath"`
	Resolution    string  `yaml:"resolution"`
	PixFmt        string  `yaml:"pix_fmt"`
	Framerate     float64 `yaml:"framerate"`
	PlayoutFrames int     `yaml:"playout_frames"`
	StoptimeSec   float64 `yaml:"stoptime_sec"`
	Realtime      bool    `yaml:"realtime"`
}

// Configure holds encoder settings.
type Configure struct {
	Codec          string      `yaml:"codec"`
	Mime           string      `yaml:"mime"`
	Encode         *bool       `yaml:"encode"`
	Bitrate        string      `yaml:"bitrate"`
	BitrateMode    string      `yaml:"bitrate_mode"`
	Framerate      float64     `yaml:"framerate"`
	IFrameInterval int         `yaml:"i_frame_interval"`
	Resolution     string      `yaml:"resolution"`
	Container      string      `yaml:"container"`
	Parameters     []Parameter `yaml:"parameters"`
}

// DecoderSettings holds decoder settings for transcodes.
type DecoderSettings struct {
	Codec      string      `yaml:"codec"`
	Parameters []Parameter `yaml:"parameters"`
}

// Parameter is a typed key/value pair.
type Parameter struct {
	Key   string `yaml:"key"`
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

// Runtime lists changes applied at given frames.
type Runtime struct {
	VideoBitrate     []BitrateChange   `yaml:"video_bitrate"`
	RequestSync      []int             `yaml:"request_sync"`
	Drop             []int             `yaml:"drop"`
	DynamicFramerate []FramerateChange `yaml:"dynamic_framerate"`
	Parameters       []FrameParameter  `yaml:"parameters"`
}

// BitrateChange sets the target bitrate at Framenum.
type BitrateChange struct {
	Framenum int    `yaml:"framenum"`
	Bitrate  string `yaml:"bitrate"`
}

// FramerateChange switches the target frame rate at Framenum.
type FramerateChange struct {
	Framenum  int     `yaml:"framenum"`
	Framerate float64 `yaml:"framerate"`
}

// FrameParameter is a Parameter bound to a frame.
type FrameParameter struct {
	Framenum  int `yaml:"framenum"`
	Parameter `yaml:",inline"`
}

// Setup tunes the pipeline itself.
type Setup struct {
	Mode               string        `yaml:"mode"`
	PTSBaseUs          *int64        `yaml:"pts_base_us"`
	PreserveTimestamps bool          `yaml:"preserve_timestamps"`
	EOSTimeout         time.Duration `yaml:"eos_timeout"`
	JoinTimeout        time.Duration `yaml:"join_timeout"`
	PollTimeout        time.Duration `yaml:"poll_timeout"`
	DriftDropFactor    float64       `yaml:"drift_drop_factor"`
	MaxDriftDrops      int           `yaml:"max_drift_drops"`
	BridgeQueue        int           `yaml:"bridge_queue"`
	FailureThreshold   int           `yaml:"failure_threshold"`
}

// Defaults for Setup.
const (
	DefaultPTSBaseUs        int64 = 132
	DefaultEOSTimeout             = 5 * time.Second
	DefaultJoinTimeout            = time.Second
	DefaultPollTimeout            = 10 * time.Millisecond
	DefaultDriftDropFactor        = 2.0
	DefaultBridgeQueue            = 4
	DefaultFailureThreshold       = 3
	DefaultIFrameInterval         = 10
	DefaultInputFramerate         = 30.0
	DefaultPixFmt                 = "yuv420p"
)

// IsEncode reports whether the test encodes.
func (c Configure) IsEncode() bool {
	return c.Encode == nil || *c.Encode
}

// PTSBase returns the configured presentation timestamp base.
func (s Setup) PTSBase() int64 {
	if s.PTSBaseUs == nil {
		return DefaultPTSBaseUs
	}
	return *s.PTSBaseUs
}
