// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package encoder

import (
	"fmt"

	"github.com/ManuGH/encbench/internal/codec"
	"github.com/ManuGH/encbench/internal/config"
	"github.com/ManuGH/encbench/internal/pipeline/clock"
	"github.com/ManuGH/encbench/internal/pipeline/gate"
)

// resolve finds and instantiates the codec named by name, falling back to
// mime when no name is given.
func resolve(reg *codec.Registry, name, mime string, encoder bool) (codec.Info, codec.Codec, error) {
	query := name
	if query == "" {
		query = mime
	}
	info, err := reg.Lookup(query, encoder)
	if err != nil {
		return codec.Info{}, nil, err
	}
	c, err := reg.Create(info.Name)
	if err != nil {
		return codec.Info{}, nil, err
	}
	return info, c, nil
}

// applyParameters adds typed configuration parameters to f.
func applyParameters(f codec.Format, params []config.Parameter) error {
	for _, p := range params {
		kind, err := codec.ParseKind(p.Type)
		if err != nil {
			return fmt.Errorf("parameter %s: %w", p.Key, err)
		}
		v, err := codec.ParseValue(kind, p.Value)
		if err != nil {
			return fmt.Errorf("parameter %s: %w", p.Key, err)
		}
		f[p.Key] = v
	}
	return nil
}

// encoderFormat builds the encoder configuration of t.
func encoderFormat(t config.Test, mime string, res config.Resolution, colorFormat int64) (codec.Format, error) {
	c := t.Configure
	f := codec.Format{
		codec.KeyMime:           codec.StringValue(mime),
		codec.KeyWidth:          codec.IntValue(int64(res.Width)),
		codec.KeyHeight:         codec.IntValue(int64(res.Height)),
		codec.KeyFrameRate:      codec.FloatValue(c.Framerate),
		codec.KeyIFrameInterval: codec.IntValue(int64(c.IFrameInterval)),
		codec.KeyColorFormat:    codec.IntValue(colorFormat),
	}
	if c.Bitrate != "" {
		bps, err := codec.ParseMagnitude(c.Bitrate)
		if err != nil {
			return nil, fmt.Errorf("bitrate: %w", err)
		}
		f[codec.KeyBitrate] = codec.IntValue(bps)
	}
	if c.BitrateMode != "" {
		f[codec.KeyBitrateMode] = codec.StringValue(c.BitrateMode)
	}
	if err := applyParameters(f, c.Parameters); err != nil {
		return nil, err
	}
	return f, nil
}

// schedule turns the runtime section of a test into frame events.
func schedule(r config.Runtime) (*gate.Schedule, error) {
	var events []gate.Event
	for _, b := range r.VideoBitrate {
		bps, err := codec.ParseMagnitude(b.Bitrate)
		if err != nil {
			return nil, fmt.Errorf("runtime bitrate at frame %d: %w", b.Framenum, err)
		}
		events = append(events, gate.Event{Frame: b.Framenum, Kind: gate.KindBitrate, Value: codec.IntValue(bps)})
	}
	for _, f := range r.RequestSync {
		events = append(events, gate.Event{Frame: f, Kind: gate.KindRequestSync})
	}
	for _, p := range r.Parameters {
		kind, err := codec.ParseKind(p.Type)
		if err != nil {
			return nil, fmt.Errorf("runtime parameter %s: %w", p.Key, err)
		}
		v, err := codec.ParseValue(kind, p.Value)
		if err != nil {
			return nil, fmt.Errorf("runtime parameter %s: %w", p.Key, err)
		}
		events = append(events, gate.Event{Frame: p.Framenum, Kind: gate.KindParameter, Key: p.Key, Value: v})
	}
	if len(events) == 0 {
		return nil, nil
	}
	return gate.NewSchedule(events)
}

// frameGate builds the drop and decimation policy of an input stream.
// Rate changes also retime pacer when one is given.
func frameGate(referenceFPS, targetFPS float64, r config.Runtime, pacer *clock.FrameClock) *gate.Gate {
	changes := make([]gate.RateChange, 0, len(r.DynamicFramerate))
	for _, c := range r.DynamicFramerate {
		changes = append(changes, gate.RateChange{Frame: c.Framenum, FPS: c.Framerate})
	}
	opts := []gate.Option{
		gate.WithDropFrames(r.Drop),
		gate.WithRateChanges(changes),
	}
	if pacer != nil {
		opts = append(opts, gate.WithRateHook(pacer.SetFrameRate))
	}
	return gate.New(referenceFPS, targetFPS, opts...)
}
