// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package codec

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Well-known format and parameter keys.
const (
	KeyMime           = "mime"
	KeyWidth          = "width"
	KeyHeight         = "height"
	KeyStride         = "stride"
	KeySliceHeight    = "slice-height"
	KeyColorFormat    = "color-format"
	KeyBitrate        = "bitrate"
	KeyBitrateMode    = "bitrate-mode"
	KeyFrameRate      = "frame-rate"
	KeyIFrameInterval = "i-frame-interval"
	KeyMaxInputSize   = "max-input-size"

	ParamVideoBitrate     = "video-bitrate"
	ParamRequestSyncFrame = "request-sync"
	ParamDropInputFrames  = "drop-input-frames"
)

// Color formats understood by the bundled codecs.
const (
	ColorFormatYUV420Planar     int64 = 19
	ColorFormatYUV420SemiPlanar int64 = 21
	ColorFormatYUV420Flexible   int64 = 0x7F420888
)

// Kind tags a Value.
type Kind uint8

const (
	KindInt Kind = iota
	KindLong
	KindFloat
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindLong:
		return "long"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// ParseKind maps configuration type names onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int", "inttype", "integer":
		return KindInt, nil
	case "long", "longtype":
		return KindLong, nil
	case "float", "floattype":
		return KindFloat, nil
	case "string", "stringtype", "str":
		return KindString, nil
	default:
		return 0, fmt.Errorf("unknown value type %q", s)
	}
}

// Value is a typed format or parameter value.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Str   string
}

func IntValue(v int64) Value     { return Value{Kind: KindInt, Int: v} }
func LongValue(v int64) Value    { return Value{Kind: KindLong, Int: v} }
func FloatValue(v float64) Value { return Value{Kind: KindFloat, Float: v} }
func StringValue(v string) Value { return Value{Kind: KindString, Str: v} }

// ParseValue parses raw according to kind. Integer kinds accept magnitude
// suffixes (k, M, G).
func ParseValue(kind Kind, raw string) (Value, error) {
	raw = strings.TrimSpace(raw)
	switch kind {
	case KindInt, KindLong:
		n, err := ParseMagnitude(raw)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: kind, Int: n}, nil
	case KindFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse float %q: %w", raw, err)
		}
		return FloatValue(f), nil
	case KindString:
		return StringValue(raw), nil
	default:
		return Value{}, fmt.Errorf("unsupported kind %d", kind)
	}
}

// ParseMagnitude parses integers such as "500k", "2M" or "1G".
func ParseMagnitude(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty magnitude")
	}
	mult := 1.0
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1e3
	case 'M', 'm':
		mult = 1e6
	case 'G', 'g':
		mult = 1e9
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse magnitude %q: %w", s, err)
	}
	return int64(f * mult), nil
}

// AsInt returns the value as an integer, converting floats.
func (v Value) AsInt() int64 {
	switch v.Kind {
	case KindFloat:
		return int64(v.Float)
	case KindString:
		n, _ := ParseMagnitude(v.Str)
		return n
	default:
		return v.Int
	}
}

// AsFloat returns the value as a float, converting integers.
func (v Value) AsFloat() float64 {
	switch v.Kind {
	case KindInt, KindLong:
		return float64(v.Int)
	case KindString:
		f, _ := strconv.ParseFloat(v.Str, 64)
		return f
	default:
		return v.Float
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindInt, KindLong:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	default:
		return v.Str
	}
}

// Format describes a media format as typed key/value pairs.
type Format map[string]Value

// Params is a bundle of runtime parameters applied in one SetParameters call.
type Params map[string]Value

// Clone returns an independent copy.
func (f Format) Clone() Format {
	if f == nil {
		return nil
	}
	return maps.Clone(f)
}

// Int returns an integer entry.
func (f Format) Int(key string) (int64, bool) {
	v, ok := f[key]
	if !ok {
		return 0, false
	}
	return v.AsInt(), true
}

// IntOr returns an integer entry or def.
func (f Format) IntOr(key string, def int64) int64 {
	if v, ok := f.Int(key); ok {
		return v
	}
	return def
}

// Float returns a float entry.
func (f Format) Float(key string) (float64, bool) {
	v, ok := f[key]
	if !ok {
		return 0, false
	}
	return v.AsFloat(), true
}

// String returns a string entry.
func (f Format) String(key string) string {
	v, ok := f[key]
	if !ok {
		return ""
	}
	return v.String()
}

// Diff returns the entries of f that are new or changed relative to prev.
func (f Format) Diff(prev Format) map[string]string {
	out := make(map[string]string)
	for k, v := range f {
		if old, ok := prev[k]; ok && old == v {
			continue
		}
		out[k] = v.String()
	}
	return out
}

// Keys returns the sorted keys.
func (f Format) Keys() []string {
	return slices.Sorted(maps.Keys(f))
}

// Mime types of the video codecs the harness knows about.
const (
	MimeAVC  = "video/avc"
	MimeHEVC = "video/hevc"
	MimeVP8  = "video/x-vnd.on2.vp8"
	MimeVP9  = "video/x-vnd.on2.vp9"
	MimeAV1  = "video/av01"
	MimeRaw  = "video/raw"
)

var fourCCs = map[string]string{
	MimeAVC:  "H264",
	MimeHEVC: "H265",
	MimeVP8:  "VP80",
	MimeVP9:  "VP90",
	MimeAV1:  "AV01",
	MimeRaw:  "I420",
}

// FourCC returns the container tag for mime, or "" if unknown.
func FourCC(mime string) string { return fourCCs[mime] }

// MimeFromFourCC is the inverse of FourCC.
func MimeFromFourCC(tag string) string {
	for m, t := range fourCCs {
		if t == tag {
			return m
		}
	}
	return ""
}
