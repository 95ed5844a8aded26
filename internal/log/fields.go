// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRunID  = "run_id"
	FieldTestID = "test_id"
	FieldStatID = "stats_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldMode      = "mode"
	FieldRole      = "role"

	// Media / codec fields
	FieldCodec      = "codec"
	FieldMime       = "mime"
	FieldResolution = "resolution"
	FieldFPS        = "fps"
	FieldBitrate    = "bitrate"

	// Buffer fields
	FieldFrame       = "frame"
	FieldBufferIndex = "buffer_index"
	FieldPTS         = "pts_us"
	FieldFlags       = "flags"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath = "path"
)
