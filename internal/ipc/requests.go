// Package ipc carries control requests to the daemon over a unix domain
// socket.
//
// Protocol: line-delimited JSON.
//   - Client sends: {"type": "request_name", "data": {...}}
//   - Server responds: {"status": "ok", "data": ...} or {"status": "error", "error": "msg"}
package ipc

import (
	"encoding/json"
	"fmt"
)

// Request is implemented by every IPC request type.
type Request interface {
	Type() string
}

type TriggerSkip struct{}

type StopSkip struct{}

// SetVolume sets the user volume in [0, 1].
type SetVolume struct {
	Volume float64 `json:"volume"`
}

type Play struct{}

type Pause struct{}

type TogglePlayPause struct{}

// Next and Previous move through the play queue.
type Next struct{}

type Previous struct{}

type Seek struct {
	PositionMs int64 `json:"position_ms"`
}

// SetSettings updates only the fields that are present.
type SetSettings struct {
	Enabled        *bool    `json:"enabled,omitempty"`
	Sensitivity    *float64 `json:"sensitivity,omitempty"`
	HapticFeedback *bool    `json:"haptic_feedback,omitempty"`
}

type SetSensitivity struct {
	Value float64 `json:"value"`
}

type SetEnabled struct {
	Enabled bool `json:"enabled"`
}

type SetHaptic struct {
	Enabled bool `json:"enabled"`
}

type ResetCount struct{}

type ResetDetector struct{}

// InjectSample feeds one accelerometer reading (m/s²) to the detector.
type InjectSample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// GetStatus asks for the daemon status, returned in Response.Data.
type GetStatus struct{}

func (TriggerSkip) Type() string     { return "trigger_skip" }
func (StopSkip) Type() string        { return "stop_skip" }
func (SetVolume) Type() string       { return "set_volume" }
func (Play) Type() string            { return "play" }
func (Pause) Type() string           { return "pause" }
func (TogglePlayPause) Type() string { return "toggle_play_pause" }
func (Next) Type() string            { return "next" }
func (Previous) Type() string        { return "previous" }
func (Seek) Type() string            { return "seek" }
func (SetSettings) Type() string     { return "set_settings" }
func (SetSensitivity) Type() string  { return "set_sensitivity" }
func (SetEnabled) Type() string      { return "set_enabled" }
func (SetHaptic) Type() string       { return "set_haptic" }
func (ResetCount) Type() string      { return "reset_count" }
func (ResetDetector) Type() string   { return "reset_detector" }
func (InjectSample) Type() string    { return "sample" }
func (GetStatus) Type() string       { return "status" }

// Envelope is the wire form of a Request.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Marshal encodes r as an envelope. Requests without fields carry no data.
func Marshal(r Request) ([]byte, error) {
	env := Envelope{Type: r.Type()}
	switch r.(type) {
	case TriggerSkip, StopSkip, Play, Pause, TogglePlayPause, Next, Previous, ResetCount, ResetDetector, GetStatus:
	default:
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", r.Type(), err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Unmarshal decodes an envelope into its Request.
func Unmarshal(data []byte) (Request, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "trigger_skip":
		return TriggerSkip{}, nil
	case "stop_skip":
		return StopSkip{}, nil
	case "play":
		return Play{}, nil
	case "pause":
		return Pause{}, nil
	case "toggle_play_pause":
		return TogglePlayPause{}, nil
	case "next":
		return Next{}, nil
	case "previous":
		return Previous{}, nil
	case "reset_count":
		return ResetCount{}, nil
	case "reset_detector":
		return ResetDetector{}, nil
	case "status":
		return GetStatus{}, nil
	case "set_volume":
		return decode[SetVolume](env)
	case "seek":
		return decode[Seek](env)
	case "set_settings":
		return decode[SetSettings](env)
	case "set_sensitivity":
		return decode[SetSensitivity](env)
	case "set_enabled":
		return decode[SetEnabled](env)
	case "set_haptic":
		return decode[SetHaptic](env)
	case "sample":
		return decode[InjectSample](env)
	case "":
		return nil, fmt.Errorf("missing request type")
	default:
		return nil, fmt.Errorf("unknown request type: %s", env.Type)
	}
}

func decode[T Request](env Envelope) (Request, error) {
	var v T
	if err := decodeData(env, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s: missing data", env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", env.Type, err)
	}
	return nil
}
