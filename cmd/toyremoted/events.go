package main

import (
	"encoding/json"
	"fmt"
	"time"

	"toyremote/remote"
)

// ============================================================================
// Events
// ============================================================================
// Events are the only way to reach the session. They come from IPC clients,
// the Buttplug client (device arrival/removal), the state websocket (snapshot
// requests) and the daemon ticker, and are handled one at a time by runDaemon.
// ============================================================================

// Event is a marker interface for everything runDaemon consumes.
type Event interface {
	eventMarker()
}

// DeviceRef addresses a device by identity in wire events.
type DeviceRef struct {
	Brand string `json:"brand"`
	Kind  string `json:"kind,omitempty"`
}

func (r DeviceRef) Key() remote.DeviceKey { return remote.DeviceKey{Brand: r.Brand, Kind: r.Kind} }

// SetPower requests a power transition. An empty enactor means the owner.
type SetPower struct {
	On      bool   `json:"on"`
	Enactor string `json:"enactor,omitempty"`
}

// SetPosition drags one motor dot.
type SetPosition struct {
	DeviceRef
	Motor    int     `json:"motor"`
	Position float64 `json:"position"`
}

// EndDrag releases one motor dot.
type EndDrag struct {
	DeviceRef
	Motor int `json:"motor"`
}

type SetDeviceEnabled struct {
	DeviceRef
	Enabled bool `json:"enabled"`
}

type SetMotorLoop struct {
	DeviceRef
	Motor int  `json:"motor"`
	On    bool `json:"on"`
}

type SetMotorFloat struct {
	DeviceRef
	Motor int  `json:"motor"`
	On    bool `json:"on"`
}

// PlayPattern plays a library pattern, looked up by id or name.
type PlayPattern struct {
	Pattern    string `json:"pattern"`
	StartMS    int    `json:"start_ms,omitempty"`
	DurationMS int    `json:"duration_ms,omitempty"`
	Enactor    string `json:"enactor,omitempty"`

	// Loop overrides the pattern's own loop flag when set.
	Loop *bool `json:"loop,omitempty"`
}

type StopPattern struct {
	Enactor string `json:"enactor,omitempty"`
}

type PrepareRecording struct {
	Enactor string `json:"enactor,omitempty"`
}

type StartRecording struct {
	Name string `json:"name,omitempty"`
}

type StopRecording struct{}

type CancelRecording struct{}

// StreamSegments delivers a batch of a peer's live intensity data.
type StreamSegments struct {
	Enactor  string                 `json:"enactor"`
	Segments []remote.StreamSegment `json:"segments"`
}

// ReloadPatterns rescans the pattern directory.
type ReloadPatterns struct{}

func (SetPower) eventMarker()         {}
func (SetPosition) eventMarker()      {}
func (EndDrag) eventMarker()          {}
func (SetDeviceEnabled) eventMarker() {}
func (SetMotorLoop) eventMarker()     {}
func (SetMotorFloat) eventMarker()    {}
func (PlayPattern) eventMarker()      {}
func (StopPattern) eventMarker()      {}
func (PrepareRecording) eventMarker() {}
func (StartRecording) eventMarker()   {}
func (StopRecording) eventMarker()    {}
func (CancelRecording) eventMarker()  {}
func (StreamSegments) eventMarker()   {}
func (ReloadPatterns) eventMarker()   {}

// ============================================================================
// Internal events (never on the wire)
// ============================================================================

// Tick is emitted by the daemon loop every remote.TickInterval.
type Tick struct {
	Now time.Time
}

// DeviceAdded is emitted by the Buttplug client when a device becomes available.
type DeviceAdded struct {
	Descriptor remote.DeviceDescriptor
	Actuator   remote.Actuator
}

// DeviceRemoved is emitted by the Buttplug client when a device disconnects.
type DeviceRemoved struct {
	Key remote.DeviceKey
}

// RequestStateSnapshot asks the daemon loop for a snapshot, delivered on Reply.
type RequestStateSnapshot struct {
	Reply chan StateSnapshot
}

func (Tick) eventMarker()                 {}
func (DeviceAdded) eventMarker()          {}
func (DeviceRemoved) eventMarker()        {}
func (RequestStateSnapshot) eventMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func decodeEvent[T Event](data json.RawMessage) (Event, error) {
	var ev T
	if len(data) == 0 {
		return ev, nil
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal %T: %w", ev, err)
	}
	return ev, nil
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "set_power":
		return decodeEvent[SetPower](env.Data)
	case "set_position":
		return decodeEvent[SetPosition](env.Data)
	case "end_drag":
		return decodeEvent[EndDrag](env.Data)
	case "set_device_enabled":
		return decodeEvent[SetDeviceEnabled](env.Data)
	case "set_motor_loop":
		return decodeEvent[SetMotorLoop](env.Data)
	case "set_motor_float":
		return decodeEvent[SetMotorFloat](env.Data)
	case "play_pattern":
		return decodeEvent[PlayPattern](env.Data)
	case "stop_pattern":
		return decodeEvent[StopPattern](env.Data)
	case "prepare_recording":
		return decodeEvent[PrepareRecording](env.Data)
	case "start_recording":
		return decodeEvent[StartRecording](env.Data)
	case "stop_recording":
		return StopRecording{}, nil
	case "cancel_recording":
		return CancelRecording{}, nil
	case "stream_segments":
		return decodeEvent[StreamSegments](env.Data)
	case "reload_patterns":
		return ReloadPatterns{}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// eventType returns the wire discriminator of e. Internal events have none.
func eventType(e Event) (string, bool) {
	switch e.(type) {
	case SetPower:
		return "set_power", true
	case SetPosition:
		return "set_position", true
	case EndDrag:
		return "end_drag", true
	case SetDeviceEnabled:
		return "set_device_enabled", true
	case SetMotorLoop:
		return "set_motor_loop", true
	case SetMotorFloat:
		return "set_motor_float", true
	case PlayPattern:
		return "play_pattern", true
	case StopPattern:
		return "stop_pattern", true
	case PrepareRecording:
		return "prepare_recording", true
	case StartRecording:
		return "start_recording", true
	case StopRecording:
		return "stop_recording", true
	case CancelRecording:
		return "cancel_recording", true
	case StreamSegments:
		return "stream_segments", true
	case ReloadPatterns:
		return "reload_patterns", true
	default:
		return "", false
	}
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	typ, ok := eventType(e)
	if !ok {
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}
	env := EventEnvelope{Type: typ}

	switch e.(type) {
	case StopRecording, CancelRecording, ReloadPatterns:
		// no payload
	default:
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal %T: %w", e, err)
		}
		env.Data = data
	}

	return json.Marshal(env)
}
