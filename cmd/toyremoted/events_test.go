package main

import (
	"reflect"
	"testing"

	"toyremote/remote"
)

func TestEventEnvelope_RoundTrip(t *testing.T) {
	loop := false
	events := []Event{
		SetPower{On: true, Enactor: "peer"},
		SetPosition{DeviceRef: DeviceRef{Brand: "Lovense", Kind: "Edge"}, Motor: 1, Position: 0.4},
		EndDrag{DeviceRef: DeviceRef{Brand: "Lovense"}, Motor: 0},
		PlayPattern{Pattern: "wave", StartMS: 200, DurationMS: 1000, Loop: &loop},
		StopPattern{},
		StartRecording{Name: "evening"},
		StopRecording{},
		CancelRecording{},
		ReloadPatterns{},
		StreamSegments{Enactor: "peer", Segments: []remote.StreamSegment{
			{Brand: "Lovense", MotorIndex: 0, MotorType: remote.MotorVibration, Samples: []float64{0.1, 0.2}},
		}},
	}
	for _, ev := range events {
		b, err := MarshalEvent(ev)
		if err != nil {
			t.Fatalf("MarshalEvent(%T): %v", ev, err)
		}
		got, err := UnmarshalEvent(b)
		if err != nil {
			t.Fatalf("UnmarshalEvent(%s): %v", string(b), err)
		}
		if !reflect.DeepEqual(got, ev) {
			t.Fatalf("round trip got %#v, want %#v", got, ev)
		}
	}
}

func TestUnmarshalEvent_WireShape(t *testing.T) {
	ev, err := UnmarshalEvent([]byte(`{"type":"set_position","data":{"brand":"Lovense","kind":"Edge","motor":1,"position":0.75}}`))
	if err != nil {
		t.Fatalf("UnmarshalEvent: %v", err)
	}
	sp, ok := ev.(SetPosition)
	if !ok {
		t.Fatalf("got %T, want SetPosition", ev)
	}
	if sp.Key() != (remote.DeviceKey{Brand: "Lovense", Kind: "Edge"}) || sp.Motor != 1 || sp.Position != 0.75 {
		t.Fatalf("got %+v", sp)
	}
}

func TestUnmarshalEvent_Errors(t *testing.T) {
	bad := []string{
		`not json`,
		`{"type":"explode"}`,
		`{"type":"set_power","data":{"on":"yes"}}`,
	}
	for _, in := range bad {
		if _, err := UnmarshalEvent([]byte(in)); err == nil {
			t.Fatalf("UnmarshalEvent(%s): expected error", in)
		}
	}
}

func TestMarshalEvent_RejectsInternalEvents(t *testing.T) {
	for _, ev := range []Event{Tick{}, DeviceRemoved{}, RequestStateSnapshot{}} {
		if _, err := MarshalEvent(ev); err == nil {
			t.Fatalf("MarshalEvent(%T): expected error", ev)
		}
	}
}
