package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func decodeData(t *testing.T, env envelope) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(env.Data, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", string(env.Data), err)
	}
	return m
}

func TestBuildEnvelope_Drag(t *testing.T) {
	env, err := buildEnvelope("drag", []string{"Lovense/Edge", "1", "0.6"})
	if err != nil {
		t.Fatalf("buildEnvelope: %v", err)
	}
	if env.Type != "set_position" {
		t.Fatalf("type got %q, want set_position", env.Type)
	}
	m := decodeData(t, env)
	if m["brand"] != "Lovense" || m["kind"] != "Edge" || m["motor"] != 1.0 || m["position"] != 0.6 {
		t.Fatalf("data got %v", m)
	}
}

func TestBuildEnvelope_PowerAndPlayFlags(t *testing.T) {
	env, err := buildEnvelope("power", []string{"off", "-enactor", "peer"})
	if err != nil {
		t.Fatalf("power: %v", err)
	}
	if m := decodeData(t, env); m["on"] != false || m["enactor"] != "peer" {
		t.Fatalf("power data got %v", m)
	}

	env, err = buildEnvelope("play", []string{"wave"})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if _, set := decodeData(t, env)["loop"]; set {
		t.Fatalf("loop should be left to the pattern when -loop is not given")
	}

	env, err = buildEnvelope("play", []string{"wave", "-loop=false"})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if m := decodeData(t, env); m["loop"] != false {
		t.Fatalf("loop got %v, want explicit false", m["loop"])
	}

	env, err = buildEnvelope("play", []string{"wave", "-loop", "-start", "200"})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	m := decodeData(t, env)
	if env.Type != "play_pattern" || m["pattern"] != "wave" || m["loop"] != true || m["start_ms"] != 200.0 {
		t.Fatalf("play got %s %v", env.Type, m)
	}
}

func TestBuildEnvelope_Errors(t *testing.T) {
	cases := [][]string{
		{"power", "maybe"},
		{"play"},
		{"drag", "Lovense", "0", "1.5"},
		{"release", "Lovense", "x"},
		{"record", "pause"},
		{"explode"},
	}
	for _, c := range cases {
		if _, err := buildEnvelope(c[0], c[1:]); err == nil {
			t.Fatalf("buildEnvelope(%v): expected error", c)
		}
	}
}

func TestBuildEnvelope_StreamFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segments.yaml")
	body := `owner: alice
segments:
  - brand: Lovense
    motor_index: 0
    motor_type: Vibrate
    samples: [0.1, 0.2]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	env, err := buildEnvelope("stream", []string{path})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var data struct {
		Enactor  string `json:"enactor"`
		Segments []struct {
			MotorType string    `json:"motor_type"`
			Samples   []float64 `json:"samples"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if data.Enactor != "alice" || len(data.Segments) != 1 || data.Segments[0].MotorType != "vibration" {
		t.Fatalf("stream data got %+v", data)
	}

	env, err = buildEnvelope("stream", []string{path, "-enactor", "bob"})
	if err != nil {
		t.Fatalf("stream with enactor: %v", err)
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Enactor != "bob" {
		t.Fatalf("enactor override got %q (%v)", data.Enactor, err)
	}
}

func TestFormatFrame(t *testing.T) {
	if got := formatFrame([]byte(`{"type":"power_changed","data":{"on":true}}`)); got != `[power_changed] {"on":true}` {
		t.Fatalf("formatFrame got %q", got)
	}
	if got := formatFrame([]byte(`plain`)); got != "plain" {
		t.Fatalf("formatFrame got %q, want plain", got)
	}
}
