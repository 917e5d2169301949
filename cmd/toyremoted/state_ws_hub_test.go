package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

// These tests exercise the hub and broadcaster without a network. Clients are
// built with a nil websocket.Conn; the hub never writes to it directly.

func newTestHub(t *testing.T, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(slog.Default(), HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func newTestClient(hub *Hub, name string, buf int) *Client {
	return &Client{
		hub:        hub,
		send:       make(chan []byte, buf),
		remoteAddr: name,
		logger:     slog.Default(),
	}
}

func registerClient(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.joins <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, c.remoteAddr+" not registered in time")
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	c1 := newTestClient(hub, "c1", 4)
	c2 := newTestClient(hub, "c2", 4)
	registerClient(t, hub, c1)
	registerClient(t, hub, c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("client count got %d, want 2", got)
	}

	msg := []byte(`{"type":"power_changed","data":{"on":true}}`)
	hub.frames <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.remoteAddr, string(got), string(msg))
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s to receive broadcast", c.remoteAddr)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for hub to stop")
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 1, 8)
	go hub.Run(ctx)

	slow := newTestClient(hub, "slow", 1)
	fast := newTestClient(hub, "fast", 8)
	registerClient(t, hub, slow)
	registerClient(t, hub, fast)

	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"access_changed","data":{"preset":"playback"}}`)
	hub.frames <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", string(got), string(msg))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for fast client to receive broadcast")
	}

	// Drain the pre-filled message, then expect the channel to be closed.
	select {
	case <-slow.send:
	default:
	}
	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")

	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("client count got %d, want 1", got)
	}
}

type wsFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, hub *Hub) wsFrame {
	t.Helper()
	select {
	case b := <-hub.frames:
		var f wsFrame
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("unmarshal frame %q: %v", string(b), err)
		}
		return f
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for broadcast frame")
		return wsFrame{}
	}
}

func statusOwner(t *testing.T, f wsFrame) string {
	t.Helper()
	var snap StateSnapshot
	if err := json.Unmarshal(f.Data, &snap); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	return snap.Owner
}

func TestRunBroadcaster_CoalescesStatusAndKeepsOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 32)
	src := make(chan StateBroadcast, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		RunBroadcaster(ctx, hub, src, slog.Default())
	}()

	src <- BroadcastStatusChanged{Status: StateSnapshot{Owner: "a"}}
	first := readFrame(t, hub)
	if first.Type != "status_changed" || statusOwner(t, first) != "a" {
		t.Fatalf("first frame got %s/%s, want status_changed/a", first.Type, statusOwner(t, first))
	}

	src <- BroadcastStatusChanged{Status: StateSnapshot{Owner: "b"}}
	src <- BroadcastStatusChanged{Status: StateSnapshot{Owner: "c"}}
	src <- BroadcastPowerChanged{On: true, Enactor: "peer"}

	var lastStatus string
	statusFrames := 0
	for {
		f := readFrame(t, hub)
		if f.Type == "power_changed" {
			break
		}
		if f.Type != "status_changed" {
			t.Fatalf("unexpected frame type %q", f.Type)
		}
		statusFrames++
		lastStatus = statusOwner(t, f)
	}
	if lastStatus != "c" {
		t.Fatalf("last status before power_changed got %q, want c", lastStatus)
	}
	if statusFrames > 2 {
		t.Fatalf("status frames got %d, want at most 2", statusFrames)
	}

	close(src)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for broadcaster to stop")
	}
}

func TestConvertBroadcast_Types(t *testing.T) {
	cases := []struct {
		in   StateBroadcast
		want string
	}{
		{BroadcastStatusChanged{}, "status_changed"},
		{BroadcastPowerChanged{}, "power_changed"},
		{BroadcastAccessChanged{}, "access_changed"},
		{BroadcastPlaybackBegan{}, "playback_began"},
		{BroadcastPlaybackEnded{}, "playback_ended"},
		{BroadcastPlaybackStopped{}, "playback_stopped"},
		{BroadcastStreamChanged{}, "stream_changed"},
		{BroadcastPatternSaved{}, "pattern_saved"},
		{BroadcastCommandFailed{}, "command_failed"},
	}
	for _, tc := range cases {
		ev, ok := convertBroadcast(tc.in)
		if !ok || ev.Type != tc.want {
			t.Fatalf("convertBroadcast(%T) got %q/%v, want %q", tc.in, ev.Type, ok, tc.want)
		}
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
