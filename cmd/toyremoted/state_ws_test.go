package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newTestStateServer serves the router backed by a fake daemon loop that answers
// snapshot requests and forwards every other event to the returned channel.
func newTestStateServer(t *testing.T, allowControl bool) (*httptest.Server, <-chan Event) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	events := make(chan Event, 8)
	forwarded := make(chan Event, 8)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				if req, ok := ev.(RequestStateSnapshot); ok {
					req.Reply <- StateSnapshot{
						Owner:    "me",
						Access:   "full",
						Devices:  []DeviceStatus{{Brand: "Lovense", Kind: "Edge", Name: "Lovense Edge", Enabled: true}},
						Patterns: []PatternSummary{{ID: "wave", Name: "Wave", DurationMS: 60}},
					}
					continue
				}
				forwarded <- ev
			}
		}
	}()

	srv := NewServer(slog.Default(), events, StateServerConfig{AllowControl: allowControl})
	go srv.Hub().Run(ctx)
	hs := httptest.NewServer(NewRouter(srv, "/ws/state"))
	t.Cleanup(hs.Close)
	return hs, forwarded
}

func startStateServer(t *testing.T, allowControl bool) (*websocket.Conn, <-chan Event) {
	t.Helper()
	hs, forwarded := newTestStateServer(t, allowControl)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http")+"/ws/state", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, forwarded
}

func readWSFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f wsFrame
	if err := json.Unmarshal(msg, &f); err != nil {
		t.Fatalf("unmarshal %q: %v", string(msg), err)
	}
	return f
}

func TestStateWS_InitThenControl(t *testing.T) {
	conn, forwarded := startStateServer(t, true)

	init := readWSFrame(t, conn)
	if init.Type != "state_init" || statusOwner(t, init) != "me" {
		t.Fatalf("first frame got %s, want state_init for me", init.Type)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"set_position","data":{"brand":"Lovense","motor":0,"position":0.3}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case ev := <-forwarded:
		sp, ok := ev.(SetPosition)
		if !ok || sp.Brand != "Lovense" || sp.Position != 0.3 {
			t.Fatalf("forwarded got %#v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for forwarded event")
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"explode"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if f := readWSFrame(t, conn); f.Type != "command_rejected" {
		t.Fatalf("got %s, want command_rejected", f.Type)
	}
}

func TestStateWS_ReadOnlyRejectsControl(t *testing.T) {
	conn, forwarded := startStateServer(t, false)
	if f := readWSFrame(t, conn); f.Type != "state_init" {
		t.Fatalf("first frame got %s, want state_init", f.Type)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop_pattern"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := readWSFrame(t, conn)
	var data wsCommandFailedData
	_ = json.Unmarshal(f.Data, &data)
	if f.Type != "command_rejected" || data.Error != errReadOnly.Error() {
		t.Fatalf("got %s %+v, want read-only rejection", f.Type, data)
	}
	select {
	case ev := <-forwarded:
		t.Fatalf("read-only client forwarded %#v", ev)
	default:
	}
}
