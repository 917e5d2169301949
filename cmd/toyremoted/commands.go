package main

import (
	"fmt"

	"toyremote/remote"
)

// ==============================
// Commands (side effects)
// ==============================

// Command is a side effect requested while handling an event. The daemon loop
// queues commands and runs them through runEffect after the event is handled, so
// session code never blocks on disk or on UI clients.
type Command interface {
	commandMarker()
	String() string
}

// CmdBroadcast fans a state broadcast out to websocket clients.
type CmdBroadcast struct {
	Broadcast StateBroadcast
}

func (CmdBroadcast) commandMarker() {}
func (c CmdBroadcast) String() string {
	return fmt.Sprintf("CmdBroadcast(%T)", c.Broadcast)
}

// CmdSavePattern writes a freshly recorded pattern to the library.
type CmdSavePattern struct {
	Pattern remote.Pattern
}

func (CmdSavePattern) commandMarker() {}
func (c CmdSavePattern) String() string {
	return fmt.Sprintf("CmdSavePattern(id=%s samples=%d)", c.Pattern.ID, c.Pattern.Length())
}

// CmdPublishStateSnapshot delivers a snapshot to the requester.
type CmdPublishStateSnapshot struct {
	Reply    chan StateSnapshot
	Snapshot StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }

// ==============================
// Broadcasts (websocket fanout)
// ==============================

// StateBroadcast is an externally visible state change.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastStatusChanged carries the full status whenever it differs from the last one sent.
type BroadcastStatusChanged struct {
	Status StateSnapshot
}

type BroadcastPowerChanged struct {
	On      bool
	Enactor string
}

type BroadcastAccessChanged struct {
	Preset string
}

type BroadcastPlaybackBegan struct {
	PatternID string
	Enactor   string
}

type BroadcastPlaybackEnded struct {
	PatternID string
	Reason    string
}

// BroadcastPlaybackStopped tells peers that a pattern stopped on its own or on request.
type BroadcastPlaybackStopped struct {
	PatternID string
}

type BroadcastStreamChanged struct {
	Active  bool
	Enactor string
}

type BroadcastPatternSaved struct {
	ID   string
	Name string
	Path string
}

// BroadcastCommandFailed reports an event the session rejected.
type BroadcastCommandFailed struct {
	Event string
	Error string
}

func (BroadcastStatusChanged) broadcastMarker()   {}
func (BroadcastPowerChanged) broadcastMarker()    {}
func (BroadcastAccessChanged) broadcastMarker()   {}
func (BroadcastPlaybackBegan) broadcastMarker()   {}
func (BroadcastPlaybackEnded) broadcastMarker()   {}
func (BroadcastPlaybackStopped) broadcastMarker() {}
func (BroadcastStreamChanged) broadcastMarker()   {}
func (BroadcastPatternSaved) broadcastMarker()    {}
func (BroadcastCommandFailed) broadcastMarker()   {}
