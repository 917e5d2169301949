package main

import (
	"log/slog"
	"reflect"
	"slices"

	"toyremote/remote"
)

// daemonState is everything the daemon loop owns. Nothing here is shared with
// other goroutines; they reach it through events only.
type daemonState struct {
	session *remote.ClientPlottedDevices
	library *PatternLibrary
	limits  remote.HistoryLimits

	// localOnly brands are never remote-eligible.
	localOnly []string

	// pending collects commands produced while handling one event.
	pending []Command

	lastStatus *StateSnapshot
	logger     *slog.Logger
}

func newDaemonState(cfg Config, library *PatternLibrary, logger *slog.Logger) *daemonState {
	st := &daemonState{
		library:   library,
		limits:    cfg.HistoryLimits(),
		localOnly: cfg.Engine.LocalOnlyBrands,
		logger:    logger,
	}
	st.session = remote.NewClientPlottedDevices(
		remote.Owner{UID: cfg.Owner.UID, Alias: cfg.Owner.Alias},
		remote.ClientOptions{
			Options: remote.Options{
				Logger:   logger.With("component", "session"),
				Notifier: st,
				History:  st.limits,
			},
			MaxStreamSamples:    cfg.Engine.MaxStreamSamples,
			MaxRecordingSamples: cfg.Engine.MaxRecordingSamples,
		},
	)
	return st
}

func (st *daemonState) enqueue(cmds ...Command) {
	st.pending = append(st.pending, cmds...)
}

// takeCommands returns and clears the pending command queue.
func (st *daemonState) takeCommands() []Command {
	cmds := st.pending
	st.pending = nil
	return cmds
}

// Notify turns session notifications into queued commands.
func (st *daemonState) Notify(n remote.Notification) {
	switch n := n.(type) {
	case remote.PowerChanged:
		st.enqueue(CmdBroadcast{BroadcastPowerChanged{On: n.On, Enactor: n.Enactor}})
	case remote.AccessChanged:
		st.enqueue(CmdBroadcast{BroadcastAccessChanged{Preset: n.Preset.String()}})
	case remote.PlaybackBegan:
		st.enqueue(CmdBroadcast{BroadcastPlaybackBegan{PatternID: n.PatternID, Enactor: n.Enactor}})
	case remote.PlaybackEnded:
		st.enqueue(CmdBroadcast{BroadcastPlaybackEnded{PatternID: n.PatternID, Reason: n.Reason.String()}})
	case remote.PlaybackStopPublished:
		st.enqueue(CmdBroadcast{BroadcastPlaybackStopped{PatternID: n.PatternID}})
	case remote.StreamStarted:
		st.enqueue(CmdBroadcast{BroadcastStreamChanged{Active: true, Enactor: n.Enactor}})
	case remote.StreamEnded:
		st.enqueue(CmdBroadcast{BroadcastStreamChanged{Active: false}})
	case remote.RecordingSaveRequested:
		st.enqueue(CmdSavePattern{Pattern: n.Pattern})
	default:
		st.logger.Debug("unhandled session notification", "type", reflect.TypeOf(n).String())
	}
}

func (st *daemonState) isLocalOnly(brand string) bool {
	return slices.Contains(st.localOnly, brand)
}

// ============================================================================
// Snapshots
// ============================================================================

// StateSnapshot is the externally visible session state.
type StateSnapshot struct {
	Owner            string           `json:"owner"`
	Power            bool             `json:"power"`
	Access           string           `json:"access"`
	ElapsedMS        int64            `json:"elapsed_ms"`
	Pattern          *CursorStatus    `json:"pattern,omitempty"`
	Stream           *CursorStatus    `json:"stream,omitempty"`
	Recording        bool             `json:"recording"`
	RecordingStartup bool             `json:"recording_startup"`
	Devices          []DeviceStatus   `json:"devices"`
	Patterns         []PatternSummary `json:"patterns,omitempty"`
}

type CursorStatus struct {
	PatternID string `json:"pattern_id"`
	Index     int    `json:"index"`
	Length    int    `json:"length"`
	Loop      bool   `json:"loop"`
}

type DeviceStatus struct {
	Brand          string        `json:"brand"`
	Kind           string        `json:"kind,omitempty"`
	Name           string        `json:"name"`
	Enabled        bool          `json:"enabled"`
	RemoteEligible bool          `json:"remote_eligible"`
	Motors         []MotorStatus `json:"motors"`
}

type MotorStatus struct {
	Index    int     `json:"index"`
	Type     string  `json:"type"`
	Position float64 `json:"position"`
	Dragging bool    `json:"dragging"`
	Looping  bool    `json:"looping"`
	Floating bool    `json:"floating"`
}

func cursorStatus(ref remote.PlaybackRef) *CursorStatus {
	if !ref.Active() {
		return nil
	}
	return &CursorStatus{PatternID: ref.PatternID, Index: ref.Index, Length: ref.Length, Loop: ref.Loop}
}

// snapshot builds the current state. The pattern list is only included when withLibrary is set.
func (st *daemonState) snapshot(withLibrary bool) StateSnapshot {
	s := st.session
	snap := StateSnapshot{
		Owner:            s.Owner().UID,
		Power:            s.Power(),
		Access:           s.Access().String(),
		ElapsedMS:        s.Elapsed().Milliseconds(),
		Pattern:          cursorStatus(s.Cursor(remote.CursorPattern)),
		Stream:           cursorStatus(s.Cursor(remote.CursorStream)),
		Recording:        s.IsRecording(),
		RecordingStartup: s.IsRecordingStartup(),
		Devices:          []DeviceStatus{},
	}
	for _, d := range s.Devices() {
		ds := DeviceStatus{
			Brand:          d.Key().Brand,
			Kind:           d.Key().Kind,
			Name:           d.Name(),
			Enabled:        d.Enabled(),
			RemoteEligible: d.RemoteEligible(),
		}
		for _, m := range d.Motors() {
			ds.Motors = append(ds.Motors, MotorStatus{
				Index:    m.Motor().Index,
				Type:     string(m.Motor().Type),
				Position: m.Position(),
				Dragging: m.Dragging(),
				Looping:  m.Looping(),
				Floating: m.Floating(),
			})
		}
		snap.Devices = append(snap.Devices, ds)
	}
	if withLibrary && st.library != nil {
		snap.Patterns = st.library.List()
	}
	return snap
}

// publishStatusIfChanged queues a status broadcast when the status differs from the
// last one published. Elapsed time alone never counts as a change.
func (st *daemonState) publishStatusIfChanged() {
	cur := st.snapshot(false)
	cmp := cur
	cmp.ElapsedMS = 0
	if st.lastStatus != nil && reflect.DeepEqual(*st.lastStatus, cmp) {
		return
	}
	st.lastStatus = &cmp
	st.enqueue(CmdBroadcast{BroadcastStatusChanged{Status: cur}})
}
