package main

import (
	"errors"
	"fmt"
	"time"

	"toyremote/remote"
)

// handleEvent applies one event to the session. Session notifications raised while it
// runs land in st.pending; the caller drains them after each event.
//
// Errors are rejections (access, mode, unknown device); they never leave the session
// in a partial state.
func handleEvent(st *daemonState, ev Event) error {
	s := st.session

	switch e := ev.(type) {
	case Tick:
		s.OnUpdateTick()
		return nil

	case SetPower:
		if s.Power() == e.On {
			return nil
		}
		return s.TogglePower(st.enactor(e.Enactor))

	case SetPosition:
		return s.SetMotorPosition(e.Key(), e.Motor, e.Position)

	case EndDrag:
		return s.EndMotorDrag(e.Key(), e.Motor)

	case SetDeviceEnabled:
		return s.SetDeviceEnabled(e.Key(), e.Enabled)

	case SetMotorLoop:
		return s.SetMotorLooping(e.Key(), e.Motor, e.On)

	case SetMotorFloat:
		return s.SetMotorFloating(e.Key(), e.Motor, e.On)

	case PlayPattern:
		p, err := st.library.Get(e.Pattern)
		if err != nil {
			return err
		}
		opts := remote.PlayOptions{
			StartOffset: time.Duration(e.StartMS) * time.Millisecond,
			Duration:    time.Duration(e.DurationMS) * time.Millisecond,
			Loop:        p.Loop,
		}
		if e.Loop != nil {
			opts.Loop = *e.Loop
		}
		return s.SwitchPattern(p, opts, st.enactor(e.Enactor))

	case StopPattern:
		return s.StopPattern(st.enactor(e.Enactor))

	case PrepareRecording:
		return s.PrepareRecording(st.enactor(e.Enactor))

	case StartRecording:
		return s.StartRecording(e.Name)

	case StopRecording:
		// The compiled pattern reaches the library through RecordingSaveRequested.
		_, err := s.StopRecording()
		return err

	case CancelRecording:
		return s.CancelRecording()

	case StreamSegments:
		if e.Enactor == "" {
			return errors.New("stream_segments: enactor is required")
		}
		return s.InjectStream(e.Segments, e.Enactor)

	case ReloadPatterns:
		return st.library.Load()

	case DeviceAdded:
		return st.addDevice(e.Descriptor, e.Actuator)

	case DeviceRemoved:
		if !s.RemoveDevice(e.Key) {
			return fmt.Errorf("%s: %w", e.Key, remote.ErrUnknownDevice)
		}
		return nil

	case RequestStateSnapshot:
		st.enqueue(CmdPublishStateSnapshot{Reply: e.Reply, Snapshot: st.snapshot(true)})
		return nil

	default:
		return fmt.Errorf("unknown event type: %T", ev)
	}
}

// enactor maps an empty enactor to the session owner.
func (st *daemonState) enactor(uid string) string {
	if uid == "" {
		return st.session.Owner().UID
	}
	return uid
}

func (st *daemonState) addDevice(desc remote.DeviceDescriptor, act remote.Actuator) error {
	d, err := remote.NewDeviceDot(desc, act, st.limits, st.logger.With("component", "device"))
	if err != nil {
		return err
	}
	if st.isLocalOnly(desc.Brand) {
		d.SetRemoteEligible(false)
	}
	if !st.session.AddDevice(d) {
		return fmt.Errorf("device %s already attached", desc.Key())
	}
	return nil
}

// applyEvent runs handleEvent and turns a rejection into a logged command_failed broadcast.
func (st *daemonState) applyEvent(ev Event) {
	err := handleEvent(st, ev)
	if err == nil {
		return
	}
	name, ok := eventType(ev)
	if !ok {
		name = fmt.Sprintf("%T", ev)
	}
	st.logger.Warn("event rejected", "event", name, "error", err)
	st.enqueue(CmdBroadcast{BroadcastCommandFailed{Event: name, Error: err.Error()}})
}
