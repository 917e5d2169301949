package remote

import "errors"

var (
	// ErrAccessDenied is returned when the session's current Access preset forbids an operation.
	ErrAccessDenied = errors.New("operation not allowed in current access preset")

	// ErrPowerRejected is returned when a power request is a no-op or has no devices to drive.
	ErrPowerRejected = errors.New("power state change rejected")

	// ErrUnknownDevice is returned when a device key is not part of the session.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrUnknownMotor is returned when a motor index does not exist on a device.
	ErrUnknownMotor = errors.New("unknown motor")

	// ErrNoEligibleDevices is returned when a pattern or stream addresses no attached,
	// remote-eligible device.
	ErrNoEligibleDevices = errors.New("no attached device is eligible")

	// ErrModeConflict is returned when a playback/recording mode cannot start because another
	// mutually exclusive mode is active.
	ErrModeConflict = errors.New("another playback or recording mode is active")

	// ErrPatternTooShort is returned when the requested slice of a pattern is empty.
	ErrPatternTooShort = errors.New("requested pattern slice is shorter than one tick")

	// ErrNotRecording is returned when stopping a recording that never started.
	ErrNotRecording = errors.New("not recording")

	// ErrNotPlaying is returned when stopping a pattern that is not playing.
	ErrNotPlaying = errors.New("no pattern is playing")
)
