package remote

import "fmt"

// AccessPreset names one of the fixed capability presets a session can be in.
type AccessPreset int

const (
	AccessPreviewing AccessPreset = iota
	AccessForcedPlayback
	AccessPlayback
	AccessRecordingStartup
	AccessRecording
	AccessFull
)

func (p AccessPreset) String() string {
	switch p {
	case AccessPreviewing:
		return "previewing"
	case AccessForcedPlayback:
		return "forced_playback"
	case AccessPlayback:
		return "playback"
	case AccessRecordingStartup:
		return "recording_startup"
	case AccessRecording:
		return "recording"
	case AccessFull:
		return "full"
	default:
		return fmt.Sprintf("AccessPreset(%d)", int(p))
	}
}

// Op is a gated UI/control operation.
type Op int

const (
	OpCloseWindow Op = iota
	OpTogglePower
	OpSelectDevice
	OpToggleDeviceEnabled
	OpSelectMotor
	OpToggleMotorFunction
	OpDragMotor
)

func (o Op) String() string {
	switch o {
	case OpCloseWindow:
		return "close_window"
	case OpTogglePower:
		return "toggle_power"
	case OpSelectDevice:
		return "select_device"
	case OpToggleDeviceEnabled:
		return "toggle_device_enabled"
	case OpSelectMotor:
		return "select_motor"
	case OpToggleMotorFunction:
		return "toggle_motor_function"
	case OpDragMotor:
		return "drag_motor"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Access is an immutable capability snapshot. Only the presets below exist;
// sessions move between them at protocol events and never flip single flags.
type Access struct {
	preset AccessPreset

	WindowClosable      bool
	PowerToggle         bool
	DeviceSelect        bool
	DeviceEnableToggle  bool
	MotorSelect         bool
	MotorFunctionToggle bool // loop / float
	MotorDragControl    bool
}

var accessPresets = [...]Access{
	AccessPreviewing: {
		preset:         AccessPreviewing,
		WindowClosable: true,
		DeviceSelect:   true,
		MotorSelect:    true,
	},
	AccessForcedPlayback: {
		preset:       AccessForcedPlayback,
		DeviceSelect: true,
		MotorSelect:  true,
	},
	AccessPlayback: {
		preset:         AccessPlayback,
		WindowClosable: true,
		PowerToggle:    true,
		DeviceSelect:   true,
		MotorSelect:    true,
	},
	AccessRecordingStartup: {
		preset:              AccessRecordingStartup,
		DeviceSelect:        true,
		DeviceEnableToggle:  true,
		MotorSelect:         true,
		MotorFunctionToggle: true,
	},
	AccessRecording: {
		preset:              AccessRecording,
		DeviceSelect:        true,
		DeviceEnableToggle:  true,
		MotorSelect:         true,
		MotorFunctionToggle: true,
		MotorDragControl:    true,
	},
	AccessFull: {
		preset:              AccessFull,
		WindowClosable:      true,
		PowerToggle:         true,
		DeviceSelect:        true,
		DeviceEnableToggle:  true,
		MotorSelect:         true,
		MotorFunctionToggle: true,
		MotorDragControl:    true,
	},
}

// AccessFor returns the capability set of a preset. Unknown presets get Previewing.
func AccessFor(p AccessPreset) Access {
	if p < 0 || int(p) >= len(accessPresets) {
		return accessPresets[AccessPreviewing]
	}
	return accessPresets[p]
}

// Preset returns the preset this snapshot was built from.
func (a Access) Preset() AccessPreset { return a.preset }

// Allows reports whether op is legal under this snapshot.
func (a Access) Allows(op Op) bool {
	switch op {
	case OpCloseWindow:
		return a.WindowClosable
	case OpTogglePower:
		return a.PowerToggle
	case OpSelectDevice:
		return a.DeviceSelect
	case OpToggleDeviceEnabled:
		return a.DeviceEnableToggle
	case OpSelectMotor:
		return a.MotorSelect
	case OpToggleMotorFunction:
		return a.MotorFunctionToggle
	case OpDragMotor:
		return a.MotorDragControl
	default:
		return false
	}
}

func (a Access) String() string { return a.preset.String() }
