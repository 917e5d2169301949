package remote

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// Actuator is the per-device actuation sink. Implementations are expected to be
// non-blocking (fire-and-forget); returned errors are logged and never retried here.
type Actuator interface {
	Vibrate(index int, value float64) error
	Oscillate(index int, value float64) error
	Rotate(value float64, clockwise bool) error
	Constrict(value float64) error
	Inflate(value float64) error
	StopAllMotors() error
}

// DeviceKey is the identity of a device: its brand plus the concrete device kind.
// Two DeviceDots with the same key are the same device regardless of motor contents.
type DeviceKey struct {
	Brand string
	Kind  string
}

func (k DeviceKey) String() string {
	if k.Kind == "" {
		return k.Brand
	}
	return k.Brand + "/" + k.Kind
}

// MotorDescriptor is the wire/config shape of a motor.
type MotorDescriptor struct {
	Index    int       `json:"index" yaml:"index"`
	Type     MotorType `json:"type" yaml:"type"`
	Interval float64   `json:"interval" yaml:"interval"`
}

// DeviceDescriptor describes a device as enumerated by the device server or loaded from config.
type DeviceDescriptor struct {
	Brand  string            `json:"brand" yaml:"brand"`
	Kind   string            `json:"kind,omitempty" yaml:"kind,omitempty"`
	Name   string            `json:"name,omitempty" yaml:"name,omitempty"`
	Motors []MotorDescriptor `json:"motors" yaml:"motors"`
}

// Key returns the identity the descriptor maps to.
func (d DeviceDescriptor) Key() DeviceKey { return DeviceKey{Brand: d.Brand, Kind: d.Kind} }

// Validate checks the descriptor is usable to build a DeviceDot.
func (d DeviceDescriptor) Validate() error {
	if d.Brand == "" {
		return errors.New("device brand must not be empty")
	}
	if len(d.Motors) == 0 {
		return fmt.Errorf("device %s has no motors", d.Key())
	}
	seen := make(map[int]struct{}, len(d.Motors))
	for _, m := range d.Motors {
		if m.Index < 0 {
			return fmt.Errorf("device %s: motor index %d must be >= 0", d.Key(), m.Index)
		}
		if _, dup := seen[m.Index]; dup {
			return fmt.Errorf("device %s: duplicate motor index %d", d.Key(), m.Index)
		}
		seen[m.Index] = struct{}{}
		if _, err := ParseMotorType(string(m.Type)); err != nil {
			return fmt.Errorf("device %s motor %d: %w", d.Key(), m.Index, err)
		}
		if m.Interval < 0 || m.Interval > 1 {
			return fmt.Errorf("device %s motor %d: interval must be within [0, 1]", d.Key(), m.Index)
		}
	}
	return nil
}

// DeviceDot owns the MotorDots of one physical or virtual device and dispatches their
// output to the device's Actuator according to motor type.
type DeviceDot struct {
	key  DeviceKey
	name string

	motors map[int]*MotorDot
	order  []int // motor indices, ascending

	enabled        bool
	remoteEligible bool

	actuator Actuator
	logger   *slog.Logger
}

// NewDeviceDot builds a DeviceDot from a descriptor. A nil logger discards output.
func NewDeviceDot(desc DeviceDescriptor, act Actuator, limits HistoryLimits, logger *slog.Logger) (*DeviceDot, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if act == nil {
		return nil, fmt.Errorf("device %s: actuator is nil", desc.Key())
	}
	if logger == nil {
		logger = discardLogger()
	}

	d := &DeviceDot{
		key:            desc.Key(),
		name:           desc.Name,
		motors:         make(map[int]*MotorDot, len(desc.Motors)),
		enabled:        true,
		remoteEligible: true,
		actuator:       act,
		logger:         logger.With("device", desc.Key().String()),
	}
	for _, md := range desc.Motors {
		mt, _ := ParseMotorType(string(md.Type))
		d.motors[md.Index] = NewMotorDot(Motor{Type: mt, Index: md.Index, Interval: md.Interval}, limits)
		d.order = append(d.order, md.Index)
	}
	sort.Ints(d.order)
	if d.name == "" {
		d.name = d.key.String()
	}
	return d, nil
}

func (d *DeviceDot) Key() DeviceKey { return d.key }
func (d *DeviceDot) Name() string   { return d.name }
func (d *DeviceDot) Enabled() bool  { return d.enabled }

// SetEnabled toggles whether the device outputs anything.
func (d *DeviceDot) SetEnabled(v bool) { d.enabled = v }

// RemoteEligible reports whether the owner allows this device to be driven remotely.
func (d *DeviceDot) RemoteEligible() bool     { return d.remoteEligible }
func (d *DeviceDot) SetRemoteEligible(v bool) { d.remoteEligible = v }

// Equal compares identity only.
func (d *DeviceDot) Equal(o *DeviceDot) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.key == o.key
}

// Motor returns the MotorDot for index, if any.
func (d *DeviceDot) Motor(index int) (*MotorDot, bool) {
	m, ok := d.motors[index]
	return m, ok
}

// Motors returns the MotorDots ordered by motor index.
func (d *DeviceDot) Motors() []*MotorDot {
	out := make([]*MotorDot, 0, len(d.order))
	for _, idx := range d.order {
		out = append(out, d.motors[idx])
	}
	return out
}

// UpdatePosition sends each motor's current value to the device.
func (d *DeviceDot) UpdatePosition() {
	if !d.enabled {
		return
	}
	for _, m := range d.Motors() {
		m.TrySendLatest(d.sinkFor(m))
	}
}

// RecordAndUpdatePosition records every motor first, then sends current values.
func (d *DeviceDot) RecordAndUpdatePosition() {
	for _, m := range d.Motors() {
		m.RecordPosition(d.enabled)
	}
	d.UpdatePosition()
}

// PlaybackLatestPosition actuates, for every motor bound to an active cursor, the sample at the
// cursor index. Out-of-range indices are logged and the motor is skipped for this frame.
func (d *DeviceDot) PlaybackLatestPosition(cursors *CursorTable) {
	if !d.enabled {
		return
	}
	for _, m := range d.Motors() {
		ref := cursors.Get(m.Slot())
		if ref == nil || !ref.Active() {
			continue
		}
		v, err := m.PlaybackValue(ref.Index)
		if err != nil {
			d.logger.Warn("skipping playback frame", "motor", m.Motor().Index, "cursor", m.Slot().String(), "error", err)
			continue
		}
		m.sendQuantized(v, d.sinkFor(m))
	}
}

// Cleanup clears every motor buffer and stops the device with a single call.
func (d *DeviceDot) Cleanup() {
	for _, m := range d.motors {
		m.ClearBuffers()
		m.markStopped()
	}
	if err := d.actuator.StopAllMotors(); err != nil {
		d.logger.Warn("stop all motors failed", "error", err)
	}
}

// Stop halts the device output without clearing any buffer.
func (d *DeviceDot) Stop() {
	for _, m := range d.motors {
		m.markStopped()
	}
	if err := d.actuator.StopAllMotors(); err != nil {
		d.logger.Warn("stop all motors failed", "error", err)
	}
}

func (d *DeviceDot) sinkFor(m *MotorDot) func(float64) {
	motor := m.Motor()
	return func(v float64) {
		var err error
		switch motor.Type {
		case MotorVibration:
			err = d.actuator.Vibrate(motor.Index, v)
		case MotorOscillation:
			err = d.actuator.Oscillate(motor.Index, v)
		case MotorRotation:
			err = d.actuator.Rotate(v, m.Clockwise())
		case MotorConstrict:
			err = d.actuator.Constrict(v)
		case MotorInflate:
			err = d.actuator.Inflate(v)
		default:
			err = fmt.Errorf("unsupported motor type %q", motor.Type)
		}
		if err != nil {
			d.logger.Debug("actuation failed", "motor", motor.Index, "type", string(motor.Type), "value", v, "error", err)
		}
	}
}

// Descriptor rebuilds the descriptor of this device.
func (d *DeviceDot) Descriptor() DeviceDescriptor {
	desc := DeviceDescriptor{Brand: d.key.Brand, Kind: d.key.Kind, Name: d.name}
	for _, m := range d.Motors() {
		mo := m.Motor()
		desc.Motors = append(desc.Motors, MotorDescriptor{Index: mo.Index, Type: mo.Type, Interval: mo.Interval})
	}
	return desc
}
