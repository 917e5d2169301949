package remote

import (
	"fmt"
	"log/slog"
	"time"
)

// Owner identifies the user whose devices a session drives.
type Owner struct {
	UID   string
	Alias string
}

// Options configures a session.
type Options struct {
	Logger   *slog.Logger
	Notifier Notifier
	Clock    func() time.Time
	History  HistoryLimits
}

// sessionKind is implemented by the concrete session types. UserPlottedDevices calls
// these at power transitions and on every tick while active.
type sessionKind interface {
	onControlBegin(enactor string)
	onControlEnd(enactor string)
	onUpdateTick()
}

// UserPlottedDevices is the state shared by every session kind: the owner's device set,
// the power state, the access snapshot, the elapsed-time counter, and the cursor table.
//
// It is not safe for concurrent use. Ticks and every UI mutation must come from one goroutine.
type UserPlottedDevices struct {
	owner Owner

	devices map[DeviceKey]*DeviceDot
	order   []DeviceKey // insertion order

	power  bool
	access Access

	cursors *CursorTable

	clock     func() time.Time
	startedAt time.Time
	elapsed   time.Duration

	limits   HistoryLimits
	notifier Notifier
	logger   *slog.Logger

	kind sessionKind
}

func (u *UserPlottedDevices) init(owner Owner, opts Options, access AccessPreset, kind sessionKind) {
	u.owner = owner
	u.devices = make(map[DeviceKey]*DeviceDot)
	u.access = AccessFor(access)
	u.cursors = NewCursorTable()
	u.clock = opts.Clock
	if u.clock == nil {
		u.clock = time.Now
	}
	u.limits = opts.History.normalized()
	u.notifier = opts.Notifier
	if u.notifier == nil {
		u.notifier = nopNotifier{}
	}
	u.logger = opts.Logger
	if u.logger == nil {
		u.logger = discardLogger()
	}
	u.logger = u.logger.With("owner", owner.UID)
	u.kind = kind
}

func (u *UserPlottedDevices) Owner() Owner                 { return u.owner }
func (u *UserPlottedDevices) Power() bool                  { return u.power }
func (u *UserPlottedDevices) Access() Access               { return u.access }
func (u *UserPlottedDevices) HistoryLimits() HistoryLimits { return u.limits }

// Cursor returns a copy of a playback cursor.
func (u *UserPlottedDevices) Cursor(slot CursorSlot) PlaybackRef {
	if ref := u.cursors.Get(slot); ref != nil {
		return *ref
	}
	return PlaybackRef{Index: -1}
}

// Elapsed is how long the session has been powered, frozen at the last power-down.
func (u *UserPlottedDevices) Elapsed() time.Duration {
	if u.power {
		return u.clock().Sub(u.startedAt)
	}
	return u.elapsed
}

// Devices returns the device set in insertion order.
func (u *UserPlottedDevices) Devices() []*DeviceDot {
	out := make([]*DeviceDot, 0, len(u.order))
	for _, k := range u.order {
		out = append(out, u.devices[k])
	}
	return out
}

// Device looks a device up by identity.
func (u *UserPlottedDevices) Device(key DeviceKey) (*DeviceDot, bool) {
	d, ok := u.devices[key]
	return d, ok
}

// AddDevice adds d unless a device with the same identity is already present.
func (u *UserPlottedDevices) AddDevice(d *DeviceDot) bool {
	if d == nil {
		return false
	}
	if _, ok := u.devices[d.Key()]; ok {
		return false
	}
	u.devices[d.Key()] = d
	u.order = append(u.order, d.Key())
	u.logger.Info("device added", "device", d.Key().String(), "motors", len(d.order))
	return true
}

// RemoveDevice stops and cleans up the device before it leaves the set. If the set becomes
// empty while powered, the session powers down.
func (u *UserPlottedDevices) RemoveDevice(key DeviceKey) bool {
	d, ok := u.devices[key]
	if !ok {
		return false
	}
	u.logger.Info("powering down device", "device", key.String())
	d.Cleanup()
	delete(u.devices, key)
	for i, k := range u.order {
		if k == key {
			u.order = append(u.order[:i], u.order[i+1:]...)
			break
		}
	}
	if u.power && len(u.devices) == 0 {
		u.TrySetPower(false, u.owner.UID)
	}
	return true
}

// TrySetPower requests a power transition. No-op requests and activation with an empty
// device set are rejected; power-down is always accepted.
func (u *UserPlottedDevices) TrySetPower(on bool, enactor string) bool {
	if on == u.power {
		return false
	}
	if on && len(u.devices) == 0 {
		u.logger.Debug("power on rejected: no devices", "enactor", enactor)
		return false
	}
	u.power = on
	u.logger.Info("power changed", "on", on, "enactor", enactor)
	if on {
		u.kind.onControlBegin(enactor)
	} else {
		u.kind.onControlEnd(enactor)
	}
	u.notifier.Notify(PowerChanged{On: on, Enactor: enactor})
	return true
}

// OnUpdateTick runs one tick. It is a no-op while idle.
func (u *UserPlottedDevices) OnUpdateTick() {
	if !u.power {
		return
	}
	u.kind.onUpdateTick()
}

// Close ends the session: power down, stop and clean every device, and empty the set.
func (u *UserPlottedDevices) Close() {
	if u.power {
		u.TrySetPower(false, u.owner.UID)
	}
	for _, k := range u.order {
		u.logger.Info("powering down device", "device", k.String())
		u.devices[k].Cleanup()
		delete(u.devices, k)
	}
	u.order = nil
}

func (u *UserPlottedDevices) beginControl() {
	u.startedAt = u.clock()
	u.elapsed = 0
}

func (u *UserPlottedDevices) endControl() {
	u.elapsed = u.clock().Sub(u.startedAt)
	u.startedAt = time.Time{}
}

func (u *UserPlottedDevices) setAccess(p AccessPreset) {
	if u.access.Preset() == p {
		return
	}
	u.logger.Debug("access changed", "from", u.access.String(), "to", p.String())
	u.access = AccessFor(p)
	u.notifier.Notify(AccessChanged{Preset: p})
}

func (u *UserPlottedDevices) isSelf(enactor string) bool {
	return enactor == "" || enactor == u.owner.UID
}

func (u *UserPlottedDevices) stopAll() {
	for _, d := range u.Devices() {
		d.Stop()
	}
}

func (u *UserPlottedDevices) guard(op Op) error {
	if !u.access.Allows(op) {
		return fmt.Errorf("%s under %s: %w", op, u.access, ErrAccessDenied)
	}
	return nil
}

func (u *UserPlottedDevices) motor(key DeviceKey, index int) (*DeviceDot, *MotorDot, error) {
	d, ok := u.devices[key]
	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", key, ErrUnknownDevice)
	}
	m, ok := d.Motor(index)
	if !ok {
		return nil, nil, fmt.Errorf("%s motor %d: %w", key, index, ErrUnknownMotor)
	}
	return d, m, nil
}

// ============================================================================
// UI operations (gated by Access)
// ============================================================================

// CanClose reports whether the control window may be closed right now.
func (u *UserPlottedDevices) CanClose() bool { return u.access.Allows(OpCloseWindow) }

// TogglePower flips the power state on behalf of the UI.
func (u *UserPlottedDevices) TogglePower(enactor string) error {
	if err := u.guard(OpTogglePower); err != nil {
		return err
	}
	if !u.TrySetPower(!u.power, enactor) {
		return ErrPowerRejected
	}
	return nil
}

// SetMotorPosition applies a drag of one motor dot.
func (u *UserPlottedDevices) SetMotorPosition(key DeviceKey, index int, pos float64) error {
	if err := u.guard(OpDragMotor); err != nil {
		return err
	}
	_, m, err := u.motor(key, index)
	if err != nil {
		return err
	}
	m.SetPosition(pos)
	return nil
}

// EndMotorDrag releases a motor dot. Releasing is always allowed.
func (u *UserPlottedDevices) EndMotorDrag(key DeviceKey, index int) error {
	_, m, err := u.motor(key, index)
	if err != nil {
		return err
	}
	m.EndDrag()
	return nil
}

// SetDeviceEnabled toggles a device's output.
func (u *UserPlottedDevices) SetDeviceEnabled(key DeviceKey, enabled bool) error {
	if err := u.guard(OpToggleDeviceEnabled); err != nil {
		return err
	}
	d, ok := u.devices[key]
	if !ok {
		return fmt.Errorf("%s: %w", key, ErrUnknownDevice)
	}
	if d.Enabled() == enabled {
		return nil
	}
	d.SetEnabled(enabled)
	if !enabled {
		d.Stop()
	}
	return nil
}

// SetMotorLooping toggles loop authoring on a motor.
func (u *UserPlottedDevices) SetMotorLooping(key DeviceKey, index int, on bool) error {
	if err := u.guard(OpToggleMotorFunction); err != nil {
		return err
	}
	_, m, err := u.motor(key, index)
	if err != nil {
		return err
	}
	m.SetLooping(on)
	return nil
}

// SetMotorFloating toggles whether a released motor keeps its position.
func (u *UserPlottedDevices) SetMotorFloating(key DeviceKey, index int, on bool) error {
	if err := u.guard(OpToggleMotorFunction); err != nil {
		return err
	}
	_, m, err := u.motor(key, index)
	if err != nil {
		return err
	}
	m.SetFloating(on)
	return nil
}
