package remote

import (
	"math"
	"testing"
	"time"
)

// actuation is one call recorded by fakeActuator.
type actuation struct {
	kind  string
	index int
	value float64
}

// fakeActuator records every actuation instead of talking to hardware.
type fakeActuator struct {
	calls []actuation
	stops int
}

func (a *fakeActuator) Vibrate(index int, value float64) error {
	a.calls = append(a.calls, actuation{kind: "vibrate", index: index, value: value})
	return nil
}

func (a *fakeActuator) Oscillate(index int, value float64) error {
	a.calls = append(a.calls, actuation{kind: "oscillate", index: index, value: value})
	return nil
}

func (a *fakeActuator) Rotate(value float64, clockwise bool) error {
	a.calls = append(a.calls, actuation{kind: "rotate", value: value})
	return nil
}

func (a *fakeActuator) Constrict(value float64) error {
	a.calls = append(a.calls, actuation{kind: "constrict", value: value})
	return nil
}

func (a *fakeActuator) Inflate(value float64) error {
	a.calls = append(a.calls, actuation{kind: "inflate", value: value})
	return nil
}

func (a *fakeActuator) StopAllMotors() error {
	a.stops++
	return nil
}

// values returns the values sent with the given kind and motor index, in order.
func (a *fakeActuator) values(kind string, index int) []float64 {
	var out []float64
	for _, c := range a.calls {
		if c.kind == kind && c.index == index {
			out = append(out, c.value)
		}
	}
	return out
}

func (a *fakeActuator) last(kind string, index int) (float64, bool) {
	vs := a.values(kind, index)
	if len(vs) == 0 {
		return 0, false
	}
	return vs[len(vs)-1], true
}

// fakeNotifier keeps every notification.
type fakeNotifier struct {
	notes []Notification
}

func (n *fakeNotifier) Notify(note Notification) { n.notes = append(n.notes, note) }

func notesOf[T Notification](n *fakeNotifier) []T {
	var out []T
	for _, note := range n.notes {
		if v, ok := note.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func vibrator(index int) MotorDescriptor {
	return MotorDescriptor{Index: index, Type: MotorVibration}
}

func newTestDevice(t *testing.T, brand string, act Actuator, motors ...MotorDescriptor) *DeviceDot {
	t.Helper()
	if len(motors) == 0 {
		motors = []MotorDescriptor{vibrator(0)}
	}
	d, err := NewDeviceDot(DeviceDescriptor{Brand: brand, Kind: "test", Motors: motors}, act, DefaultHistoryLimits(), nil)
	if err != nil {
		t.Fatalf("NewDeviceDot: %v", err)
	}
	return d
}

func newTestClient(t *testing.T, notes *fakeNotifier, opts ClientOptions) *ClientPlottedDevices {
	t.Helper()
	opts.Notifier = notes
	return NewClientPlottedDevices(Owner{UID: "me", Alias: "Me"}, opts)
}

func testPattern(brand string, loop bool, samples ...float64) Pattern {
	return Pattern{
		ID:     NewPatternID(),
		Name:   "test",
		Loop:   loop,
		Tracks: []Track{{Brand: brand, MotorIndex: 0, MotorType: MotorVibration, Samples: samples}},
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func equalSamples(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !approx(a[i], b[i]) {
			return false
		}
	}
	return true
}
