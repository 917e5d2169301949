package remote

import (
	"fmt"
	"strings"
	"time"
)

// TickInterval is the fixed cadence at which sessions are ticked and at which
// patterns and streams are sampled.
const TickInterval = 20 * time.Millisecond

// MotorType identifies what kind of actuation a motor performs.
type MotorType string

const (
	MotorVibration   MotorType = "vibration"
	MotorOscillation MotorType = "oscillation"
	MotorRotation    MotorType = "rotation"
	MotorConstrict   MotorType = "constriction"
	MotorInflate     MotorType = "inflation"
)

// ParseMotorType converts a (case-insensitive) name into a MotorType.
// Buttplug actuator names ("Vibrate", "Oscillate", "Rotate", "Constrict", "Inflate")
// are accepted as aliases.
func ParseMotorType(s string) (MotorType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vibration", "vibrate":
		return MotorVibration, nil
	case "oscillation", "oscillate":
		return MotorOscillation, nil
	case "rotation", "rotate":
		return MotorRotation, nil
	case "constriction", "constrict":
		return MotorConstrict, nil
	case "inflation", "inflate":
		return MotorInflate, nil
	default:
		return "", fmt.Errorf("unknown motor type: %q", s)
	}
}

// Motor describes one controllable actuation channel on a device.
// It is never mutated after construction.
type Motor struct {
	Type  MotorType
	Index int

	// Interval is the quantization step the device accepts (1 / step count).
	// Zero disables quantization.
	Interval float64
}

// Quantize rounds v to the nearest multiple of the motor interval and clamps it to [0, 1].
func (m Motor) Quantize(v float64) float64 {
	v = clamp01(v)
	if m.Interval <= 0 {
		return v
	}
	steps := v / m.Interval
	q := float64(int64(steps+0.5)) * m.Interval
	return clamp01(q)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
