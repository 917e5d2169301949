package remote

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Track is the recorded intensity timeline of one motor of one device brand.
type Track struct {
	Brand      string    `json:"brand" yaml:"brand"`
	MotorIndex int       `json:"motor_index" yaml:"motor_index"`
	MotorType  MotorType `json:"motor_type" yaml:"motor_type"`
	Samples    []float64 `json:"samples" yaml:"samples,flow"`
}

// Pattern is a fixed-length, multi-device, multi-motor intensity timeline sampled every
// TickInterval.
type Pattern struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Author      string  `json:"author,omitempty" yaml:"author,omitempty"`
	Loop        bool    `json:"loop" yaml:"loop"`
	Tracks      []Track `json:"tracks" yaml:"tracks"`
}

// NewPatternID returns a fresh random pattern identifier.
func NewPatternID() string { return uuid.NewString() }

// Length is the number of samples of the longest track.
func (p Pattern) Length() int {
	n := 0
	for _, t := range p.Tracks {
		n = max(n, len(t.Samples))
	}
	return n
}

// Duration is the playing time of the longest track.
func (p Pattern) Duration() time.Duration {
	return time.Duration(p.Length()) * TickInterval
}

// Brands returns the distinct device brands the pattern addresses, in track order.
func (p Pattern) Brands() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, t := range p.Tracks {
		if _, ok := seen[t.Brand]; ok {
			continue
		}
		seen[t.Brand] = struct{}{}
		out = append(out, t.Brand)
	}
	return out
}

// Validate checks identity and shape. Samples must lie within [0, 1].
func (p Pattern) Validate() error {
	if p.ID == "" {
		return errors.New("pattern id must not be empty")
	}
	if _, err := uuid.Parse(p.ID); err != nil {
		return fmt.Errorf("pattern id %q: %w", p.ID, err)
	}
	if len(p.Tracks) == 0 {
		return fmt.Errorf("pattern %s has no tracks", p.ID)
	}
	if p.Length() == 0 {
		return fmt.Errorf("pattern %s: %w", p.ID, ErrPatternTooShort)
	}
	for i, t := range p.Tracks {
		if t.Brand == "" {
			return fmt.Errorf("pattern %s track %d: brand must not be empty", p.ID, i)
		}
		if _, err := ParseMotorType(string(t.MotorType)); err != nil {
			return fmt.Errorf("pattern %s track %d: %w", p.ID, i, err)
		}
		for j, v := range t.Samples {
			if v < 0 || v > 1 {
				return fmt.Errorf("pattern %s track %d sample %d: %v outside [0, 1]", p.ID, i, j, v)
			}
		}
	}
	return nil
}

// TicksFor converts a duration to a sample count at TickInterval, rounding down.
func TicksFor(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d / TickInterval)
}

// SliceSamples returns src[start:start+count], zero-padded to exactly count samples.
func SliceSamples(src []float64, start, count int) []float64 {
	out := make([]float64, count)
	if start < 0 || start >= len(src) {
		return out
	}
	copy(out, src[start:])
	return out
}

// StreamSegment is a variable-length chunk of a peer's live intensity data for one motor.
type StreamSegment struct {
	Brand      string    `json:"brand" yaml:"brand"`
	MotorIndex int       `json:"motor_index" yaml:"motor_index"`
	MotorType  MotorType `json:"motor_type" yaml:"motor_type"`
	Samples    []float64 `json:"samples" yaml:"samples,flow"`
}

// StreamBatch is the transferable document a participant compiles for the network.
type StreamBatch struct {
	Owner    string          `json:"owner"`
	Segments []StreamSegment `json:"segments"`
}
