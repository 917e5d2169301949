package remote

import "fmt"

// ParticipantPlottedDevices previews a peer's devices in a vibe room. It only mirrors the
// peer's live values and records them every tick so the activity can be displayed and
// forwarded; it never plays patterns or records takes.
type ParticipantPlottedDevices struct {
	UserPlottedDevices
}

// NewParticipantPlottedDevices creates an idle participant session with Previewing access.
func NewParticipantPlottedDevices(owner Owner, opts Options) *ParticipantPlottedDevices {
	p := &ParticipantPlottedDevices{}
	p.init(owner, opts, AccessPreviewing, p)
	return p
}

func (p *ParticipantPlottedDevices) onControlBegin(string) { p.beginControl() }

func (p *ParticipantPlottedDevices) onControlEnd(string) {
	p.stopAll()
	p.endControl()
}

func (p *ParticipantPlottedDevices) onUpdateTick() {
	for _, d := range p.Devices() {
		d.RecordAndUpdatePosition()
	}
}

// ApplyRemotePositions mirrors the latest value of each segment onto the matching motor.
// Segments naming an unknown device or motor, or a motor of another type, are skipped.
// The number of applied segments is returned.
func (p *ParticipantPlottedDevices) ApplyRemotePositions(segments []StreamSegment) int {
	applied := 0
	for _, seg := range segments {
		if len(seg.Samples) == 0 {
			continue
		}
		mt, err := ParseMotorType(string(seg.MotorType))
		if err != nil {
			p.logger.Debug("remote segment skipped", "brand", seg.Brand, "motor", seg.MotorIndex, "error", err)
			continue
		}
		v := seg.Samples[len(seg.Samples)-1]
		for _, d := range p.Devices() {
			if d.Key().Brand != seg.Brand {
				continue
			}
			m, ok := d.Motor(seg.MotorIndex)
			if !ok || m.Motor().Type != mt {
				continue
			}
			m.Mirror(v)
			applied++
		}
	}
	return applied
}

// CompileForNetwork serializes the current history of every motor into a StreamBatch.
// It does not consume the history.
func (p *ParticipantPlottedDevices) CompileForNetwork() (StreamBatch, error) {
	if len(p.devices) == 0 {
		return StreamBatch{}, fmt.Errorf("compile for network: %w", ErrNoEligibleDevices)
	}
	batch := StreamBatch{Owner: p.owner.UID}
	for _, d := range p.Devices() {
		for _, m := range d.Motors() {
			batch.Segments = append(batch.Segments, StreamSegment{
				Brand:      d.Key().Brand,
				MotorIndex: m.Motor().Index,
				MotorType:  m.Motor().Type,
				Samples:    m.History(),
			})
		}
	}
	return batch, nil
}
