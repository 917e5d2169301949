package remote

import (
	"fmt"
	"time"
)

// Defaults for the client session buffers.
const (
	// DefaultMaxStreamSamples caps the buffered injected stream (one minute at 20 ms).
	DefaultMaxStreamSamples = 3000

	// DefaultMaxRecordingSamples caps one recording take (ten minutes at 20 ms).
	DefaultMaxRecordingSamples = 30000

	streamPatternID = "stream"
)

// ClientOptions configures a ClientPlottedDevices.
type ClientOptions struct {
	Options

	MaxStreamSamples    int
	MaxRecordingSamples int
}

// PlayOptions selects the slice of a pattern to play.
type PlayOptions struct {
	// StartOffset is where playback starts within the pattern.
	StartOffset time.Duration

	// Duration is how much to play. Zero plays to the end of the pattern. A duration past the
	// end of the data is padded with silence.
	Duration time.Duration

	Loop bool
}

// ClientPlottedDevices is the local control session: the owner (or a remote enactor acting on
// the owner's behalf) drives the devices live, plays patterns, receives injected streams, and
// records new patterns. Pattern playback, stream playback, and recording are mutually exclusive.
type ClientPlottedDevices struct {
	UserPlottedDevices

	maxStreamSamples    int
	maxRecordingSamples int

	recordingStartup bool
	recording        bool
	recordingName    string

	playbackEnactor string
}

// NewClientPlottedDevices creates an idle client session with Full access.
func NewClientPlottedDevices(owner Owner, opts ClientOptions) *ClientPlottedDevices {
	c := &ClientPlottedDevices{
		maxStreamSamples:    opts.MaxStreamSamples,
		maxRecordingSamples: opts.MaxRecordingSamples,
	}
	if c.maxStreamSamples <= 0 {
		c.maxStreamSamples = DefaultMaxStreamSamples
	}
	if c.maxRecordingSamples <= 0 {
		c.maxRecordingSamples = DefaultMaxRecordingSamples
	}
	c.init(owner, opts.Options, AccessFull, c)
	return c
}

// IsPlayingPattern reports whether the pattern cursor is active.
func (c *ClientPlottedDevices) IsPlayingPattern() bool { return c.cursors.Get(CursorPattern).Active() }

// IsStreaming reports whether the injected-stream cursor is active.
func (c *ClientPlottedDevices) IsStreaming() bool { return c.cursors.Get(CursorStream).Active() }

// IsRecording reports whether a take is being captured.
func (c *ClientPlottedDevices) IsRecording() bool { return c.recording }

// IsRecordingStartup reports whether the session is preparing to record.
func (c *ClientPlottedDevices) IsRecordingStartup() bool { return c.recordingStartup }

// ============================================================================
// Hooks
// ============================================================================

func (c *ClientPlottedDevices) onControlBegin(enactor string) {
	c.beginControl()
	switch {
	case c.IsPlayingPattern():
		c.beginPlayback(CursorPattern, c.playbackEnactor)
	case c.IsStreaming():
		c.beginPlayback(CursorStream, c.playbackEnactor)
	}
}

func (c *ClientPlottedDevices) onControlEnd(enactor string) {
	if c.recording {
		if _, err := c.StopRecording(); err != nil {
			c.logger.Warn("stop recording on power down failed", "error", err)
		}
	}
	c.recordingStartup = false
	if c.IsPlayingPattern() {
		c.endPattern(EndPoweredOff)
	}
	if c.IsStreaming() {
		c.endStream()
	}
	c.stopAll()
	c.setAccess(AccessFull)
	c.endControl()
}

func (c *ClientPlottedDevices) onUpdateTick() {
	switch {
	case c.recording:
		c.tickRecording()
	case c.IsPlayingPattern():
		c.tickPattern()
	case c.IsStreaming():
		c.tickStream()
	default:
		for _, d := range c.Devices() {
			d.RecordAndUpdatePosition()
		}
	}
}

// beginPlayback sets the access preset for the enactor and plays the first frame.
func (c *ClientPlottedDevices) beginPlayback(slot CursorSlot, enactor string) {
	if c.isSelf(enactor) {
		c.setAccess(AccessPlayback)
	} else {
		c.setAccess(AccessForcedPlayback)
	}
	ref := c.cursors.Get(slot)
	if slot == CursorPattern {
		c.notifier.Notify(PlaybackBegan{PatternID: ref.PatternID, Enactor: enactor})
	}
	c.playFrame()
}

func (c *ClientPlottedDevices) playFrame() {
	for _, d := range c.Devices() {
		d.PlaybackLatestPosition(c.cursors)
	}
}

func (c *ClientPlottedDevices) releaseSlot(slot CursorSlot) {
	for _, d := range c.Devices() {
		for _, m := range d.Motors() {
			if m.Slot() == slot {
				m.ReleaseCursor()
			}
		}
	}
}

// ============================================================================
// Pattern playback
// ============================================================================

func (c *ClientPlottedDevices) tickPattern() {
	ref := c.cursors.Get(CursorPattern)
	ref.Index++
	if ref.Index >= ref.Length {
		if !ref.Loop {
			c.endPattern(EndCompleted)
			return
		}
		ref.Index = 0
	}
	c.playFrame()
}

// endPattern stops pattern playback. The end notification fires exactly once per started
// pattern; peers get an explicit stop unless the reason already tells them.
func (c *ClientPlottedDevices) endPattern(reason EndReason) {
	ref := c.cursors.Get(CursorPattern)
	if !ref.Active() {
		return
	}
	id := ref.PatternID
	ref.Reset()
	c.releaseSlot(CursorPattern)
	c.playbackEnactor = ""
	if c.power {
		c.setAccess(AccessFull)
	}
	c.logger.Info("pattern playback ended", "pattern", id, "reason", reason.String())
	c.notifier.Notify(PlaybackEnded{PatternID: id, Reason: reason})
	if reason.publishesStop() {
		c.notifier.Notify(PlaybackStopPublished{PatternID: id})
	}
}

type patternPlan struct {
	device  *DeviceDot
	samples map[int][]float64 // motor index -> sliced samples
}

// planPattern matches pattern tracks to attached, remote-eligible devices and slices them.
// It performs no mutation.
func (c *ClientPlottedDevices) planPattern(p Pattern, start, count int) []patternPlan {
	var plans []patternPlan
	for _, d := range c.Devices() {
		if !d.RemoteEligible() {
			continue
		}
		plan := patternPlan{device: d, samples: make(map[int][]float64)}
		for _, t := range p.Tracks {
			if t.Brand != d.Key().Brand {
				continue
			}
			m, ok := d.Motor(t.MotorIndex)
			if !ok {
				c.logger.Debug("pattern track skipped: unknown motor", "pattern", p.ID, "device", d.Key().String(), "motor", t.MotorIndex)
				continue
			}
			mt, _ := ParseMotorType(string(t.MotorType))
			if m.Motor().Type != mt {
				c.logger.Debug("pattern track skipped: motor type mismatch", "pattern", p.ID, "device", d.Key().String(), "motor", t.MotorIndex, "want", string(m.Motor().Type), "got", string(mt))
				continue
			}
			plan.samples[t.MotorIndex] = SliceSamples(t.Samples, start, count)
		}
		if len(plan.samples) > 0 {
			plans = append(plans, plan)
		}
	}
	return plans
}

// SwitchPattern replaces whatever is playing with p. The request is validated first; a
// rejected switch leaves the session untouched. A running pattern ends with EndSwitched.
func (c *ClientPlottedDevices) SwitchPattern(p Pattern, opts PlayOptions, enactor string) error {
	if c.recording || c.recordingStartup {
		return fmt.Errorf("switch pattern %s: %w", p.ID, ErrModeConflict)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("switch pattern: %w", err)
	}

	start := TicksFor(opts.StartOffset)
	count := TicksFor(opts.Duration)
	if opts.Duration == 0 {
		count = p.Length() - start
	}
	if count <= 0 {
		return fmt.Errorf("switch pattern %s: %w", p.ID, ErrPatternTooShort)
	}

	plans := c.planPattern(p, start, count)
	if len(plans) == 0 {
		return fmt.Errorf("switch pattern %s (brands %v): %w", p.ID, p.Brands(), ErrNoEligibleDevices)
	}

	// Commit.
	c.endPattern(EndSwitched)
	if c.IsStreaming() {
		c.endStream()
	}
	for _, plan := range plans {
		for _, m := range plan.device.Motors() {
			samples, ok := plan.samples[m.Motor().Index]
			if !ok {
				samples = make([]float64, count)
			}
			m.Inject(samples, CursorPattern)
		}
		plan.device.SetEnabled(true)
	}
	c.cursors.Get(CursorPattern).Start(p.ID, count, opts.Loop)
	c.playbackEnactor = enactor
	c.logger.Info("pattern playback starting", "pattern", p.ID, "name", p.Name, "samples", count, "loop", opts.Loop, "enactor", enactor)

	if !c.power {
		c.TrySetPower(true, enactor)
		return nil
	}
	// Already powered: the power-on hook will not run, so begin playback directly.
	c.beginPlayback(CursorPattern, enactor)
	return nil
}

// StopPattern ends pattern playback on request. The local UI needs power-toggle access;
// the enactor that started the pattern may always stop it.
func (c *ClientPlottedDevices) StopPattern(enactor string) error {
	if !c.IsPlayingPattern() {
		return ErrNotPlaying
	}
	if enactor != c.playbackEnactor || c.playbackEnactor == "" {
		if err := c.guard(OpTogglePower); err != nil {
			return err
		}
	}
	c.endPattern(EndStopped)
	return nil
}

// ============================================================================
// Injected stream playback
// ============================================================================

func (c *ClientPlottedDevices) tickStream() {
	ref := c.cursors.Get(CursorStream)
	ref.Index++
	if ref.Index >= ref.Length {
		c.endStream()
		return
	}
	c.playFrame()
}

func (c *ClientPlottedDevices) endStream() {
	ref := c.cursors.Get(CursorStream)
	if !ref.Active() {
		return
	}
	ref.Reset()
	c.releaseSlot(CursorStream)
	c.playbackEnactor = ""
	if c.power {
		c.setAccess(AccessFull)
	}
	c.logger.Debug("stream playback caught up")
	c.notifier.Notify(StreamEnded{})
}

// InjectStream appends a batch of network segments to the stream buffers. Segments for unknown
// or ineligible devices/motors are skipped; if nothing in the batch is usable the session is
// left untouched. Every motor of an involved device is padded to the batch's longest segment so
// all buffers stay aligned with the shared cursor.
func (c *ClientPlottedDevices) InjectStream(segments []StreamSegment, enactor string) error {
	if c.recording || c.recordingStartup {
		return fmt.Errorf("inject stream: %w", ErrModeConflict)
	}

	batchLen := 0
	plan := make(map[DeviceKey]map[int][]float64)
	for _, seg := range segments {
		if len(seg.Samples) == 0 {
			continue
		}
		mt, err := ParseMotorType(string(seg.MotorType))
		if err != nil {
			c.logger.Debug("stream segment skipped", "brand", seg.Brand, "motor", seg.MotorIndex, "error", err)
			continue
		}
		matched := false
		for _, d := range c.Devices() {
			if d.Key().Brand != seg.Brand || !d.RemoteEligible() {
				continue
			}
			m, ok := d.Motor(seg.MotorIndex)
			if !ok || m.Motor().Type != mt {
				continue
			}
			if plan[d.Key()] == nil {
				plan[d.Key()] = make(map[int][]float64)
			}
			// Segments for the same motor within one batch play back to back.
			plan[d.Key()][seg.MotorIndex] = append(plan[d.Key()][seg.MotorIndex], seg.Samples...)
			matched = true
		}
		if !matched {
			c.logger.Debug("stream segment skipped: no matching device", "brand", seg.Brand, "motor", seg.MotorIndex)
		}
	}
	for _, motorSegs := range plan {
		for _, samples := range motorSegs {
			batchLen = max(batchLen, len(samples))
		}
	}
	if batchLen == 0 {
		return fmt.Errorf("inject stream: %w", ErrNoEligibleDevices)
	}

	// Commit.
	ref := c.cursors.Get(CursorStream)
	starting := !ref.Active()
	if starting && c.IsPlayingPattern() {
		c.endPattern(EndSwitched)
	}
	prevLen := 0
	if !starting {
		prevLen = ref.Length
	}

	for _, d := range c.Devices() {
		motorSegs, inBatch := plan[d.Key()]
		bound := false
		for _, m := range d.Motors() {
			if m.Slot() == CursorStream {
				bound = true
				break
			}
		}
		if !inBatch && !bound {
			continue
		}
		for _, m := range d.Motors() {
			padded := SliceSamples(motorSegs[m.Motor().Index], 0, batchLen)
			if m.Slot() == CursorStream && !starting {
				m.AppendPlayback(padded)
				continue
			}
			m.Inject(append(make([]float64, prevLen, prevLen+batchLen), padded...), CursorStream)
		}
		if inBatch {
			d.SetEnabled(true)
		}
	}

	if starting {
		ref.Start(streamPatternID, batchLen, false)
		c.playbackEnactor = enactor
		c.logger.Info("stream playback starting", "samples", batchLen, "enactor", enactor)
		c.notifier.Notify(StreamStarted{Enactor: enactor})
		if !c.power {
			c.TrySetPower(true, enactor)
		} else {
			c.beginPlayback(CursorStream, enactor)
		}
	} else {
		ref.Length += batchLen
	}
	c.enforceStreamCap()
	return nil
}

// enforceStreamCap drops the oldest buffered samples once the stream exceeds its cap.
// Already-played samples go first; unplayed ones are dropped only if that is not enough.
func (c *ClientPlottedDevices) enforceStreamCap() {
	ref := c.cursors.Get(CursorStream)
	excess := ref.Length - c.maxStreamSamples
	if !ref.Active() || excess <= 0 {
		return
	}
	if excess > ref.Index {
		c.logger.Warn("stream backlog over cap, dropping unplayed samples", "dropped", excess-ref.Index, "cap", c.maxStreamSamples)
	}
	for _, d := range c.Devices() {
		for _, m := range d.Motors() {
			if m.Slot() == CursorStream {
				m.TrimPlayback(excess)
			}
		}
	}
	ref.Length -= excess
	ref.Index = max(0, ref.Index-excess)
}

// ============================================================================
// Recording
// ============================================================================

// PrepareRecording enters the recording-startup phase, in which devices and motor functions
// can be configured before the take starts. Only the owner can record.
func (c *ClientPlottedDevices) PrepareRecording(enactor string) error {
	if !c.isSelf(enactor) {
		return fmt.Errorf("prepare recording by %q: %w", enactor, ErrAccessDenied)
	}
	if c.recording || c.recordingStartup || c.IsPlayingPattern() || c.IsStreaming() {
		return fmt.Errorf("prepare recording: %w", ErrModeConflict)
	}
	c.recordingStartup = true
	c.setAccess(AccessRecordingStartup)
	return nil
}

// CancelRecording leaves the recording-startup phase without recording.
func (c *ClientPlottedDevices) CancelRecording() error {
	if !c.recordingStartup {
		return ErrNotRecording
	}
	c.recordingStartup = false
	c.setAccess(AccessFull)
	return nil
}

// StartRecording begins a take named name, powering the session on if needed.
func (c *ClientPlottedDevices) StartRecording(name string) error {
	if !c.recordingStartup {
		return fmt.Errorf("start recording: %w", ErrModeConflict)
	}
	if len(c.devices) == 0 {
		return fmt.Errorf("start recording: %w", ErrPowerRejected)
	}
	c.recordingStartup = false
	c.recording = true
	c.recordingName = name
	for _, d := range c.Devices() {
		for _, m := range d.Motors() {
			m.BeginTake()
		}
	}
	c.setAccess(AccessRecording)
	c.logger.Info("recording started", "name", name)
	if !c.power {
		c.TrySetPower(true, c.owner.UID)
	}
	return nil
}

func (c *ClientPlottedDevices) tickRecording() {
	full := false
	for _, d := range c.Devices() {
		d.RecordAndUpdatePosition()
		for _, m := range d.Motors() {
			if m.TakeLen() >= c.maxRecordingSamples {
				full = true
			}
		}
	}
	if full {
		c.logger.Warn("recording reached maximum length", "samples", c.maxRecordingSamples)
		if _, err := c.StopRecording(); err != nil {
			c.logger.Warn("auto stop recording failed", "error", err)
		}
	}
}

// StopRecording ends the take, compiles it into a Pattern, and hands it to the save prompt.
func (c *ClientPlottedDevices) StopRecording() (Pattern, error) {
	if !c.recording {
		return Pattern{}, ErrNotRecording
	}
	p := Pattern{
		ID:     NewPatternID(),
		Name:   c.recordingName,
		Author: c.owner.Alias,
	}
	if p.Name == "" {
		p.Name = "Recording " + c.clock().Format("2006-01-02 15:04")
	}
	for _, d := range c.Devices() {
		for _, m := range d.Motors() {
			p.Tracks = append(p.Tracks, Track{
				Brand:      d.Key().Brand,
				MotorIndex: m.Motor().Index,
				MotorType:  m.Motor().Type,
				Samples:    m.EndTake(),
			})
		}
	}
	c.recording = false
	c.recordingStartup = false
	c.recordingName = ""
	c.setAccess(AccessFull)
	if p.Length() == 0 {
		c.logger.Info("recording stopped before any sample was taken; discarded")
		return Pattern{}, fmt.Errorf("stop recording: %w", ErrPatternTooShort)
	}
	c.logger.Info("recording stopped", "pattern", p.ID, "samples", p.Length())
	c.notifier.Notify(RecordingSaveRequested{Pattern: p})
	return p, nil
}
