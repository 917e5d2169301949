package remote

import (
	"errors"
	"fmt"
)

// Default rolling history window: once Capacity samples are exceeded the buffer is
// cut back to its most recent Tail samples.
const (
	DefaultHistoryCapacity = 1000
	DefaultHistoryTail     = 200
)

// ErrIndexOutOfRange is returned when a playback index does not address a recorded sample.
var ErrIndexOutOfRange = errors.New("playback index out of range")

// HistoryLimits bounds the rolling history kept by each MotorDot.
type HistoryLimits struct {
	Capacity int
	Tail     int
}

// DefaultHistoryLimits returns the 1000/200 window.
func DefaultHistoryLimits() HistoryLimits {
	return HistoryLimits{Capacity: DefaultHistoryCapacity, Tail: DefaultHistoryTail}
}

func (l HistoryLimits) normalized() HistoryLimits {
	if l.Capacity <= 0 {
		l.Capacity = DefaultHistoryCapacity
	}
	if l.Tail <= 0 || l.Tail > l.Capacity {
		l.Tail = min(DefaultHistoryTail, l.Capacity)
	}
	return l
}

// MotorDot is the mutable per-motor state: the authored position, the rolling intensity
// history, loop authoring, and which session cursor (if any) drives playback.
type MotorDot struct {
	motor  Motor
	limits HistoryLimits

	position float64
	history  []float64

	// Loop authoring: while dragging with looping on, samples go to loopCache;
	// once released, the cache is replayed from loopCursor.
	loopCache  []float64
	loopCursor int

	dragging  bool
	looping   bool
	floating  bool
	visible   bool
	clockwise bool

	// Debounce state for TrySendLatest.
	lastSent float64
	sentOnce bool

	// Recording take, independent of the rolling history so trims never lose a take.
	taking bool
	take   []float64

	slot CursorSlot
}

// NewMotorDot creates the state tracker for one motor.
func NewMotorDot(m Motor, limits HistoryLimits) *MotorDot {
	return &MotorDot{
		motor:     m,
		limits:    limits.normalized(),
		visible:   true,
		clockwise: true,
	}
}

func (m *MotorDot) Motor() Motor       { return m.motor }
func (m *MotorDot) Position() float64  { return m.position }
func (m *MotorDot) Dragging() bool     { return m.dragging }
func (m *MotorDot) Looping() bool      { return m.looping }
func (m *MotorDot) Floating() bool     { return m.floating }
func (m *MotorDot) Visible() bool      { return m.visible }
func (m *MotorDot) Clockwise() bool    { return m.clockwise }
func (m *MotorDot) Slot() CursorSlot   { return m.slot }
func (m *MotorDot) HistoryLen() int    { return len(m.history) }
func (m *MotorDot) SetVisible(v bool)  { m.visible = v }
func (m *MotorDot) SetFloating(v bool) { m.floating = v }

// SetClockwise sets the rotation direction used for rotation motors.
func (m *MotorDot) SetClockwise(v bool) { m.clockwise = v }

// SetLooping toggles loop authoring. Turning it off discards any cached loop.
func (m *MotorDot) SetLooping(v bool) {
	m.looping = v
	if !v {
		m.loopCache = nil
		m.loopCursor = 0
	}
}

// History returns a copy of the recorded samples, oldest first.
func (m *MotorDot) History() []float64 {
	out := make([]float64, len(m.history))
	copy(out, m.history)
	return out
}

// SetPosition updates the authored position. The first call of a gesture begins a drag,
// which resets the loop cache when looping is enabled. The new value is sampled into the
// history by the next RecordPosition so every motor of a device stays on the same timeline.
func (m *MotorDot) SetPosition(pos float64) {
	m.position = clamp01(pos)
	if m.dragging {
		return
	}
	m.dragging = true
	if m.looping {
		m.loopCache = m.loopCache[:0]
		m.loopCursor = 0
	}
}

// Mirror sets the position from a remote source without starting a drag.
func (m *MotorDot) Mirror(pos float64) { m.position = clamp01(pos) }

// EndDrag finishes a gesture. A captured loop starts replaying; otherwise a motor that is not
// floating falls back to zero.
func (m *MotorDot) EndDrag() {
	if !m.dragging {
		return
	}
	m.dragging = false
	if m.loopPlaying() {
		// RecordPosition advances before reading, so the first replayed sample is index 0.
		m.loopCursor = len(m.loopCache) - 1
		return
	}
	if !m.floating {
		m.position = 0
	}
}

func (m *MotorDot) loopPlaying() bool {
	return m.looping && !m.dragging && len(m.loopCache) > 0
}

// NextSendValue is the value the motor wants to output right now.
func (m *MotorDot) NextSendValue() float64 {
	if m.loopPlaying() {
		return m.loopCache[m.loopCursor]
	}
	return m.position
}

// RecordPosition appends one sample to the history: 0 when disabled, else the current
// output value. Disabled motors still advance so multi-motor timelines stay aligned.
func (m *MotorDot) RecordPosition(enabled bool) {
	if m.loopPlaying() {
		m.loopCursor = (m.loopCursor + 1) % len(m.loopCache)
	}

	v := 0.0
	if enabled {
		v = m.NextSendValue()
	}
	m.appendHistory(v)

	if m.taking {
		m.take = append(m.take, v)
	}
	if m.dragging && m.looping {
		m.loopCache = append(m.loopCache, m.position)
	}
}

func (m *MotorDot) appendHistory(v float64) {
	m.history = append(m.history, v)
	if m.slot != CursorNone || len(m.history) <= m.limits.Capacity {
		return
	}
	tail := make([]float64, m.limits.Tail, m.limits.Capacity+1)
	copy(tail, m.history[len(m.history)-m.limits.Tail:])
	m.history = tail
}

// TrySendLatest quantizes NextSendValue to the motor interval and calls sink only when the
// quantized value differs from the last one sent. It reports whether sink was called.
func (m *MotorDot) TrySendLatest(sink func(float64)) bool {
	return m.sendQuantized(m.NextSendValue(), sink)
}

func (m *MotorDot) sendQuantized(v float64, sink func(float64)) bool {
	q := m.motor.Quantize(v)
	if m.sentOnce && q == m.lastSent {
		return false
	}
	m.lastSent = q
	m.sentOnce = true
	if sink != nil {
		sink(q)
	}
	return true
}

// markStopped records that the device was told to stop, so the next non-zero value is sent.
func (m *MotorDot) markStopped() {
	m.lastSent = 0
	m.sentOnce = true
}

// PlaybackValue reads the recorded sample at idx.
func (m *MotorDot) PlaybackValue(idx int) (float64, error) {
	if idx < 0 || idx >= len(m.history) {
		return 0, fmt.Errorf("motor %d index %d (len %d): %w", m.motor.Index, idx, len(m.history), ErrIndexOutOfRange)
	}
	return m.history[idx], nil
}

// Inject replaces the history with samples and binds the motor to a playback cursor.
func (m *MotorDot) Inject(samples []float64, slot CursorSlot) {
	m.history = append(make([]float64, 0, len(samples)), samples...)
	m.slot = slot
	m.dragging = false
}

// AppendPlayback grows the playback buffer (stream segments).
func (m *MotorDot) AppendPlayback(samples []float64) {
	m.history = append(m.history, samples...)
}

// TrimPlayback drops the n oldest samples of the playback buffer.
func (m *MotorDot) TrimPlayback(n int) {
	if n <= 0 {
		return
	}
	if n >= len(m.history) {
		m.history = m.history[:0]
		return
	}
	m.history = append(make([]float64, 0, len(m.history)-n), m.history[n:]...)
}

// ReleaseCursor unbinds the motor from any playback cursor. The history is kept for display
// and becomes a rolling buffer again.
func (m *MotorDot) ReleaseCursor() {
	m.slot = CursorNone
}

// BeginTake starts capturing every recorded sample into a take buffer.
func (m *MotorDot) BeginTake() {
	m.taking = true
	m.take = m.take[:0]
}

// EndTake stops capturing and returns a copy of the take.
func (m *MotorDot) EndTake() []float64 {
	m.taking = false
	out := make([]float64, len(m.take))
	copy(out, m.take)
	m.take = m.take[:0]
	return out
}

// TakeLen is the number of samples captured in the current take.
func (m *MotorDot) TakeLen() int { return len(m.take) }

// ClearBuffers drops history, loop cache, take, and cursor binding.
func (m *MotorDot) ClearBuffers() {
	m.history = nil
	m.loopCache = nil
	m.loopCursor = 0
	m.take = nil
	m.taking = false
	m.dragging = false
	m.slot = CursorNone
}
