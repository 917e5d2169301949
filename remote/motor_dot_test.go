package remote

import (
	"errors"
	"testing"
)

func TestMotor_Quantize(t *testing.T) {
	m := Motor{Type: MotorVibration, Interval: 0.05}

	cases := []struct {
		in, want float64
	}{
		{0.51, 0.50},
		{0.53, 0.55},
		{-1, 0},
		{2, 1},
	}
	for _, tc := range cases {
		if got := m.Quantize(tc.in); !approx(got, tc.want) {
			t.Fatalf("Quantize(%v) got %v, want %v", tc.in, got, tc.want)
		}
	}

	raw := Motor{Type: MotorVibration}
	if got := raw.Quantize(0.123); got != 0.123 {
		t.Fatalf("Quantize without interval got %v, want 0.123", got)
	}
}

func TestParseMotorType_AcceptsButtplugNames(t *testing.T) {
	for in, want := range map[string]MotorType{
		"Vibrate":      MotorVibration,
		"rotation":     MotorRotation,
		" Oscillate ":  MotorOscillation,
		"constriction": MotorConstrict,
		"Inflate":      MotorInflate,
	} {
		got, err := ParseMotorType(in)
		if err != nil {
			t.Fatalf("ParseMotorType(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseMotorType(%q) got %q, want %q", in, got, want)
		}
	}
	if _, err := ParseMotorType("suction"); err == nil {
		t.Fatalf("expected error for unknown motor type")
	}
}

func TestMotorDot_TrySendLatest_Debounces(t *testing.T) {
	m := NewMotorDot(Motor{Type: MotorVibration, Interval: 0.05}, DefaultHistoryLimits())

	var sent []float64
	sink := func(v float64) { sent = append(sent, v) }

	m.SetPosition(0.51)
	if !m.TrySendLatest(sink) {
		t.Fatalf("first send should go through")
	}
	m.SetPosition(0.52) // quantizes to the same step
	if m.TrySendLatest(sink) {
		t.Fatalf("expected no send for an unchanged quantized value")
	}
	m.SetPosition(0.53)
	if !m.TrySendLatest(sink) {
		t.Fatalf("expected a send after crossing a step")
	}

	if !equalSamples(sent, []float64{0.5, 0.55}) {
		t.Fatalf("sent got %v, want [0.5 0.55]", sent)
	}
}

func TestMotorDot_HistoryTrimKeepsTail(t *testing.T) {
	m := NewMotorDot(Motor{Type: MotorVibration}, HistoryLimits{Capacity: 10, Tail: 4})

	for i := 1; i <= 11; i++ {
		m.SetPosition(float64(i) / 100)
		m.RecordPosition(true)
	}

	want := []float64{0.08, 0.09, 0.10, 0.11}
	if got := m.History(); !equalSamples(got, want) {
		t.Fatalf("history got %v, want %v", got, want)
	}
}

func TestMotorDot_DisabledRecordsZero(t *testing.T) {
	m := NewMotorDot(Motor{Type: MotorVibration}, DefaultHistoryLimits())
	m.SetPosition(0.8)

	m.RecordPosition(false)
	m.RecordPosition(true)

	if got := m.History(); !equalSamples(got, []float64{0, 0.8}) {
		t.Fatalf("history got %v, want [0 0.8]", got)
	}
}

func TestMotorDot_SetPositionSampledOnlyByRecord(t *testing.T) {
	m := NewMotorDot(Motor{Type: MotorVibration}, DefaultHistoryLimits())
	m.SetPosition(0.3)
	m.SetPosition(0.6)
	if n := m.HistoryLen(); n != 0 {
		t.Fatalf("history after drags got %d samples, want 0", n)
	}

	m.RecordPosition(true)
	if got := m.History(); !equalSamples(got, []float64{0.6}) {
		t.Fatalf("history got %v, want [0.6]", got)
	}
}

func TestMotorDot_EndDragResetsUnlessFloating(t *testing.T) {
	m := NewMotorDot(Motor{Type: MotorVibration}, DefaultHistoryLimits())
	m.SetPosition(0.4)
	m.EndDrag()
	if m.Position() != 0 {
		t.Fatalf("position after release got %v, want 0", m.Position())
	}

	m.SetFloating(true)
	m.SetPosition(0.4)
	m.EndDrag()
	if m.Position() != 0.4 {
		t.Fatalf("floating position after release got %v, want 0.4", m.Position())
	}
}

func TestMotorDot_LoopReplaysCapturedGesture(t *testing.T) {
	m := NewMotorDot(Motor{Type: MotorVibration}, DefaultHistoryLimits())
	m.SetLooping(true)

	for _, v := range []float64{0.2, 0.4, 0.6} {
		m.SetPosition(v)
		m.RecordPosition(true)
	}
	m.EndDrag()

	for i := 0; i < 4; i++ {
		m.RecordPosition(true)
	}

	want := []float64{0.2, 0.4, 0.6, 0.2, 0.4, 0.6, 0.2}
	if got := m.History(); !equalSamples(got, want) {
		t.Fatalf("history got %v, want %v", got, want)
	}

	m.SetLooping(false)
	if got := m.NextSendValue(); got != 0.6 {
		t.Fatalf("NextSendValue after disabling loop got %v, want the held position 0.6", got)
	}
}

func TestMotorDot_PlaybackValueOutOfRange(t *testing.T) {
	m := NewMotorDot(Motor{Type: MotorVibration}, DefaultHistoryLimits())
	m.Inject([]float64{0.1, 0.2}, CursorPattern)

	if v, err := m.PlaybackValue(1); err != nil || v != 0.2 {
		t.Fatalf("PlaybackValue(1) got (%v, %v), want (0.2, nil)", v, err)
	}
	if _, err := m.PlaybackValue(2); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("PlaybackValue(2) err got %v, want ErrIndexOutOfRange", err)
	}
}

func TestMotorDot_PlaybackBufferIsNotTrimmed(t *testing.T) {
	m := NewMotorDot(Motor{Type: MotorVibration}, HistoryLimits{Capacity: 4, Tail: 2})
	m.Inject([]float64{0.1, 0.2, 0.3, 0.4}, CursorStream)
	m.RecordPosition(true)

	if m.HistoryLen() != 5 {
		t.Fatalf("bound history len got %d, want 5", m.HistoryLen())
	}

	m.ReleaseCursor()
	m.RecordPosition(true)
	if m.HistoryLen() != 2 {
		t.Fatalf("released history len got %d, want 2", m.HistoryLen())
	}
}

func TestMotorDot_TakeSurvivesHistoryTrim(t *testing.T) {
	m := NewMotorDot(Motor{Type: MotorVibration}, HistoryLimits{Capacity: 3, Tail: 1})
	m.BeginTake()
	m.SetPosition(0.5)
	for i := 0; i < 5; i++ {
		m.RecordPosition(true)
	}

	take := m.EndTake()
	if len(take) != 5 {
		t.Fatalf("take len got %d, want 5", len(take))
	}
	if m.TakeLen() != 0 {
		t.Fatalf("take should be empty after EndTake, got %d", m.TakeLen())
	}
}
