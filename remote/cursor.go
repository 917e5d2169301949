package remote

import "fmt"

// PlaybackRef is a playback cursor shared by every motor driven by the same pattern or stream.
// Index is -1 while inactive.
type PlaybackRef struct {
	PatternID string
	Index     int
	Length    int
	Loop      bool
}

// Active reports whether the cursor currently points into its buffers.
func (r *PlaybackRef) Active() bool { return r.Index != -1 }

// Start moves the cursor to the beginning of a buffer of the given length.
func (r *PlaybackRef) Start(patternID string, length int, loop bool) {
	r.PatternID = patternID
	r.Index = 0
	r.Length = length
	r.Loop = loop
}

// Reset deactivates the cursor.
func (r *PlaybackRef) Reset() {
	r.PatternID = ""
	r.Index = -1
	r.Length = 0
	r.Loop = false
}

func (r PlaybackRef) String() string {
	return fmt.Sprintf("PlaybackRef(id=%q index=%d length=%d loop=%v)", r.PatternID, r.Index, r.Length, r.Loop)
}

// CursorSlot names an entry of a session's CursorTable.
// Motors reference a slot, never a cursor directly.
type CursorSlot int

const (
	CursorNone CursorSlot = iota
	CursorPattern
	CursorStream

	numCursorSlots
)

func (s CursorSlot) String() string {
	switch s {
	case CursorNone:
		return "none"
	case CursorPattern:
		return "pattern"
	case CursorStream:
		return "stream"
	default:
		return fmt.Sprintf("CursorSlot(%d)", int(s))
	}
}

// CursorTable is the session-owned set of playback cursors.
type CursorTable struct {
	slots [numCursorSlots]PlaybackRef
}

// NewCursorTable returns a table with every cursor inactive.
func NewCursorTable() *CursorTable {
	t := &CursorTable{}
	for i := range t.slots {
		t.slots[i].Reset()
	}
	return t
}

// Get resolves a slot. CursorNone and unknown slots resolve to nil.
func (t *CursorTable) Get(slot CursorSlot) *PlaybackRef {
	if t == nil || slot <= CursorNone || slot >= numCursorSlots {
		return nil
	}
	return &t.slots[slot]
}
