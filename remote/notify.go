package remote

import "fmt"

// EndReason tells why pattern playback ended.
type EndReason int

const (
	EndCompleted EndReason = iota // reached the end of a non-looping pattern
	EndStopped                    // explicit stop request
	EndSwitched                   // replaced by another pattern or a stream
	EndPoweredOff                 // session power went idle
)

func (r EndReason) String() string {
	switch r {
	case EndCompleted:
		return "completed"
	case EndStopped:
		return "stopped"
	case EndSwitched:
		return "switched"
	case EndPoweredOff:
		return "powered_off"
	default:
		return fmt.Sprintf("EndReason(%d)", int(r))
	}
}

// publishesStop reports whether peers need an explicit stop notification. A switch or a
// power-off is already visible to them through its own message.
func (r EndReason) publishesStop() bool {
	return r == EndCompleted || r == EndStopped
}

// Notification is emitted by sessions at protocol transitions.
type Notification interface {
	notificationMarker()
}

// PowerChanged is emitted after every accepted power transition.
type PowerChanged struct {
	On      bool
	Enactor string
}

// AccessChanged is emitted when the session moves to another access preset.
type AccessChanged struct {
	Preset AccessPreset
}

// PlaybackBegan is emitted when a pattern starts driving the devices.
type PlaybackBegan struct {
	PatternID string
	Enactor   string
}

// PlaybackEnded is emitted exactly once per started pattern.
type PlaybackEnded struct {
	PatternID string
	Reason    EndReason
}

// PlaybackStopPublished asks the transport to tell peers the pattern stopped.
type PlaybackStopPublished struct {
	PatternID string
}

// StreamStarted is emitted on the first segment of an injected stream.
type StreamStarted struct {
	Enactor string
}

// StreamEnded is emitted when the stream cursor catches up with the buffered data.
type StreamEnded struct{}

// RecordingSaveRequested hands a freshly compiled recording to the save prompt.
type RecordingSaveRequested struct {
	Pattern Pattern
}

func (PowerChanged) notificationMarker()           {}
func (AccessChanged) notificationMarker()          {}
func (PlaybackBegan) notificationMarker()          {}
func (PlaybackEnded) notificationMarker()          {}
func (PlaybackStopPublished) notificationMarker()  {}
func (StreamStarted) notificationMarker()          {}
func (StreamEnded) notificationMarker()            {}
func (RecordingSaveRequested) notificationMarker() {}

// Notifier receives session notifications. Calls happen synchronously on the ticking
// goroutine and must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}
