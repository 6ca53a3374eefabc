package playback

import "errors"

var (
	ErrLoad = errors.New("playback: load failed")
	ErrPlay = errors.New("playback: play failed")
)

type EventKind string

const (
	EventLoadStart EventKind = "load_start"
	EventReady     EventKind = "ready"
	EventPlaying   EventKind = "playing"
	EventEnded     EventKind = "ended"
	EventAbort     EventKind = "abort"
	EventError     EventKind = "error"
)

// Event is a lifecycle notification from a Stream. Err is set for EventError
// and wraps ErrLoad or ErrPlay.
type Event struct {
	Kind EventKind
	Err  error
}

// Listener receives a stream's events, possibly from another goroutine.
type Listener func(Event)

// Stream is one loaded audio resource.
type Stream interface {
	// Load begins fetching the resource and returns immediately. Progress is
	// reported as EventLoadStart followed by EventReady or EventError.
	Load()
	// Play starts output of a ready stream. Completion is reported as
	// EventEnded, EventAbort, or EventError.
	Play() error
	// Stop pauses, rewinds, and releases the stream. Idempotent.
	Stop()
}

// AudioOutput is the platform audio capability.
type AudioOutput interface {
	NewStream(locator string, l Listener) (Stream, error)
}
