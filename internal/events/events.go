// Package events carries client state changes to UI subscribers.
package events

import "time"

type Type string

const (
	TypeSnapshot        Type = "snapshot"
	TypeMessage         Type = "message"
	TypeTyping          Type = "typing"
	TypeCaptureState    Type = "capture_state"
	TypePlaybackState   Type = "playback_state"
	TypeAdvisory        Type = "advisory"
	TypeAdvisoryCleared Type = "advisory_cleared"
	TypeLanguage        Type = "language"
	TypeAudioEnabled    Type = "audio_enabled"
	TypeSession         Type = "session"
	TypeError           Type = "error"
)

// Event is one JSON frame pushed to the UI. Only the fields relevant to Type are set.
type Event struct {
	Type     Type      `json:"type"`
	State    string    `json:"state,omitempty"`
	Text     string    `json:"text,omitempty"`
	Kind     string    `json:"kind,omitempty"`
	Enabled  *bool     `json:"enabled,omitempty"`
	Message  any       `json:"message,omitempty"`
	Advisory *Advisory `json:"advisory,omitempty"`
	Snapshot any       `json:"snapshot,omitempty"`
}

// EventCallback receives events as they happen.
type EventCallback func(Event)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Advisory kinds raised by the client.
const (
	KindCaptureTimeout = "capture_timeout"
	KindCaptureError   = "capture_error"
	KindOffline        = "offline"
)

// Advisory is a user-facing notice. Persistent advisories stay on the board
// until cleared; the rest are fire-and-forget toasts.
type Advisory struct {
	Kind       string    `json:"kind"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Severity   Severity  `json:"severity"`
	Persistent bool      `json:"persistent"`
	RaisedAt   time.Time `json:"raised_at"`
}

func BoolPtr(b bool) *bool { return &b }
