// Package conversation runs conversational turns: it owns the message log,
// admits one request at a time, and coordinates capture and playback around
// each turn.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hubenschmidt/voice-concierge/internal/capture"
	"github.com/hubenschmidt/voice-concierge/internal/events"
	"github.com/hubenschmidt/voice-concierge/internal/metrics"
	"github.com/hubenschmidt/voice-concierge/internal/playback"
)

const (
	emptyReplyText = "Sorry, I couldn't generate a response."
	failureText    = "Sorry, I encountered an error. Please try again."
)

var (
	ErrTurnInFlight   = errors.New("conversation: a turn is already in flight")
	ErrEmptyUtterance = errors.New("conversation: empty utterance")
)

// Capture is the subset of capture.Session the orchestrator drives.
type Capture interface {
	Start(ctx context.Context, languageCode string) error
	Stop()
	State() capture.State
}

// Player is the subset of playback.Session the orchestrator drives.
type Player interface {
	Play(locator string)
	Stop()
	SetEnabled(bool)
	Enabled() bool
	State() playback.State
}

type Backend interface {
	Converse(ctx context.Context, transcript, sessionID string) (*Response, error)
	AudioLocator(r *Response, sessionID, messageID string) string
}

// Turn is one request/response exchange, recorded for tracing.
type Turn struct {
	ID         string
	SessionID  string
	Transcript string
	Response   string
	Status     string
	StartedAt  time.Time
	Duration   time.Duration
}

// Recorder persists the conversation. Implementations must not block.
type Recorder interface {
	RecordMessage(sessionID string, m Message)
	RecordTurn(t Turn)
}

type Config struct {
	Backend        Backend
	Capture        Capture
	Playback       Player
	Recorder       Recorder
	Notify         events.EventCallback
	Language       string
	Greeting       string
	RequestTimeout time.Duration
}

type Orchestrator struct {
	backend  Backend
	capture  Capture
	playback Player
	recorder Recorder
	notify   events.EventCallback
	greeting string
	timeout  time.Duration

	mu        sync.Mutex
	messages  []Message
	inFlight  bool
	typing    bool
	language  string
	sessionID string
	started   time.Time
}

func New(cfg Config) *Orchestrator {
	lang := cfg.Language
	if lang == "" {
		lang = "en"
	}
	o := &Orchestrator{
		backend:  cfg.Backend,
		capture:  cfg.Capture,
		playback: cfg.Playback,
		recorder: cfg.Recorder,
		notify:   cfg.Notify,
		greeting: cfg.Greeting,
		timeout:  cfg.RequestTimeout,
		language: lang,
	}
	o.resetLocked()
	return o
}

// Send runs one turn for utterance and blocks until it completes. The
// returned message is the assistant reply, which is a synthetic apology when
// the service fails. An error is returned only when the turn is not admitted.
func (o *Orchestrator) Send(ctx context.Context, utterance string) (Message, error) {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return Message{}, ErrEmptyUtterance
	}

	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		metrics.SendRejected.Inc()
		return Message{}, ErrTurnInFlight
	}
	o.inFlight = true
	o.typing = true
	sid := o.sessionID
	user := newMessage(RoleUser, text)
	user.Language = o.language
	o.messages = append(o.messages, user)
	o.mu.Unlock()

	o.emitMessage(user)
	o.emitTyping(true)
	o.record(sid, user)

	// the previous turn's audio must be gone before the new request goes out
	o.playback.Stop()

	turn := Turn{ID: uuid.NewString(), SessionID: sid, Transcript: text, StartedAt: time.Now().UTC()}
	reqCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	resp, err := o.backend.Converse(reqCtx, text, sid)
	turn.Duration = time.Since(turn.StartedAt)

	reply := o.replyFor(resp, err, sid)
	turn.Response = reply.Text
	turn.Status = outcomeOf(err)
	metrics.ConversationTurns.WithLabelValues(turn.Status).Inc()
	if err != nil {
		slog.Warn("conversation turn failed", "session_id", sid, "status", turn.Status, "error", err)
	} else {
		slog.Info("conversation turn", "session_id", sid, "ms", turn.Duration.Milliseconds(), "audio", reply.AudioRef != "")
	}

	o.mu.Lock()
	current := o.sessionID == sid
	if current {
		o.messages = append(o.messages, reply)
	}
	o.typing = false
	o.mu.Unlock()

	if current {
		o.emitMessage(reply)
	}
	o.emitTyping(false)
	o.record(sid, reply)
	if o.recorder != nil {
		o.recorder.RecordTurn(turn)
	}

	if current && reply.AudioRef != "" && o.playback.Enabled() {
		o.playback.Play(reply.AudioRef)
	}

	o.mu.Lock()
	o.inFlight = false
	o.mu.Unlock()
	return reply, nil
}

func (o *Orchestrator) replyFor(resp *Response, err error, sid string) Message {
	if err != nil {
		m := newMessage(RoleAssistant, failureText)
		m.Sentiment = SentimentNegative
		return m
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		text = emptyReplyText
	}
	m := newMessage(RoleAssistant, text)
	m.Sentiment = SentimentPositive
	m.Products = resp.Items()
	m.AudioRef = o.backend.AudioLocator(resp, sid, m.ID)
	return m
}

func outcomeOf(err error) string {
	var se *ServerError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &se):
		return "server"
	}
	return "network"
}

// SetLanguage changes the language used by the next StartListening. An
// active capture keeps its language.
func (o *Orchestrator) SetLanguage(code string) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return
	}
	o.mu.Lock()
	o.language = code
	o.mu.Unlock()
	o.emit(events.Event{Type: events.TypeLanguage, Text: code})
}

func (o *Orchestrator) Language() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.language
}

// StartListening opens a capture session in the current language.
func (o *Orchestrator) StartListening(ctx context.Context) error {
	if err := o.capture.Start(ctx, o.Language()); err != nil {
		return fmt.Errorf("start listening: %w", err)
	}
	return nil
}

func (o *Orchestrator) StopListening() { o.capture.Stop() }

// HandleTranscript is the capture result hook: a recognized utterance is
// sent exactly like typed text.
func (o *Orchestrator) HandleTranscript(transcript string) {
	go func() {
		if _, err := o.Send(context.Background(), transcript); err != nil {
			slog.Warn("voice turn not sent", "error", err)
		}
	}()
}

func (o *Orchestrator) SetAudioEnabled(enabled bool) {
	o.playback.SetEnabled(enabled)
	o.emit(events.Event{Type: events.TypeAudioEnabled, Enabled: events.BoolPtr(enabled)})
}

// ResetSession starts a new correlation id and an empty log. A turn still in
// flight completes against the old id and its reply is dropped.
func (o *Orchestrator) ResetSession() string {
	o.playback.Stop()
	o.mu.Lock()
	o.resetLocked()
	sid := o.sessionID
	greeting := o.messages
	o.mu.Unlock()

	slog.Info("conversation reset", "session_id", sid)
	o.emit(events.Event{Type: events.TypeSession, Text: sid})
	for _, m := range greeting {
		o.emitMessage(m)
		o.record(sid, m)
	}
	return sid
}

func (o *Orchestrator) resetLocked() {
	o.sessionID = newSessionID()
	o.started = time.Now().UTC()
	o.messages = nil
	if o.greeting != "" {
		g := newMessage(RoleAssistant, o.greeting)
		g.Sentiment = SentimentPositive
		o.messages = append(o.messages, g)
	}
}

func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// Messages returns a copy of the log in creation order.
func (o *Orchestrator) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.messages...)
}

func (o *Orchestrator) Typing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.typing
}

func (o *Orchestrator) InFlight() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight
}

func (o *Orchestrator) Analytics() Analytics {
	o.mu.Lock()
	defer o.mu.Unlock()
	return summarize(o.sessionID, o.started, o.messages)
}

// Snapshot is the full client state sent to a newly connected UI.
type Snapshot struct {
	SessionID     string            `json:"session_id"`
	Language      string            `json:"language"`
	Typing        bool              `json:"typing"`
	AudioEnabled  bool              `json:"audio_enabled"`
	CaptureState  capture.State     `json:"capture_state"`
	PlaybackState playback.State    `json:"playback_state"`
	Messages      []Message         `json:"messages"`
	Advisories    []events.Advisory `json:"advisories"`
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	s := Snapshot{
		SessionID: o.sessionID,
		Language:  o.language,
		Typing:    o.typing,
		Messages:  append([]Message(nil), o.messages...),
	}
	o.mu.Unlock()
	s.AudioEnabled = o.playback.Enabled()
	s.CaptureState = o.capture.State()
	s.PlaybackState = o.playback.State()
	return s
}

func (o *Orchestrator) record(sid string, m Message) {
	if o.recorder != nil {
		o.recorder.RecordMessage(sid, m)
	}
}

func (o *Orchestrator) emit(ev events.Event) {
	if o.notify != nil {
		o.notify(ev)
	}
}

func (o *Orchestrator) emitMessage(m Message) {
	o.emit(events.Event{Type: events.TypeMessage, Message: m})
}

func (o *Orchestrator) emitTyping(on bool) {
	o.emit(events.Event{Type: events.TypeTyping, Enabled: events.BoolPtr(on)})
}

func newMessage(role Role, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

func newSessionID() string {
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:9])
}

