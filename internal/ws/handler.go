// Package ws serves the UI websocket: it pushes client state and events to
// connected UIs and applies their commands.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/voice-concierge/internal/audio"
	"github.com/hubenschmidt/voice-concierge/internal/conversation"
	"github.com/hubenschmidt/voice-concierge/internal/events"
	"github.com/hubenschmidt/voice-concierge/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Controller is the conversation surface a UI may drive.
type Controller interface {
	Send(ctx context.Context, utterance string) (conversation.Message, error)
	StartListening(ctx context.Context) error
	StopListening()
	SetAudioEnabled(bool)
	SetLanguage(code string)
	ResetSession() string
	Snapshot() conversation.Snapshot
}

// Connectivity accepts platform online/offline signals.
type Connectivity interface {
	SetOnline(bool) bool
}

// MicSink receives microphone audio recorded by the UI.
type MicSink interface {
	Attach() MicSource
	SetPermission(granted bool)
}

// MicSource is one connection's feed into a MicSink. End and Detach only
// affect a stream this source is feeding.
type MicSource interface {
	Push(pcm []byte, rate int)
	End()
	Detach()
}

type HandlerConfig struct {
	Controller     Controller
	Hub            *events.Hub
	Connectivity   Connectivity
	Mic            MicSink // nil when audio comes from a local device
	MaxConnections int
}

// Handler manages UI websocket connections with admission control.
type Handler struct {
	cfg HandlerConfig
	sem chan struct{}
}

func NewHandler(cfg HandlerConfig) *Handler {
	limit := cfg.MaxConnections
	if limit <= 0 {
		limit = 8
	}
	return &Handler{cfg: cfg, sem: make(chan struct{}, limit)}
}

// command is one JSON text frame from the UI.
type command struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Language   string `json:"language,omitempty"`
	Enabled    *bool  `json:"enabled,omitempty"`
	Online     *bool  `json:"online,omitempty"`
	Permission *bool  `json:"permission,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// Command types.
const (
	CmdSend          = "send"
	CmdListen        = "listen"
	CmdStopListening = "stop_listening"
	CmdAudio         = "audio"
	CmdLanguage      = "language"
	CmdOnline        = "online"
	CmdResetSession  = "reset_session"
	CmdMic           = "mic"
	CmdMicEnd        = "mic_end"
)

// ServeHTTP upgrades the connection and runs it until the UI disconnects.
// Returns 503 when the connection limit is reached.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	metrics.UIConnections.Inc()
	defer metrics.UIConnections.Dec()

	h.runConnection(conn)
}

func (h *Handler) runConnection(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	send := newEventSender(conn)

	// subscribe before the snapshot so nothing between the two is lost
	sub := h.cfg.Hub.Subscribe()
	defer h.cfg.Hub.Unsubscribe(sub)

	snap := h.cfg.Controller.Snapshot()
	snap.Advisories = h.cfg.Hub.Advisories()
	send(events.Event{Type: events.TypeSnapshot, Snapshot: snap})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-sub:
				send(ev)
			}
		}
	}()

	c := &connection{h: h, ctx: ctx, send: send, rate: audio.SampleRate}
	if h.cfg.Mic != nil {
		c.mic = h.cfg.Mic.Attach()
		defer c.mic.Detach()
	}

	slog.Info("ui connected")
	c.readLoop(conn)
	slog.Info("ui disconnected")
}

type connection struct {
	h    *Handler
	ctx  context.Context
	send events.EventCallback
	rate int
	mic  MicSource // nil without a MicSink
}

func (c *connection) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if msgType == websocket.BinaryMessage {
			if c.mic != nil {
				c.mic.Push(data, c.rate)
			}
			continue
		}

		var cmd command
		if err = json.Unmarshal(data, &cmd); err != nil {
			c.fail("invalid command: " + err.Error())
			continue
		}
		c.apply(cmd)
	}
}

func (c *connection) apply(cmd command) {
	ctrl := c.h.cfg.Controller

	switch cmd.Type {
	case CmdSend:
		go func() {
			// the turn outlives the connection that asked for it
			if _, err := ctrl.Send(context.WithoutCancel(c.ctx), cmd.Text); err != nil {
				c.fail(err.Error())
			}
		}()
	case CmdListen:
		if err := ctrl.StartListening(c.ctx); err != nil {
			c.fail(err.Error())
		}
	case CmdStopListening:
		ctrl.StopListening()
	case CmdAudio:
		if cmd.Enabled != nil {
			ctrl.SetAudioEnabled(*cmd.Enabled)
		}
	case CmdLanguage:
		ctrl.SetLanguage(cmd.Language)
	case CmdOnline:
		if cmd.Online != nil && c.h.cfg.Connectivity != nil {
			c.h.cfg.Connectivity.SetOnline(*cmd.Online)
		}
	case CmdResetSession:
		ctrl.ResetSession()
	case CmdMic:
		if cmd.SampleRate > 0 {
			c.rate = cmd.SampleRate
		}
		if cmd.Permission != nil && c.h.cfg.Mic != nil {
			c.h.cfg.Mic.SetPermission(*cmd.Permission)
		}
	case CmdMicEnd:
		if c.mic != nil {
			c.mic.End()
		}
	default:
		c.fail("unknown command " + cmd.Type)
	}
}

// fail reports a command error to this connection only.
func (c *connection) fail(text string) {
	c.send(events.Event{Type: events.TypeError, Text: text})
}

func newEventSender(conn *websocket.Conn) events.EventCallback {
	var mu sync.Mutex
	return func(ev events.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("marshal event", "type", ev.Type, "error", err)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if err = conn.WriteMessage(websocket.TextMessage, data); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			slog.Debug("write event", "error", err)
		}
	}
}
