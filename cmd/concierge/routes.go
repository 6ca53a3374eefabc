package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubenschmidt/voice-concierge/internal/conversation"
	"github.com/hubenschmidt/voice-concierge/internal/events"
	"github.com/hubenschmidt/voice-concierge/internal/trace"
)

// defaultConversationLimit is how many stored conversations are returned
// when the caller omits ?limit=.
const defaultConversationLimit = 20

// Orchestrator is the conversation surface the HTTP API reads and drives.
type Orchestrator interface {
	Send(ctx context.Context, utterance string) (conversation.Message, error)
	Messages() []conversation.Message
	Analytics() conversation.Analytics
	SessionID() string
}

type history interface {
	ListConversations(ctx context.Context, limit, offset int) ([]trace.Conversation, int, error)
	ConversationMessages(ctx context.Context, id string) ([]trace.MessageRecord, error)
}

type deps struct {
	orch      Orchestrator
	hub       *events.Hub
	online    func() bool
	asr       []string
	wsHandler http.Handler
	history   history
}

func (a *app) deps() deps {
	d := deps{
		orch:      a.orch,
		hub:       a.hub,
		online:    a.monitor.Online,
		asr:       a.asr.Engines(),
		wsHandler: a.ui,
	}
	if a.store != nil {
		d.history = a.store
	}
	return d
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.Handle("/ws/ui", d.wsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", d.handleHealth)
	mux.HandleFunc("GET /api/messages", d.handleMessages)
	mux.HandleFunc("POST /api/messages", d.handleSend)
	mux.HandleFunc("GET /api/analytics", d.handleAnalytics)
	mux.HandleFunc("GET /api/events/stream", d.handleEventStream)
	mux.HandleFunc("GET /api/conversations", d.handleConversations)
	mux.HandleFunc("GET /api/conversations/{id}/messages", d.handleConversationMessages)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}

func (d deps) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"online":      d.online(),
		"session_id":  d.orch.SessionID(),
		"asr_engines": d.asr,
	})
}

func (d deps) handleMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": d.orch.SessionID(),
		"messages":   d.orch.Messages(),
	})
}

// handleSend runs a typed turn and answers with the assistant reply. A
// service failure still yields 200 with the apology message.
func (d deps) handleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	reply, err := d.orch.Send(r.Context(), req.Text)
	switch {
	case errors.Is(err, conversation.ErrEmptyUtterance):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, conversation.ErrTurnInFlight):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (d deps) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.orch.Analytics())
}

// handleEventStream mirrors the UI event feed as server-sent events for
// clients that cannot hold a websocket.
func (d deps) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := d.hub.Subscribe()
	defer d.hub.Unsubscribe(ch)

	for _, a := range d.hub.Advisories() {
		writeSSE(w, events.Event{Type: events.TypeAdvisory, Kind: a.Kind, Advisory: &a})
	}
	flusher.Flush()

	slog.Info("event stream client connected", "remote", r.RemoteAddr)
	for {
		select {
		case <-r.Context().Done():
			slog.Info("event stream client disconnected", "remote", r.RemoteAddr)
			return
		case ev := <-ch:
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func (d deps) handleConversations(w http.ResponseWriter, r *http.Request) {
	if d.history == nil {
		http.Error(w, "persistence disabled", http.StatusNotFound)
		return
	}
	limit := queryInt(r, "limit", defaultConversationLimit)
	offset := queryInt(r, "offset", 0)
	convs, total, err := d.history.ListConversations(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs, "total": total})
}

func (d deps) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	if d.history == nil {
		http.Error(w, "persistence disabled", http.StatusNotFound)
		return
	}
	msgs, err := d.history.ConversationMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": r.PathValue("id"), "messages": msgs})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
