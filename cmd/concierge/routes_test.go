package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/voice-concierge/internal/audio"
	"github.com/hubenschmidt/voice-concierge/internal/capture"
	"github.com/hubenschmidt/voice-concierge/internal/conversation"
	"github.com/hubenschmidt/voice-concierge/internal/events"
	"github.com/hubenschmidt/voice-concierge/internal/speech"
	"github.com/hubenschmidt/voice-concierge/internal/trace"
)

type stubOrchestrator struct {
	mu      sync.Mutex
	sendErr error
	sent    []string
}

func (s *stubOrchestrator) Send(_ context.Context, text string) (conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return conversation.Message{}, s.sendErr
	}
	s.sent = append(s.sent, text)
	return conversation.Message{ID: "r1", Role: conversation.RoleAssistant, Text: "reply"}, nil
}

func (s *stubOrchestrator) Messages() []conversation.Message {
	return []conversation.Message{{ID: "g", Role: conversation.RoleAssistant, Text: "Hello"}}
}

func (s *stubOrchestrator) Analytics() conversation.Analytics {
	return conversation.Analytics{SessionID: "session_1", Total: 1}
}

func (s *stubOrchestrator) SessionID() string { return "session_1" }

type stubHistory struct{}

func (stubHistory) ListConversations(_ context.Context, limit, offset int) ([]trace.Conversation, int, error) {
	return []trace.Conversation{{ID: "session_1", MessageCount: limit, TurnCount: offset}}, 1, nil
}

func (stubHistory) ConversationMessages(_ context.Context, id string) ([]trace.MessageRecord, error) {
	return []trace.MessageRecord{{ID: "m1", ConversationID: id, Text: "hi"}}, nil
}

func newTestMux(orch Orchestrator, h history) (*http.ServeMux, *events.Hub) {
	hub := events.NewHub()
	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		orch:      orch,
		hub:       hub,
		online:    func() bool { return true },
		asr:       []string{"whisper-server"},
		wsHandler: http.NotFoundHandler(),
		history:   h,
	})
	return mux, hub
}

func do(t *testing.T, mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	mux, _ := newTestMux(&stubOrchestrator{}, nil)
	rec := do(t, mux, "GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["online"])
	assert.Equal(t, "session_1", body["session_id"])
}

func TestMessagesAndAnalytics(t *testing.T) {
	mux, _ := newTestMux(&stubOrchestrator{}, nil)

	rec := do(t, mux, "GET", "/api/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Hello"`)

	rec = do(t, mux, "GET", "/api/analytics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_messages":1`)
}

func TestSendStatusCodes(t *testing.T) {
	orch := &stubOrchestrator{}
	mux, _ := newTestMux(orch, nil)

	rec := do(t, mux, "POST", "/api/messages", `{"text":"shoes"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reply"`)

	assert.Equal(t, http.StatusBadRequest, do(t, mux, "POST", "/api/messages", `nope`).Code)

	orch.sendErr = conversation.ErrEmptyUtterance
	assert.Equal(t, http.StatusBadRequest, do(t, mux, "POST", "/api/messages", `{"text":""}`).Code)

	orch.sendErr = conversation.ErrTurnInFlight
	assert.Equal(t, http.StatusConflict, do(t, mux, "POST", "/api/messages", `{"text":"x"}`).Code)
}

func TestConversationsRequirePersistence(t *testing.T) {
	mux, _ := newTestMux(&stubOrchestrator{}, nil)
	assert.Equal(t, http.StatusNotFound, do(t, mux, "GET", "/api/conversations", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, mux, "GET", "/api/conversations/x/messages", "").Code)

	mux, _ = newTestMux(&stubOrchestrator{}, stubHistory{})
	rec := do(t, mux, "GET", "/api/conversations?limit=5&offset=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"message_count":5`)
	assert.Contains(t, rec.Body.String(), `"turn_count":2`)

	rec = do(t, mux, "GET", "/api/conversations/session_9/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"conversation_id":"session_9"`)
}

func TestEventStream(t *testing.T) {
	mux, hub := newTestMux(&stubOrchestrator{}, nil)
	hub.Raise(events.Advisory{Kind: events.KindOffline, Persistent: true})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/events/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if l := lines.Text(); strings.HasPrefix(l, "data: ") {
				return strings.TrimPrefix(l, "data: ")
			}
		}
		return ""
	}

	assert.Contains(t, next(), `"kind":"offline"`)
	hub.Publish(events.Event{Type: events.TypeTyping, Enabled: events.BoolPtr(true)})
	assert.Contains(t, next(), `"type":"typing"`)
}

func TestAppTypedTurn(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "We have sneakers."})
	}))
	defer backend.Close()

	a, err := newApp(context.Background(), config{
		backendURL:       backend.URL,
		backendPoolSize:  2,
		requestTimeout:   time.Second,
		captureTimeout:   time.Second,
		asrEngine:        "whisper-server",
		audioEnabled:     true,
		defaultLanguage:  "en",
		maxUIConnections: 1,
		greeting:         "Hi there",
		vadConfig:        audio.DefaultVADConfig(),
	})
	require.NoError(t, err)
	defer a.close()

	mux := http.NewServeMux()
	registerRoutes(mux, a.deps())

	rec := do(t, mux, "POST", "/api/messages", `{"text":"sneakers?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "We have sneakers.")

	msgs := a.orch.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "Hi there", msgs[0].Text)
	assert.Equal(t, "sneakers?", msgs[1].Text)

	// no transcriber configured: listening fails with unsupported and settles idle
	require.NoError(t, a.orch.StartListening(context.Background()))
	require.Eventually(t, func() bool {
		return a.capture.State() == capture.StateIdle && a.capture.Cause() != ""
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, capture.ErrUnsupported.Message(), a.capture.Cause())
	assert.Empty(t, a.hub.Advisories())
}

func TestUIMicFeedsStream(t *testing.T) {
	mic := speech.NewStreamMic()
	src := uiMic{mic}.Attach()

	ch, err := mic.Open(context.Background())
	require.NoError(t, err)
	src.Push(make([]byte, 4), audio.SampleRate)
	assert.Len(t, <-ch, 2)

	src.Detach()
	_, ok := <-ch
	assert.False(t, ok)
}
