package trace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hubenschmidt/voice-concierge/internal/conversation"
	"github.com/hubenschmidt/voice-concierge/internal/metrics"
)

const (
	maxTextLen  = 2000
	writeTimeout = 5 * time.Second
)

// Writer is the persistence surface the tracer drains into. *Store
// implements it.
type Writer interface {
	EnsureConversation(ctx context.Context, id string, startedAt time.Time) error
	InsertMessage(ctx context.Context, m MessageRecord) error
	InsertTurn(ctx context.Context, t TurnRecord) error
}

type traceMsg struct {
	conversationID string
	message        *MessageRecord
	turn           *TurnRecord
}

// Tracer records conversation activity asynchronously. Records are dropped,
// never queued unboundedly, when the writer falls behind. All methods are
// no-ops on a nil receiver, so an unconfigured database costs nothing.
type Tracer struct {
	w     Writer
	ch    chan traceMsg
	done  chan struct{}
	known map[string]bool // drain goroutine only

	mu     sync.Mutex
	closed bool
}

func NewTracer(w Writer, buffer int) *Tracer {
	if buffer <= 0 {
		buffer = 256
	}
	t := &Tracer{
		w:     w,
		ch:    make(chan traceMsg, buffer),
		done:  make(chan struct{}),
		known: map[string]bool{},
	}
	go t.drain()
	return t
}

func (t *Tracer) drain() {
	defer close(t.done)
	for msg := range t.ch {
		t.handle(msg)
	}
}

func (t *Tracer) handle(m traceMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if !t.known[m.conversationID] {
		if err := t.w.EnsureConversation(ctx, m.conversationID, time.Now().UTC()); err != nil {
			t.fail("conversation", err)
			return
		}
		t.known[m.conversationID] = true
	}

	switch {
	case m.message != nil:
		if err := t.w.InsertMessage(ctx, *m.message); err != nil {
			t.fail("message", err)
		}
	case m.turn != nil:
		if err := t.w.InsertTurn(ctx, *m.turn); err != nil {
			t.fail("turn", err)
		}
	}
}

func (t *Tracer) fail(kind string, err error) {
	metrics.Errors.WithLabelValues("trace", kind).Inc()
	slog.Warn("trace write failed", "kind", kind, "error", err)
}

func (t *Tracer) enqueue(m traceMsg) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.ch <- m:
	default:
		metrics.Errors.WithLabelValues("trace", "dropped").Inc()
		slog.Warn("trace buffer full, record dropped", "conversation_id", m.conversationID)
	}
}

// RecordMessage implements conversation.Recorder.
func (t *Tracer) RecordMessage(sessionID string, m conversation.Message) {
	if t == nil {
		return
	}
	t.enqueue(traceMsg{conversationID: sessionID, message: &MessageRecord{
		ID:             m.ID,
		ConversationID: sessionID,
		Role:           string(m.Role),
		Text:           truncate(m.Text, maxTextLen),
		Language:       m.Language,
		Sentiment:      m.Sentiment,
		AudioRef:       m.AudioRef,
		CreatedAt:      m.Timestamp,
	}})
}

// RecordTurn implements conversation.Recorder.
func (t *Tracer) RecordTurn(turn conversation.Turn) {
	if t == nil {
		return
	}
	t.enqueue(traceMsg{conversationID: turn.SessionID, turn: &TurnRecord{
		ID:             turn.ID,
		ConversationID: turn.SessionID,
		StartedAt:      turn.StartedAt,
		DurationMs:     float64(turn.Duration.Microseconds()) / 1000,
		Transcript:     truncate(turn.Transcript, maxTextLen),
		Response:       truncate(turn.Response, maxTextLen),
		Status:         turn.Status,
	}})
}

// Close flushes pending records and stops the writer goroutine.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.ch)
	t.mu.Unlock()
	<-t.done
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
