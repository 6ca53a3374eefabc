package trace

import "time"

// Conversation is one session id as seen by the conversation service.
type Conversation struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	MessageCount int       `json:"message_count"`
	TurnCount    int       `json:"turn_count"`
}

// MessageRecord is a persisted log entry.
type MessageRecord struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Text           string    `json:"text"`
	Language       string    `json:"language,omitempty"`
	Sentiment      string    `json:"sentiment,omitempty"`
	AudioRef       string    `json:"audio_ref,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TurnRecord is one request/response exchange with its latency.
type TurnRecord struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	StartedAt      time.Time `json:"started_at"`
	DurationMs     float64   `json:"duration_ms"`
	Transcript     string    `json:"transcript"`
	Response       string    `json:"response"`
	Status         string    `json:"status"`
}
