package conversation

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
)

// Message is one entry of the append-only conversation log.
type Message struct {
	ID        string            `json:"id"`
	Role      Role              `json:"role"`
	Text      string            `json:"text"`
	Timestamp time.Time         `json:"timestamp"`
	Language  string            `json:"language,omitempty"`
	Sentiment string            `json:"sentiment,omitempty"`
	Products  []json.RawMessage `json:"products,omitempty"`
	AudioRef  string            `json:"audio_ref,omitempty"`
}

// Analytics summarizes the conversation log.
type Analytics struct {
	SessionID string         `json:"session_id"`
	Total     int            `json:"total_messages"`
	ByRole    map[Role]int   `json:"by_role"`
	Sentiment map[string]int `json:"sentiment"`
	Languages map[string]int `json:"languages"`
	Failures  int            `json:"failed_turns"`
	Started   time.Time      `json:"started_at"`
}

func summarize(sessionID string, started time.Time, msgs []Message) Analytics {
	a := Analytics{
		SessionID: sessionID,
		Total:     len(msgs),
		ByRole:    map[Role]int{},
		Sentiment: map[string]int{},
		Languages: map[string]int{},
		Started:   started,
	}
	for _, m := range msgs {
		a.ByRole[m.Role]++
		if m.Sentiment != "" {
			a.Sentiment[m.Sentiment]++
		}
		if m.Sentiment == SentimentNegative {
			a.Failures++
		}
		if m.Role == RoleUser && m.Language != "" {
			a.Languages[m.Language]++
		}
	}
	return a
}
