package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hubenschmidt/voice-concierge/internal/httpclient"
	"github.com/hubenschmidt/voice-concierge/internal/metrics"
)

// ErrNetwork marks transport failures talking to the conversation service.
var ErrNetwork = errors.New("conversation: network error")

// ServerError is a non-2xx reply from the conversation service.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("conversation: server status %d: %s", e.Status, e.Body)
}

// Response is the body of POST /start-assistant/.
type Response struct {
	Text           string            `json:"text"`
	AudioFile      string            `json:"audio_file,omitempty"`
	AudioURL       string            `json:"audio_url,omitempty"`
	StaticAudioURL string            `json:"static_audio_url,omitempty"`
	Products       []json.RawMessage `json:"products,omitempty"`
	Places         []json.RawMessage `json:"places,omitempty"`
}

// Items returns products, falling back to the older "places" field.
func (r *Response) Items() []json.RawMessage {
	if len(r.Products) > 0 {
		return r.Products
	}
	return r.Places
}

// HasAudio reports whether the service produced speech for this reply.
func (r *Response) HasAudio() bool {
	return r.AudioFile != "" || r.AudioURL != ""
}

type converseRequest struct {
	Transcript string `json:"transcript"`
	SessionID  string `json:"session_id"`
}

// Client talks to the remote conversation service.
type Client struct {
	baseURL *url.URL
	client  *http.Client
}

func NewClient(baseURL string, poolSize int, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url %q must be absolute", baseURL)
	}
	return &Client{baseURL: u, client: httpclient.NewPooled(poolSize, timeout)}, nil
}

// BaseURL is the service root, without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// Converse sends one utterance. Transport failures wrap ErrNetwork; non-2xx
// replies return *ServerError.
func (c *Client) Converse(ctx context.Context, transcript, sessionID string) (*Response, error) {
	start := time.Now()
	body, err := json.Marshal(converseRequest{Transcript: transcript, SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("marshal conversation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL()+"/start-assistant/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create conversation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("conversation", "http").Inc()
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.Errors.WithLabelValues("conversation", "status").Inc()
		return nil, &ServerError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var out Response
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		metrics.Errors.WithLabelValues("conversation", "decode").Inc()
		return nil, fmt.Errorf("%w: decode response: %v", ErrNetwork, err)
	}
	metrics.StageDuration.WithLabelValues("conversation").Observe(time.Since(start).Seconds())
	return &out, nil
}

// AudioLocator picks the playable URL for a reply. A direct audio_url wins
// and is resolved against the service root; otherwise the session endpoint
// is used. Both carry cache-busting parameters so a replayed session id
// never serves stale audio. Empty when the reply has no audio.
func (c *Client) AudioLocator(r *Response, sessionID, messageID string) string {
	if r == nil || !r.HasAudio() {
		return ""
	}
	ref := "/get-audio/" + url.PathEscape(sessionID)
	if r.AudioURL != "" {
		ref = r.AudioURL
	}
	target, err := url.Parse(ref)
	if err != nil {
		target = &url.URL{Path: "/get-audio/" + url.PathEscape(sessionID)}
	}
	u := c.baseURL.ResolveReference(target)
	q := u.Query()
	q.Set("t", strconv.FormatInt(time.Now().UnixMilli(), 10))
	q.Set("msg", messageID)
	u.RawQuery = q.Encode()
	return u.String()
}
