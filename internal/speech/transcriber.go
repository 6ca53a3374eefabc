package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/hubenschmidt/voice-concierge/internal/audio"
	"github.com/hubenschmidt/voice-concierge/internal/httpclient"
	"github.com/hubenschmidt/voice-concierge/internal/metrics"
)

// Transcriber turns one utterance of 16kHz mono samples into text.
// language is an ISO 639-1 code; empty means auto-detect.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, language string) (*Transcript, error)
}

type Transcript struct {
	Text      string  `json:"text"`
	LatencyMs float64 `json:"latency_ms"`
}

// WhisperClient posts multipart WAV to a whisper.cpp style server.
type WhisperClient struct {
	url      string
	endpoint string
	client   *http.Client
}

// NewWhisperClient targets whisper.cpp's /inference endpoint.
func NewWhisperClient(url string, poolSize int) *WhisperClient {
	return &WhisperClient{
		url:      url,
		endpoint: "/inference",
		client:   httpclient.NewPooled(poolSize, 30*time.Second),
	}
}

func (c *WhisperClient) Transcribe(ctx context.Context, samples []float32, language string) (*Transcript, error) {
	start := time.Now()

	body, contentType, err := buildMultipartAudio(samples, language)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create whisper request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("asr", "http").Inc()
		return nil, fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.Errors.WithLabelValues("asr", "status").Inc()
		return nil, fmt.Errorf("whisper status %d: %s", resp.StatusCode, respBody)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode whisper response: %w", err)
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("asr").Observe(latency.Seconds())
	return &Transcript{Text: result.Text, LatencyMs: float64(latency.Milliseconds())}, nil
}

func buildMultipartAudio(samples []float32, language string) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err = part.Write(audio.SamplesToWAV(samples, audio.SampleRate)); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}
	if language != "" {
		if err = writer.WriteField("language", language); err != nil {
			return nil, "", fmt.Errorf("write language field: %w", err)
		}
	}
	if err = writer.WriteField("response_format", "json"); err != nil {
		return nil, "", fmt.Errorf("write format field: %w", err)
	}
	if err = writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close writer: %w", err)
	}
	return &body, writer.FormDataContentType(), nil
}

// OpenAITranscriber uses the OpenAI audio transcription API, or any server
// that mirrors it when baseURL is set.
type OpenAITranscriber struct {
	client openai.Client
	model  string
}

func NewOpenAITranscriber(apiKey, baseURL, model string, httpClient *http.Client) *OpenAITranscriber {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	return &OpenAITranscriber{client: openai.NewClient(opts...), model: model}
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, samples []float32, language string) (*Transcript, error) {
	start := time.Now()
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio.SamplesToWAV(samples, audio.SampleRate)), "audio.wav", "audio/wav"),
		Model: openai.AudioModel(t.model),
	}
	if language != "" {
		params.Language = openai.String(language)
	}

	res, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		metrics.Errors.WithLabelValues("asr", "openai").Inc()
		return nil, fmt.Errorf("openai transcription: %w", err)
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("asr").Observe(latency.Seconds())
	return &Transcript{Text: res.Text, LatencyMs: float64(latency.Milliseconds())}, nil
}
