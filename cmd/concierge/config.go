package main

import (
	"log/slog"
	"strings"
	"time"

	"github.com/hubenschmidt/voice-concierge/internal/audio"
	"github.com/hubenschmidt/voice-concierge/internal/capture"
	"github.com/hubenschmidt/voice-concierge/internal/env"
)

const defaultGreeting = "Hello! I'm your shopping assistant. Ask me about products, or tap the microphone to talk."

type config struct {
	port                 string
	backendURL           string
	backendPoolSize      int
	requestTimeout       time.Duration
	captureTimeout       time.Duration
	asrEngine            string
	asrPoolSize          int
	whisperServerURL     string
	openAIAPIKey         string
	openAIBaseURL        string
	openAIModel          string
	micCommand           []string
	micSampleRate        int
	playerCommand        []string
	audioEnabled         bool
	defaultLanguage      string
	connectivityProbeURL string
	connectivityInterval time.Duration
	connectivityFailures int
	databaseURL          string
	maxUIConnections     int
	greeting             string
	logLevel             slog.Level
	vadConfig            audio.VADConfig
	maxUtterance         time.Duration
}

func loadConfig() config {
	vad := audio.DefaultVADConfig()
	vad.SpeechThresholdDB = env.Float("VAD_SPEECH_THRESHOLD_DB", vad.SpeechThresholdDB)
	vad.SilenceTimeout = env.Duration("VAD_SILENCE_TIMEOUT", vad.SilenceTimeout)
	vad.MinSpeechDuration = env.Duration("VAD_MIN_SPEECH", vad.MinSpeechDuration)

	backendURL := env.Str("BACKEND_URL", "http://localhost:8000")

	return config{
		port:                 env.Str("HTTP_PORT", "8080"),
		backendURL:           backendURL,
		backendPoolSize:      env.Int("BACKEND_POOL_SIZE", 8),
		requestTimeout:       env.Duration("REQUEST_TIMEOUT", 60*time.Second),
		captureTimeout:       env.Duration("CAPTURE_TIMEOUT", capture.DefaultTimeout),
		asrEngine:            env.Str("ASR_ENGINE", "whisper-server"),
		asrPoolSize:          env.Int("ASR_POOL_SIZE", 4),
		whisperServerURL:     env.Str("WHISPER_SERVER_URL", ""),
		openAIAPIKey:         env.Str("OPENAI_API_KEY", ""),
		openAIBaseURL:        env.Str("OPENAI_BASE_URL", ""),
		openAIModel:          env.Str("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		micCommand:           strings.Fields(env.Str("MIC_COMMAND", "")),
		micSampleRate:        env.Int("MIC_SAMPLE_RATE", audio.SampleRate),
		playerCommand:        strings.Fields(env.Str("PLAYER_COMMAND", "")),
		audioEnabled:         env.Bool("AUDIO_ENABLED", true),
		defaultLanguage:      env.Str("DEFAULT_LANGUAGE", "en"),
		connectivityProbeURL: env.Str("CONNECTIVITY_PROBE_URL", strings.TrimRight(backendURL, "/")+"/"),
		connectivityInterval: env.Duration("CONNECTIVITY_INTERVAL", 5*time.Second),
		connectivityFailures: env.Int("CONNECTIVITY_FAILURES", 2),
		databaseURL:          env.Str("DATABASE_URL", ""),
		maxUIConnections:     env.Int("MAX_UI_CONNECTIONS", 8),
		greeting:             env.Str("GREETING", defaultGreeting),
		logLevel:             parseLevel(env.Str("LOG_LEVEL", "info")),
		vadConfig:            vad,
		maxUtterance:         env.Duration("MAX_UTTERANCE", 30*time.Second),
	}
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
