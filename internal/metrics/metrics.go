package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CaptureSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_sessions_total",
		Help: "Speech capture sessions by outcome (result, timeout, recoverable, fatal, stopped)",
	}, []string{"outcome"})

	CaptureRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_start_rejected_total",
		Help: "Start calls rejected because a capture session was already active",
	})

	SpeechSegments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vad_speech_segments_total",
		Help: "Speech segments detected by VAD",
	})

	ASRNoiseFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asr_noise_filtered_total",
		Help: "Transcripts dropped by the noise filter",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "concierge_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0, 10.0},
	}, []string{"stage"})

	PlaybackStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playback_starts_total",
		Help: "Audio handles that reached the playing state",
	})

	PlaybackStale = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playback_stale_events_total",
		Help: "Audio events discarded because their handle was no longer current",
	})

	ConversationTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversation_turns_total",
		Help: "Conversation requests by outcome (ok, network, server)",
	}, []string{"outcome"})

	SendRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conversation_send_rejected_total",
		Help: "Send calls rejected because a turn was already in flight",
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "concierge_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	UIConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ui_connections_active",
		Help: "Currently connected UI websockets",
	})

	Online = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "connectivity_online",
		Help: "1 while the conversation service is reachable",
	})
)
