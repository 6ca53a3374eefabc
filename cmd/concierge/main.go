package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hubenschmidt/voice-concierge/internal/audioout"
	"github.com/hubenschmidt/voice-concierge/internal/capture"
	"github.com/hubenschmidt/voice-concierge/internal/connectivity"
	"github.com/hubenschmidt/voice-concierge/internal/conversation"
	"github.com/hubenschmidt/voice-concierge/internal/events"
	"github.com/hubenschmidt/voice-concierge/internal/httpclient"
	"github.com/hubenschmidt/voice-concierge/internal/playback"
	"github.com/hubenschmidt/voice-concierge/internal/speech"
	"github.com/hubenschmidt/voice-concierge/internal/trace"
	"github.com/hubenschmidt/voice-concierge/internal/ws"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("load .env", "error", err)
	}
	cfg := loadConfig()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.close()

	go a.monitor.Run(ctx, connectivity.NewHTTPProber(cfg.connectivityProbeURL, 5*time.Second), connectivity.PollConfig{
		Interval: cfg.connectivityInterval,
		Failures: cfg.connectivityFailures,
	})

	mux := http.NewServeMux()
	registerRoutes(mux, a.deps())

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.capture.Stop()
		a.playback.Stop()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("concierge starting",
		"addr", addr,
		"backend", cfg.backendURL,
		"asr_engines", a.asr.Engines(),
		"session_id", a.orch.SessionID(),
	)

	if err = srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("concierge stopped")
}

// app holds the process-wide client components.
type app struct {
	cfg      config
	hub      *events.Hub
	capture  *capture.Session
	playback *playback.Session
	orch     *conversation.Orchestrator
	monitor  *connectivity.Monitor
	asr      *speech.Router[speech.Transcriber]
	mic      *speech.StreamMic
	ui       http.Handler
	store    *trace.Store
	tracer   *trace.Tracer
}

func newApp(ctx context.Context, cfg config) (*app, error) {
	a := &app{cfg: cfg, hub: events.NewHub()}

	backend, err := conversation.NewClient(cfg.backendURL, cfg.backendPoolSize, cfg.requestTimeout)
	if err != nil {
		return nil, err
	}

	a.asr = newTranscriberRouter(cfg)
	mic := a.newMicrophone()
	engine := speech.NewVoiceEngine(speech.Config{
		Mic:          mic,
		Transcribers: a.asr,
		Engine:       cfg.asrEngine,
		VAD:          cfg.vadConfig,
		MaxUtterance: cfg.maxUtterance,
	})
	a.capture = capture.NewSession(capture.Config{Engine: engine, Timeout: cfg.captureTimeout})

	out := audioout.NewHTTPOutput(httpclient.NewPooled(2, cfg.requestTimeout), newPlayer(cfg))
	a.playback = playback.NewSession(out, func(s playback.State) {
		a.hub.Publish(events.Event{Type: events.TypePlaybackState, State: string(s)})
	})
	a.playback.SetEnabled(cfg.audioEnabled)

	var recorder conversation.Recorder
	if cfg.databaseURL != "" {
		a.store, err = trace.Open(ctx, cfg.databaseURL)
		if err != nil {
			slog.Warn("persistence disabled", "error", err)
		} else {
			a.tracer = trace.NewTracer(a.store, 0)
			recorder = a.tracer
			slog.Info("persistence enabled")
		}
	}

	a.orch = conversation.New(conversation.Config{
		Backend:        backend,
		Capture:        a.capture,
		Playback:       a.playback,
		Recorder:       recorder,
		Notify:         a.hub.Publish,
		Language:       cfg.defaultLanguage,
		Greeting:       cfg.greeting,
		RequestTimeout: cfg.requestTimeout,
	})
	a.capture.SetHooks(capture.Hooks{
		OnResult: a.orch.HandleTranscript,
		OnStateChange: func(s capture.State) {
			a.hub.Publish(events.Event{Type: events.TypeCaptureState, State: string(s)})
		},
		OnAdvisory: a.hub.Raise,
	})
	a.monitor = connectivity.New(a.capture, a.hub)

	wsCfg := ws.HandlerConfig{
		Controller:     a.orch,
		Hub:            a.hub,
		Connectivity:   a.monitor,
		MaxConnections: cfg.maxUIConnections,
	}
	if a.mic != nil {
		wsCfg.Mic = uiMic{a.mic}
	}
	a.ui = ws.NewHandler(wsCfg)
	return a, nil
}

// uiMic lets UI connections feed the stream microphone.
type uiMic struct{ *speech.StreamMic }

func (m uiMic) Attach() ws.MicSource { return m.StreamMic.Attach() }

func (a *app) newMicrophone() speech.Microphone {
	if len(a.cfg.micCommand) > 0 {
		slog.Info("using local microphone", "command", a.cfg.micCommand[0])
		return speech.NewCommandMic(a.cfg.micCommand[0], a.cfg.micCommand[1:], a.cfg.micSampleRate)
	}
	a.mic = speech.NewStreamMic()
	return a.mic
}

func newTranscriberRouter(cfg config) *speech.Router[speech.Transcriber] {
	backends := map[string]speech.Transcriber{}
	if cfg.whisperServerURL != "" {
		backends["whisper-server"] = speech.NewWhisperClient(cfg.whisperServerURL, cfg.asrPoolSize)
	}
	if cfg.openAIAPIKey != "" {
		backends["openai"] = speech.NewOpenAITranscriber(cfg.openAIAPIKey, cfg.openAIBaseURL, cfg.openAIModel,
			httpclient.NewPooled(cfg.asrPoolSize, cfg.requestTimeout))
	}
	fallback := cfg.asrEngine
	if _, ok := backends[fallback]; !ok {
		fallback = "whisper-server"
		if _, ok = backends[fallback]; !ok {
			fallback = "openai"
		}
	}
	if len(backends) == 0 {
		slog.Warn("no transcription backend configured, voice input unsupported")
	}
	return speech.NewRouter(backends, fallback)
}

func newPlayer(cfg config) audioout.Player {
	if len(cfg.playerCommand) == 0 {
		return audioout.NullPlayer{}
	}
	return audioout.CommandPlayer{Name: cfg.playerCommand[0], Args: cfg.playerCommand[1:]}
}

func (a *app) close() {
	a.tracer.Close()
	if a.store != nil {
		a.store.Close()
	}
}
