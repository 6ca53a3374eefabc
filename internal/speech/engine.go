// Package speech implements capture.SpeechEngine on top of a microphone
// source, energy VAD, and pluggable transcription backends.
package speech

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hubenschmidt/voice-concierge/internal/audio"
	"github.com/hubenschmidt/voice-concierge/internal/capture"
	"github.com/hubenschmidt/voice-concierge/internal/metrics"
)

type Config struct {
	Mic          Microphone
	Transcribers *Router[Transcriber]
	Engine       string
	VAD          audio.VADConfig
	// MaxUtterance force-closes a segment that never falls silent.
	MaxUtterance time.Duration
}

// VoiceEngine recognizes a single utterance per Start. It runs at most one
// recognition at a time; a new Start cancels the previous one.
type VoiceEngine struct {
	cfg Config

	mu      sync.Mutex
	current *voiceRecognition
}

func NewVoiceEngine(cfg Config) *VoiceEngine {
	if cfg.VAD.SampleRate == 0 {
		cfg.VAD = audio.DefaultVADConfig()
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = 30 * time.Second
	}
	return &VoiceEngine{cfg: cfg}
}

func (e *VoiceEngine) RequestPermission(ctx context.Context) error {
	if e.cfg.Transcribers == nil || len(e.cfg.Transcribers.Engines()) == 0 {
		return capture.NewEngineError(capture.ErrUnsupported, errors.New("no transcription backend configured"))
	}
	if e.cfg.Mic == nil {
		return capture.NewEngineError(capture.ErrUnsupported, ErrMicUnsupported)
	}
	if err := e.cfg.Mic.Acquire(ctx); err != nil {
		return micError(err)
	}
	return nil
}

// Start fails with ErrAborted when ctx is already done, leaving any running
// recognition alone.
func (e *VoiceEngine) Start(ctx context.Context, locale string, ev capture.EngineEvents) (capture.Recognition, error) {
	backend, err := e.cfg.Transcribers.Route(e.cfg.Engine)
	if err != nil {
		return nil, capture.NewEngineError(capture.ErrUnsupported, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, capture.NewEngineError(capture.ErrAborted, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	frames, err := e.cfg.Mic.Open(runCtx)
	if err != nil {
		cancel()
		return nil, micError(err)
	}
	if e.current != nil {
		e.current.cancel()
	}
	h := &voiceRecognition{engine: e, cancel: cancel}
	e.current = h

	r := &recognition{
		backend:  backend,
		language: languageOf(locale),
		vad:      audio.NewVAD(e.cfg.VAD),
		maxLen:   int(e.cfg.MaxUtterance.Seconds() * float64(audio.SampleRate)),
		ev:       ev,
	}
	go r.run(runCtx, frames)
	return h, nil
}

// Active reports whether a recognition is running.
func (e *VoiceEngine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// voiceRecognition is the handle for one Start. Stopping it never touches a
// later recognition.
type voiceRecognition struct {
	engine *VoiceEngine
	cancel context.CancelFunc
}

func (h *voiceRecognition) Stop() {
	h.cancel()
	h.engine.mu.Lock()
	if h.engine.current == h {
		h.engine.current = nil
	}
	h.engine.mu.Unlock()
}

type recognition struct {
	backend  Transcriber
	language string
	vad      *audio.VAD
	maxLen   int
	ev       capture.EngineEvents
}

func (r *recognition) run(ctx context.Context, frames <-chan []float32) {
	defer r.end()

	var buffered int
	for {
		select {
		case <-ctx.Done():
			r.fail(capture.NewEngineError(capture.ErrAborted, ctx.Err()))
			return
		case chunk, ok := <-frames:
			if !ok {
				r.finish(ctx, r.vad.Flush())
				return
			}
			res := r.vad.Process(chunk)
			if res.SpeechStarted {
				buffered = 0
				r.interim()
			}
			if res.SpeechEnded {
				r.finish(ctx, res.Audio)
				return
			}
			if r.vad.InSpeech() {
				buffered += len(chunk)
				if buffered >= r.maxLen {
					r.finish(ctx, r.vad.Flush())
					return
				}
			}
		}
	}
}

func (r *recognition) finish(ctx context.Context, samples []float32) {
	if len(samples) == 0 {
		r.fail(capture.NewEngineError(capture.ErrNoSpeech, nil))
		return
	}
	metrics.SpeechSegments.Inc()

	tr, err := r.backend.Transcribe(ctx, samples, r.language)
	if err != nil {
		if ctx.Err() != nil {
			r.fail(capture.NewEngineError(capture.ErrAborted, err))
			return
		}
		r.fail(capture.NewEngineError(capture.ErrNetwork, err))
		return
	}

	text := strings.TrimSpace(tr.Text)
	if IsNoiseTranscript(text) {
		metrics.ASRNoiseFiltered.Inc()
		slog.Debug("noise transcript dropped", "text", text)
		r.fail(capture.NewEngineError(capture.ErrNoMatch, nil))
		return
	}
	slog.Info("transcript", "language", r.language, "asr_ms", tr.LatencyMs, "chars", len(text))
	if r.ev.OnResult != nil {
		r.ev.OnResult(capture.Result{Transcript: text, Final: true})
	}
}

func (r *recognition) interim() {
	if r.ev.OnResult != nil {
		r.ev.OnResult(capture.Result{})
	}
}

func (r *recognition) fail(err error) {
	if r.ev.OnError != nil {
		r.ev.OnError(err)
	}
}

func (r *recognition) end() {
	if r.ev.OnEnd != nil {
		r.ev.OnEnd()
	}
}

func micError(err error) error {
	switch {
	case errors.Is(err, ErrMicPermission):
		return capture.NewEngineError(capture.ErrPermissionDenied, err)
	case errors.Is(err, ErrMicUnsupported):
		return capture.NewEngineError(capture.ErrUnsupported, err)
	}
	return capture.NewEngineError(capture.ErrAudioCapture, err)
}

// languageOf turns "hi-IN" into the ISO 639-1 code transcribers expect.
func languageOf(locale string) string {
	lang, _, _ := strings.Cut(locale, "-")
	return strings.ToLower(lang)
}
