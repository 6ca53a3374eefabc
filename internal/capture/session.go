// Package capture runs at most one speech recognition session at a time and
// classifies how each one ends.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hubenschmidt/voice-concierge/internal/events"
	"github.com/hubenschmidt/voice-concierge/internal/metrics"
)

type State string

const (
	StateIdle                 State = "idle"
	StateRequestingPermission State = "requesting-permission"
	StateListening            State = "listening"
	StateError                State = "error"
	StateTimeout              State = "timeout"
)

// DefaultTimeout bounds how long a session listens for a final transcript.
const DefaultTimeout = 10 * time.Second

// ErrCaptureActive is returned by Start while a session is requesting
// permission or listening.
var ErrCaptureActive = errors.New("capture: session already active")

// Hooks observe a Session. All are optional and are called without the
// session lock held.
type Hooks struct {
	OnResult      func(transcript string)
	OnStateChange func(State)
	OnAdvisory    func(events.Advisory)
}

type Config struct {
	Engine  SpeechEngine
	Timeout time.Duration
	Hooks   Hooks
}

// Session is the process-wide capture state machine. Every engine callback
// and timer carries the generation it was issued under; callbacks from an
// older generation are dropped.
type Session struct {
	engine  SpeechEngine
	timeout time.Duration
	hooks   Hooks

	mu     sync.Mutex
	state  State
	gen    uint64
	cause  string
	locale string
	timer  *time.Timer
	cancel context.CancelFunc
	rec    Recognition
}

func NewSession(cfg Config) *Session {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Session{
		engine:  cfg.Engine,
		timeout: timeout,
		hooks:   cfg.Hooks,
		state:   StateIdle,
	}
}

// SetHooks replaces the observers. Intended for wiring before first use.
func (s *Session) SetHooks(h Hooks) {
	s.mu.Lock()
	s.hooks = h
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cause is the human-readable reason for the most recent fatal error. It is
// cleared by the next Start or Stop.
func (s *Session) Cause() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Locale is the recognizer locale of the current or most recent session.
func (s *Session) Locale() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locale
}

// Start opens a session for languageCode. Permission is requested in the
// background; the returned error only reports rejection.
func (s *Session) Start(ctx context.Context, languageCode string) error {
	s.mu.Lock()
	if s.state == StateListening || s.state == StateRequestingPermission {
		s.mu.Unlock()
		metrics.CaptureRejected.Inc()
		return ErrCaptureActive
	}
	s.gen++
	gen := s.gen
	s.state = StateRequestingPermission
	s.cause = ""
	s.locale = LocaleFor(languageCode)
	locale := s.locale
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	hooks := s.hooks
	s.mu.Unlock()

	slog.Info("capture starting", "locale", locale, "gen", gen)
	notifyState(hooks, StateRequestingPermission)
	go s.acquire(sessCtx, gen, locale)
	return nil
}

func (s *Session) acquire(ctx context.Context, gen uint64, locale string) {
	if err := s.engine.RequestPermission(ctx); err != nil {
		s.onError(gen, err)
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateListening
	s.timer = time.AfterFunc(s.timeout, func() { s.onTimeout(gen) })
	hooks := s.hooks
	s.mu.Unlock()

	notifyState(hooks, StateListening)

	rec, err := s.engine.Start(ctx, locale, EngineEvents{
		OnResult: func(r Result) { s.onResult(gen, r) },
		OnError:  func(err error) { s.onError(gen, err) },
		OnEnd:    func() { s.onEnd(gen) },
	})
	if err != nil {
		s.onError(gen, err)
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		// retired while the engine was starting; only this handle is ours to stop
		s.mu.Unlock()
		rec.Stop()
		return
	}
	s.rec = rec
	s.mu.Unlock()
}

func (s *Session) onResult(gen uint64, r Result) {
	text := strings.TrimSpace(r.Transcript)
	if !r.Final || text == "" {
		return
	}

	s.mu.Lock()
	if s.gen != gen || s.state != StateListening {
		s.mu.Unlock()
		return
	}
	rec := s.retireLocked()
	s.state = StateIdle
	hooks := s.hooks
	s.mu.Unlock()

	stopRecognition(rec)
	metrics.CaptureSessions.WithLabelValues("result").Inc()
	slog.Info("capture result", "gen", gen, "chars", len(text))
	notifyState(hooks, StateIdle)
	if hooks.OnResult != nil {
		hooks.OnResult(text)
	}
}

func (s *Session) onTimeout(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateListening {
		s.mu.Unlock()
		return
	}
	rec := s.retireLocked()
	s.state = StateTimeout
	hooks := s.hooks
	next := s.gen
	s.mu.Unlock()

	stopRecognition(rec)
	metrics.CaptureSessions.WithLabelValues("timeout").Inc()
	slog.Info("capture timed out", "gen", gen, "after", s.timeout)
	notifyState(hooks, StateTimeout)
	if hooks.OnAdvisory != nil {
		hooks.OnAdvisory(events.Advisory{
			Kind:     events.KindCaptureTimeout,
			Title:    "Voice Timeout",
			Message:  "No speech detected. Please try again.",
			Severity: events.SeverityInfo,
		})
	}
	s.settle(next, StateTimeout)
}

func (s *Session) onError(gen uint64, err error) {
	code := CodeOf(err)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	wasActive := s.state == StateListening || s.state == StateRequestingPermission
	if !wasActive {
		s.mu.Unlock()
		return
	}
	rec := s.retireLocked()
	hooks := s.hooks
	next := s.gen

	if code.Recoverable() {
		s.state = StateIdle
		s.mu.Unlock()
		stopRecognition(rec)
		metrics.CaptureSessions.WithLabelValues("recoverable").Inc()
		slog.Debug("capture ended quietly", "code", code, "gen", gen)
		notifyState(hooks, StateIdle)
		return
	}

	s.state = StateError
	s.cause = code.Message()
	cause := s.cause
	s.mu.Unlock()

	stopRecognition(rec)
	metrics.CaptureSessions.WithLabelValues("fatal").Inc()
	metrics.Errors.WithLabelValues("capture", string(code)).Inc()
	slog.Error("capture failed", "code", code, "error", err, "gen", gen)
	notifyState(hooks, StateError)
	if hooks.OnAdvisory != nil {
		hooks.OnAdvisory(events.Advisory{
			Kind:     events.KindCaptureError,
			Title:    "Voice Error",
			Message:  cause,
			Severity: events.SeverityError,
		})
	}
	s.settle(next, StateError)
}

// onEnd fires when the engine stops on its own. Without a final result that
// is an empty session, handled like no-speech.
func (s *Session) onEnd(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateListening {
		s.mu.Unlock()
		return
	}
	rec := s.retireLocked()
	s.state = StateIdle
	hooks := s.hooks
	s.mu.Unlock()

	stopRecognition(rec)
	metrics.CaptureSessions.WithLabelValues("recoverable").Inc()
	slog.Debug("capture ended without result", "gen", gen)
	notifyState(hooks, StateIdle)
}

// Stop ends any session and returns to idle. Safe from every state.
func (s *Session) Stop() {
	s.mu.Lock()
	prev := s.state
	rec := s.retireLocked()
	s.state = StateIdle
	s.cause = ""
	hooks := s.hooks
	s.mu.Unlock()

	if prev == StateListening || prev == StateRequestingPermission {
		stopRecognition(rec)
		metrics.CaptureSessions.WithLabelValues("stopped").Inc()
	}
	if prev != StateIdle {
		notifyState(hooks, StateIdle)
	}
}

// retireLocked invalidates every outstanding callback of the current session
// and hands back its recognition, which the caller stops after unlocking.
func (s *Session) retireLocked() Recognition {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	rec := s.rec
	s.rec = nil
	s.gen++
	return rec
}

func stopRecognition(rec Recognition) {
	if rec != nil {
		rec.Stop()
	}
}

// settle moves a transient terminal state to idle unless something else
// has happened since.
func (s *Session) settle(gen uint64, from State) {
	s.mu.Lock()
	if s.gen != gen || s.state != from {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	hooks := s.hooks
	s.mu.Unlock()
	notifyState(hooks, StateIdle)
}

func notifyState(h Hooks, st State) {
	if h.OnStateChange != nil {
		h.OnStateChange(st)
	}
}
