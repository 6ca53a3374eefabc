// Package playback owns the single current audio stream and guarantees that
// events from a superseded stream never touch shared state.
package playback

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hubenschmidt/voice-concierge/internal/metrics"
)

type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StateStopped State = "stopped"
	StateError   State = "error"
)

// handle binds one Stream to the generation it was created under. Once
// detached, every event it delivers is dropped.
type handle struct {
	gen      uint64
	locator  string
	stream   Stream
	detached atomic.Bool
}

type Session struct {
	out     AudioOutput
	onState func(State)

	mu      sync.Mutex
	enabled bool
	state   State
	gen     uint64
	cur     *handle
}

// NewSession returns an enabled session. onState may be nil.
func NewSession(out AudioOutput, onState func(State)) *Session {
	return &Session{
		out:     out,
		onState: onState,
		enabled: true,
		state:   StateIdle,
	}
}

// SetStateHook replaces the state observer. Intended for wiring before first use.
func (s *Session) SetStateHook(fn func(State)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Generation is the generation of the most recently created handle.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Play retires whatever is current, then loads and plays locator. When
// playback is disabled only the retirement happens. Failures are logged.
func (s *Session) Play(locator string) {
	s.mu.Lock()
	old := s.detachLocked()
	if !s.enabled {
		changed := s.state != StateIdle
		s.state = StateIdle
		hook := s.onState
		s.mu.Unlock()
		retire(old)
		if changed {
			emit(hook, StateIdle)
		}
		return
	}
	s.gen++
	h := &handle{gen: s.gen, locator: locator}
	s.cur = h
	s.state = StateLoading
	hook := s.onState
	s.mu.Unlock()

	retire(old)
	emit(hook, StateLoading)

	stream, err := s.out.NewStream(locator, func(ev Event) { s.dispatch(h, ev) })
	if err != nil {
		s.fail(h, errors.Join(ErrLoad, err))
		return
	}

	s.mu.Lock()
	if s.cur != h {
		s.mu.Unlock()
		stream.Stop()
		return
	}
	h.stream = stream
	s.mu.Unlock()

	slog.Info("playback loading", "gen", h.gen, "locator", locator)
	stream.Load()
}

func (s *Session) dispatch(h *handle, ev Event) {
	if h.detached.Load() {
		metrics.PlaybackStale.Inc()
		return
	}

	switch ev.Kind {
	case EventLoadStart:
		s.transition(h, StateLoading)
	case EventReady:
		s.start(h)
	case EventPlaying:
		s.transition(h, StatePlaying)
	case EventEnded, EventAbort:
		s.release(h, ev.Kind)
	case EventError:
		s.fail(h, ev.Err)
	}
}

func (s *Session) transition(h *handle, st State) {
	s.mu.Lock()
	if s.cur != h {
		s.mu.Unlock()
		metrics.PlaybackStale.Inc()
		return
	}
	changed := s.state != st
	s.state = st
	hook := s.onState
	s.mu.Unlock()
	if changed {
		emit(hook, st)
	}
}

// start plays h only if no newer Play superseded it while it was loading.
func (s *Session) start(h *handle) {
	s.mu.Lock()
	if s.cur != h || h.stream == nil {
		s.mu.Unlock()
		metrics.PlaybackStale.Inc()
		return
	}
	stream := h.stream
	s.mu.Unlock()

	if err := stream.Play(); err != nil {
		s.fail(h, errors.Join(ErrPlay, err))
		return
	}
	metrics.PlaybackStarts.Inc()
	s.transition(h, StatePlaying)
}

func (s *Session) release(h *handle, why EventKind) {
	s.mu.Lock()
	if s.cur != h {
		s.mu.Unlock()
		return
	}
	s.detachLocked()
	s.state = StateIdle
	hook := s.onState
	s.mu.Unlock()

	retire(h)
	slog.Info("playback finished", "gen", h.gen, "reason", why)
	emit(hook, StateIdle)
}

func (s *Session) fail(h *handle, err error) {
	s.mu.Lock()
	if s.cur != h {
		s.mu.Unlock()
		return
	}
	s.detachLocked()
	s.state = StateError
	hook := s.onState
	s.mu.Unlock()

	retire(h)
	stage := "play"
	if errors.Is(err, ErrLoad) {
		stage = "load"
	}
	metrics.Errors.WithLabelValues("playback", stage).Inc()
	slog.Warn("playback failed", "gen", h.gen, "locator", h.locator, "error", err)
	emit(hook, StateError)

	s.mu.Lock()
	if s.cur != nil || s.state != StateError {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	s.mu.Unlock()
	emit(hook, StateIdle)
}

// Stop halts and releases the current stream. Safe from any state.
func (s *Session) Stop() {
	s.mu.Lock()
	old := s.detachLocked()
	prev := s.state
	s.state = StateIdle
	hook := s.onState
	s.mu.Unlock()

	retire(old)
	if old != nil && (prev == StateLoading || prev == StatePlaying) {
		slog.Info("playback stopped", "gen", old.gen)
		emit(hook, StateStopped)
	}
	if prev != StateIdle {
		emit(hook, StateIdle)
	}
}

// SetEnabled toggles audio replies. Disabling stops anything loading or playing.
func (s *Session) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	active := s.cur != nil
	s.mu.Unlock()
	if !enabled && active {
		s.Stop()
	}
}

// detachLocked clears the current handle and marks it detached. The caller
// must retire the returned handle after unlocking.
func (s *Session) detachLocked() *handle {
	h := s.cur
	s.cur = nil
	if h != nil {
		h.detached.Store(true)
	}
	return h
}

func retire(h *handle) {
	if h == nil || h.stream == nil {
		return
	}
	h.stream.Stop()
}

func emit(hook func(State), st State) {
	if hook != nil {
		hook(st)
	}
}
