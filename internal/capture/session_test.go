package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/voice-concierge/internal/events"
)

type fakeEngine struct {
	mu        sync.Mutex
	permErr   error
	permGate  chan struct{}
	startErr  error
	// startGates[i], when set, holds the i-th Start until closed
	startGates []chan struct{}
	calls      int
	starts     int
	stops      int
	locales    []string
	listeners  []EngineEvents
	handles    []*fakeRecognition
}

type fakeRecognition struct {
	eng     *fakeEngine
	stopped bool
}

func (r *fakeRecognition) Stop() {
	r.eng.mu.Lock()
	defer r.eng.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true
	r.eng.stops++
}

func (f *fakeEngine) RequestPermission(ctx context.Context) error {
	f.mu.Lock()
	gate, err := f.permGate, f.permErr
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	return err
}

// Start ignores ctx on purpose: the session must cope with an engine that
// hands back a handle after the session moved on.
func (f *fakeEngine) Start(_ context.Context, locale string, ev EngineEvents) (Recognition, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	var gate chan struct{}
	if call < len(f.startGates) {
		gate = f.startGates[call]
	}
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.starts++
	f.locales = append(f.locales, locale)
	f.listeners = append(f.listeners, ev)
	h := &fakeRecognition{eng: f}
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeEngine) listener(i int) EngineEvents {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listeners[i]
}

func (f *fakeEngine) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

// running returns how many handed-out recognitions are still live.
func (f *fakeEngine) running() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, h := range f.handles {
		if !h.stopped {
			n++
		}
	}
	return n
}

type recorder struct {
	mu         sync.Mutex
	results    []string
	states     []State
	advisories []events.Advisory
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnResult: func(t string) {
			r.mu.Lock()
			r.results = append(r.results, t)
			r.mu.Unlock()
		},
		OnStateChange: func(s State) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
		OnAdvisory: func(a events.Advisory) {
			r.mu.Lock()
			r.advisories = append(r.advisories, a)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() ([]string, []State, []events.Advisory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.results...), append([]State(nil), r.states...), append([]events.Advisory(nil), r.advisories...)
}

func newTestSession(t *testing.T, eng *fakeEngine, timeout time.Duration) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	s := NewSession(Config{Engine: eng, Timeout: timeout, Hooks: rec.hooks()})
	t.Cleanup(s.Stop)
	return s, rec
}

func startListening(t *testing.T, s *Session, eng *fakeEngine, lang string) {
	t.Helper()
	before, _ := eng.counts()
	require.NoError(t, s.Start(context.Background(), lang))
	require.Eventually(t, func() bool {
		starts, _ := eng.counts()
		return s.State() == StateListening && starts == before+1 && s.holdsRecognition()
	}, time.Second, time.Millisecond)
}

func (s *Session) holdsRecognition() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec != nil
}

func (f *fakeEngine) startCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestStartRejectedWhileActive(t *testing.T) {
	eng := &fakeEngine{permGate: make(chan struct{})}
	s, _ := newTestSession(t, eng, time.Minute)

	require.NoError(t, s.Start(context.Background(), "en"))
	assert.Equal(t, StateRequestingPermission, s.State())
	assert.ErrorIs(t, s.Start(context.Background(), "en"), ErrCaptureActive)

	close(eng.permGate)
	require.Eventually(t, func() bool { return s.State() == StateListening }, time.Second, time.Millisecond)
	assert.ErrorIs(t, s.Start(context.Background(), "hi"), ErrCaptureActive)

	starts, _ := eng.counts()
	assert.Equal(t, 1, starts)
}

func TestFinalResultEmittedOnce(t *testing.T) {
	eng := &fakeEngine{}
	s, rec := newTestSession(t, eng, time.Minute)
	startListening(t, s, eng, "hi")

	l := eng.listener(0)
	l.OnResult(Result{Transcript: "namaste", Final: false})
	l.OnResult(Result{Transcript: "   ", Final: true})
	assert.Equal(t, StateListening, s.State())

	l.OnResult(Result{Transcript: " show me sarees ", Final: true})
	l.OnResult(Result{Transcript: "duplicate", Final: true})
	l.OnEnd()

	results, states, advisories := rec.snapshot()
	assert.Equal(t, []string{"show me sarees"}, results)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, StateIdle, states[len(states)-1])
	assert.Empty(t, advisories)
	assert.Equal(t, []string{"hi-IN"}, eng.locales)

	_, stops := eng.counts()
	assert.GreaterOrEqual(t, stops, 1)
}

func TestTimeoutFiresOnce(t *testing.T) {
	eng := &fakeEngine{}
	s, rec := newTestSession(t, eng, 30*time.Millisecond)
	startListening(t, s, eng, "en")

	require.Eventually(t, func() bool {
		_, _, adv := rec.snapshot()
		return len(adv) == 1 && s.State() == StateIdle
	}, time.Second, time.Millisecond)

	eng.listener(0).OnResult(Result{Transcript: "too late", Final: true})
	time.Sleep(60 * time.Millisecond)

	results, states, advisories := rec.snapshot()
	assert.Empty(t, results)
	require.Len(t, advisories, 1)
	assert.Equal(t, events.KindCaptureTimeout, advisories[0].Kind)
	assert.Equal(t, "Voice Timeout", advisories[0].Title)
	assert.Contains(t, states, StateTimeout)
	assert.Equal(t, StateIdle, states[len(states)-1])

	_, stops := eng.counts()
	assert.Equal(t, 1, stops)
}

func TestResultCancelsTimeout(t *testing.T) {
	eng := &fakeEngine{}
	s, rec := newTestSession(t, eng, 40*time.Millisecond)
	startListening(t, s, eng, "en")

	eng.listener(0).OnResult(Result{Transcript: "hello", Final: true})
	time.Sleep(100 * time.Millisecond)

	results, states, advisories := rec.snapshot()
	assert.Equal(t, []string{"hello"}, results)
	assert.Empty(t, advisories)
	assert.NotContains(t, states, StateTimeout)
}

func TestRecoverableErrorsAreSilent(t *testing.T) {
	for _, code := range []ErrorCode{ErrNoSpeech, ErrAborted, ErrNoMatch} {
		t.Run(string(code), func(t *testing.T) {
			eng := &fakeEngine{}
			s, rec := newTestSession(t, eng, time.Minute)
			startListening(t, s, eng, "en")

			eng.listener(0).OnError(NewEngineError(code, nil))

			_, states, advisories := rec.snapshot()
			assert.Equal(t, StateIdle, s.State())
			assert.NotContains(t, states, StateError)
			assert.Empty(t, advisories)
			assert.Empty(t, s.Cause())
		})
	}
}

func TestFatalErrorsRaiseAdvisory(t *testing.T) {
	cases := map[ErrorCode]string{
		ErrPermissionDenied: "Microphone permission denied. Please allow access.",
		ErrAudioCapture:     "Microphone not accessible. Please check permissions.",
		ErrNetwork:          "Network error. Please check your connection.",
		ErrUnsupported:      "Speech recognition is not supported on this device.",
	}
	for code, msg := range cases {
		t.Run(string(code), func(t *testing.T) {
			eng := &fakeEngine{}
			s, rec := newTestSession(t, eng, time.Minute)
			startListening(t, s, eng, "en")

			eng.listener(0).OnError(NewEngineError(code, errors.New("boom")))

			_, states, advisories := rec.snapshot()
			assert.Contains(t, states, StateError)
			assert.Equal(t, StateIdle, s.State())
			assert.Equal(t, msg, s.Cause())
			require.Len(t, advisories, 1)
			assert.Equal(t, events.KindCaptureError, advisories[0].Kind)
			assert.Equal(t, msg, advisories[0].Message)

			// explicit retry works
			startListening(t, s, eng, "en")
			assert.Empty(t, s.Cause())
		})
	}
}

func TestPermissionDenied(t *testing.T) {
	eng := &fakeEngine{permErr: NewEngineError(ErrPermissionDenied, nil)}
	s, rec := newTestSession(t, eng, time.Minute)

	require.NoError(t, s.Start(context.Background(), "en"))
	require.Eventually(t, func() bool {
		_, _, adv := rec.snapshot()
		return len(adv) == 1 && s.State() == StateIdle
	}, time.Second, time.Millisecond)

	starts, _ := eng.counts()
	assert.Zero(t, starts)
}

func TestStopIsIdempotent(t *testing.T) {
	eng := &fakeEngine{}
	s, rec := newTestSession(t, eng, time.Minute)

	s.Stop()
	s.Stop()
	_, states, _ := rec.snapshot()
	assert.Empty(t, states, "stopping an idle session emits nothing")

	startListening(t, s, eng, "en")
	s.Stop()
	s.Stop()
	assert.Equal(t, StateIdle, s.State())
	_, stops := eng.counts()
	assert.Equal(t, 1, stops)
}

func TestStopDuringPermissionPreventsEngineStart(t *testing.T) {
	eng := &fakeEngine{permGate: make(chan struct{})}
	s, _ := newTestSession(t, eng, time.Minute)

	require.NoError(t, s.Start(context.Background(), "en"))
	s.Stop()
	close(eng.permGate)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, StateIdle, s.State())
	starts, _ := eng.counts()
	assert.Zero(t, starts)
}

func TestStaleCallbacksIgnored(t *testing.T) {
	eng := &fakeEngine{}
	s, rec := newTestSession(t, eng, time.Minute)

	startListening(t, s, eng, "en")
	old := eng.listener(0)
	s.Stop()
	startListening(t, s, eng, "en")

	old.OnResult(Result{Transcript: "from the past", Final: true})
	old.OnError(NewEngineError(ErrNetwork, nil))
	old.OnEnd()

	results, _, advisories := rec.snapshot()
	assert.Empty(t, results)
	assert.Empty(t, advisories)
	assert.Equal(t, StateListening, s.State())

	eng.listener(1).OnResult(Result{Transcript: "current", Final: true})
	results, _, _ = rec.snapshot()
	assert.Equal(t, []string{"current"}, results)
}

func TestStopWhileEngineStartingStopsOnlyThatStart(t *testing.T) {
	gate := make(chan struct{})
	eng := &fakeEngine{startGates: []chan struct{}{gate}}
	s, rec := newTestSession(t, eng, time.Minute)

	require.NoError(t, s.Start(context.Background(), "en"))
	require.Eventually(t, func() bool { return eng.startCalls() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StateListening, s.State())

	s.Stop()
	close(gate)
	require.Eventually(t, func() bool {
		starts, stops := eng.counts()
		return starts == 1 && stops == 1
	}, time.Second, time.Millisecond)

	assert.Equal(t, StateIdle, s.State())
	assert.Zero(t, eng.running())
	_, _, advisories := rec.snapshot()
	assert.Empty(t, advisories)
}

func TestLateEngineStartLeavesNewerSessionRunning(t *testing.T) {
	gate := make(chan struct{})
	eng := &fakeEngine{startGates: []chan struct{}{gate}}
	s, rec := newTestSession(t, eng, time.Minute)

	require.NoError(t, s.Start(context.Background(), "en"))
	require.Eventually(t, func() bool { return eng.startCalls() == 1 }, time.Second, time.Millisecond)
	s.Stop()
	startListening(t, s, eng, "hi")
	require.Equal(t, 1, eng.running())

	// the first session's engine start completes only now
	close(gate)
	require.Eventually(t, func() bool {
		starts, stops := eng.counts()
		return starts == 2 && stops == 1
	}, time.Second, time.Millisecond)

	assert.Equal(t, StateListening, s.State())
	assert.Equal(t, 1, eng.running(), "current session must keep its recognition")
	assert.True(t, s.holdsRecognition())

	eng.listener(1).OnResult(Result{Transcript: "stale", Final: true})
	eng.listener(0).OnResult(Result{Transcript: "current", Final: true})

	results, _, advisories := rec.snapshot()
	assert.Equal(t, []string{"current"}, results)
	assert.Empty(t, advisories)
	assert.Equal(t, []string{"hi-IN", "en-US"}, eng.locales)
	assert.Zero(t, eng.running())
}

func TestEngineEndWithoutResult(t *testing.T) {
	eng := &fakeEngine{}
	s, rec := newTestSession(t, eng, time.Minute)
	startListening(t, s, eng, "en")

	eng.listener(0).OnEnd()

	_, _, advisories := rec.snapshot()
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, advisories)
}

func TestCodeOf(t *testing.T) {
	wrapped := errors.Join(errors.New("ctx"), NewEngineError(ErrNoMatch, nil))
	assert.Equal(t, ErrNoMatch, CodeOf(wrapped))
	assert.Equal(t, ErrAudioCapture, CodeOf(errors.New("plain")))
	assert.True(t, ErrNoSpeech.Recoverable())
	assert.False(t, ErrNetwork.Recoverable())
}

func TestLocaleFor(t *testing.T) {
	cases := map[string]string{
		"en":    "en-US",
		"hi":    "hi-IN",
		"bn":    "bn-IN",
		"te":    "te-IN",
		"mr":    "mr-IN",
		"ta":    "ta-IN",
		"gu":    "gu-IN",
		"kn":    "kn-IN",
		"ml":    "ml-IN",
		"pa":    "pa-IN",
		"es":    "es-ES",
		"fr":    "fr-FR",
		"de":    "de-DE",
		"HI-in": "hi-IN",
		"xx":    "en-US",
		"":      "en-US",
	}
	for in, want := range cases {
		assert.Equal(t, want, LocaleFor(in), in)
	}
	assert.True(t, Supported("ta"))
	assert.False(t, Supported("jp"))
}
