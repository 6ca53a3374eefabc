// Package audioout implements playback.AudioOutput by fetching audio over
// HTTP and rendering it through a Player.
package audioout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hubenschmidt/voice-concierge/internal/metrics"
	"github.com/hubenschmidt/voice-concierge/internal/playback"
)

const maxAudioBytes = 32 << 20

type HTTPOutput struct {
	client *http.Client
	player Player
}

func NewHTTPOutput(client *http.Client, player Player) *HTTPOutput {
	if player == nil {
		player = NullPlayer{}
	}
	return &HTTPOutput{client: client, player: player}
}

// NewStream validates locator; nothing is fetched until Load.
func (o *HTTPOutput) NewStream(locator string, l playback.Listener) (playback.Stream, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return nil, fmt.Errorf("parse audio locator: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported audio locator %q", locator)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &httpStream{
		out:      o,
		locator:  u.String(),
		listener: l,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

type httpStream struct {
	out      *HTTPOutput
	locator  string
	listener playback.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	data    []byte
	playing bool
}

func (s *httpStream) Load() {
	go func() {
		s.listener(playback.Event{Kind: playback.EventLoadStart})
		start := time.Now()
		data, err := s.fetch()
		if err != nil {
			if s.ctx.Err() != nil {
				s.listener(playback.Event{Kind: playback.EventAbort})
				return
			}
			s.listener(playback.Event{Kind: playback.EventError, Err: errors.Join(playback.ErrLoad, err)})
			return
		}
		metrics.StageDuration.WithLabelValues("audio_fetch").Observe(time.Since(start).Seconds())
		s.mu.Lock()
		s.data = data
		s.mu.Unlock()
		s.listener(playback.Event{Kind: playback.EventReady})
	}()
}

func (s *httpStream) fetch() ([]byte, error) {
	req, err := http.NewRequestWithContext(s.ctx, "GET", s.locator, nil)
	if err != nil {
		return nil, fmt.Errorf("create audio request: %w", err)
	}
	resp, err := s.out.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("audio request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("audio status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty audio body")
	}
	return data, nil
}

func (s *httpStream) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	if s.data == nil {
		return errors.New("audio not loaded")
	}
	if s.playing {
		return nil
	}
	s.playing = true
	data := s.data

	go func() {
		s.listener(playback.Event{Kind: playback.EventPlaying})
		err := s.out.player.Play(s.ctx, data)
		switch {
		case s.ctx.Err() != nil:
			s.listener(playback.Event{Kind: playback.EventAbort})
		case err != nil:
			s.listener(playback.Event{Kind: playback.EventError, Err: errors.Join(playback.ErrPlay, err)})
		default:
			s.listener(playback.Event{Kind: playback.EventEnded})
		}
	}()
	return nil
}

// Stop cancels any fetch or playback in flight and drops the buffered audio.
func (s *httpStream) Stop() {
	s.cancel()
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
	slog.Debug("audio stream released", "locator", s.locator)
}
