// Package connectivity tracks whether the conversation service is reachable
// and degrades voice input while it is not.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hubenschmidt/voice-concierge/internal/events"
	"github.com/hubenschmidt/voice-concierge/internal/metrics"
)

// Capture is the part of the capture session the monitor needs.
type Capture interface {
	Stop()
}

// Advisor shows and clears persistent advisories.
type Advisor interface {
	Raise(events.Advisory)
	Clear(kind string)
}

type Monitor struct {
	capture Capture
	advisor Advisor

	mu     sync.Mutex
	online bool
}

// New returns a monitor that assumes the client starts online.
func New(capture Capture, advisor Advisor) *Monitor {
	metrics.Online.Set(1)
	return &Monitor{capture: capture, advisor: advisor, online: true}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline applies a platform connectivity signal. Only transitions have an
// effect; it reports whether this call was one. Going offline stops capture
// but leaves in-flight conversation requests alone.
func (m *Monitor) SetOnline(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	m.mu.Unlock()

	if online {
		metrics.Online.Set(1)
		slog.Info("connectivity restored")
		m.advisor.Clear(events.KindOffline)
		return true
	}

	metrics.Online.Set(0)
	slog.Warn("connectivity lost")
	m.capture.Stop()
	m.advisor.Raise(events.Advisory{
		Kind:       events.KindOffline,
		Title:      "You're offline",
		Message:    "Voice input is unavailable until the connection returns. You can still type messages.",
		Severity:   events.SeverityWarning,
		Persistent: true,
	})
	return true
}

// Prober reports whether the service is reachable right now.
type Prober interface {
	Probe(ctx context.Context) bool
}

type PollConfig struct {
	Interval time.Duration
	// Failures is how many consecutive failed probes count as offline.
	Failures int
}

// Run polls p until ctx is done. A single successful probe restores online.
func (m *Monitor) Run(ctx context.Context, p Prober, cfg PollConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Failures <= 0 {
		cfg.Failures = 2
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	misses := 0
	for {
		if p.Probe(ctx) {
			misses = 0
			m.SetOnline(true)
		} else if misses++; misses >= cfg.Failures {
			m.SetOnline(false)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
