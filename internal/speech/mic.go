package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/hubenschmidt/voice-concierge/internal/audio"
)

var (
	ErrMicPermission  = errors.New("microphone permission denied")
	ErrMicUnavailable = errors.New("microphone unavailable")
	ErrMicUnsupported = errors.New("no microphone support")
)

// Microphone yields 16kHz mono sample chunks.
type Microphone interface {
	// Acquire checks that capture is allowed and a device is present.
	Acquire(ctx context.Context) error
	// Open streams chunks until ctx is cancelled or the source ends, then
	// closes the channel.
	Open(ctx context.Context) (<-chan []float32, error)
}

const frameBytes = 640 // 20ms of 16-bit mono at 16kHz

// CommandMic reads raw s16le PCM from an external recorder's stdout,
// e.g. "arecord -q -f S16_LE -c 1 -r 16000 -t raw".
type CommandMic struct {
	Name string
	Args []string
	Rate int

	resampler *audio.Resampler
}

func NewCommandMic(name string, args []string, rate int) *CommandMic {
	if rate <= 0 {
		rate = audio.SampleRate
	}
	return &CommandMic{Name: name, Args: args, Rate: rate, resampler: audio.NewResampler()}
}

func (m *CommandMic) Acquire(context.Context) error {
	if m.Name == "" {
		return ErrMicUnsupported
	}
	if _, err := exec.LookPath(m.Name); err != nil {
		return fmt.Errorf("%w: %v", ErrMicUnsupported, err)
	}
	return nil
}

func (m *CommandMic) Open(ctx context.Context) (<-chan []float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, m.Name, m.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMicUnavailable, err)
	}
	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMicUnavailable, err)
	}

	ch := make(chan []float32, 16)
	go func() {
		defer close(ch)
		defer cmd.Wait()
		buf := make([]byte, frameBytes)
		for {
			n, err := io.ReadFull(stdout, buf)
			if n > 0 {
				chunk := m.resampler.Convert(audio.DecodePCM16(buf[:n]), m.Rate, audio.SampleRate)
				select {
				case ch <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					slog.Warn("mic read failed", "cmd", m.Name, "error", err)
				}
				return
			}
		}
	}()
	return ch, nil
}

// StreamMic is fed by remote clients (UI websockets) that own the real
// microphone. Frames pushed while no capture is open are dropped. The first
// source to push into an open stream owns it; only that source can end it.
type StreamMic struct {
	resampler *audio.Resampler

	mu      sync.Mutex
	sources int
	denied  bool
	ch      chan []float32
	owner   *MicSource
}

func NewStreamMic() *StreamMic {
	return &StreamMic{resampler: audio.NewResampler()}
}

// MicSource is one connected client feeding a StreamMic.
type MicSource struct {
	mic  *StreamMic
	once sync.Once
}

// Attach registers a connected source.
func (m *StreamMic) Attach() *MicSource {
	m.mu.Lock()
	m.sources++
	m.mu.Unlock()
	return &MicSource{mic: m}
}

// Push delivers s16le PCM recorded at rate. It never blocks.
func (src *MicSource) Push(pcm []byte, rate int) {
	src.mic.push(src, pcm, rate)
}

// End closes the open stream as if recording had stopped, unless another
// source owns it.
func (src *MicSource) End() {
	m := src.mic
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner == nil || m.owner == src {
		m.closeLocked()
	}
}

// Detach unregisters the source. A stream it was feeding ends with it.
// Safe to call more than once.
func (src *MicSource) Detach() {
	src.once.Do(func() {
		m := src.mic
		m.mu.Lock()
		defer m.mu.Unlock()
		m.sources--
		if m.owner == src {
			m.closeLocked()
		}
	})
}

// SetPermission records the remote side's microphone permission.
func (m *StreamMic) SetPermission(granted bool) {
	m.mu.Lock()
	m.denied = !granted
	m.mu.Unlock()
}

func (m *StreamMic) Acquire(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.denied {
		return ErrMicPermission
	}
	if m.sources == 0 {
		return ErrMicUnavailable
	}
	return nil
}

// Open replaces any open stream. It refuses a ctx that is already done so
// a late caller cannot close a newer reader's stream.
func (m *StreamMic) Open(ctx context.Context) (<-chan []float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sources == 0 {
		return nil, ErrMicUnavailable
	}
	m.closeLocked()
	ch := make(chan []float32, 64)
	m.ch = ch

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		if m.ch == ch {
			m.closeLocked()
		}
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *StreamMic) push(src *MicSource, pcm []byte, rate int) {
	if rate <= 0 {
		rate = audio.SampleRate
	}
	chunk := m.resampler.Convert(audio.DecodePCM16(pcm), rate, audio.SampleRate)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ch == nil {
		return
	}
	if m.owner == nil {
		m.owner = src
	}
	if m.owner != src {
		slog.Debug("mic frame from non-owning source dropped")
		return
	}
	select {
	case m.ch <- chunk:
	default:
		slog.Warn("mic frame dropped", "samples", len(chunk))
	}
}

func (m *StreamMic) closeLocked() {
	if m.ch != nil {
		close(m.ch)
		m.ch = nil
	}
	m.owner = nil
}
