package audioout

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/hubenschmidt/voice-concierge/internal/audio"
)

// Player renders a complete audio file. Play blocks until output finishes
// or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, data []byte) error
}

// CommandPlayer pipes audio into an external program's stdin, e.g.
// "ffplay -nodisp -autoexit -loglevel quiet -".
type CommandPlayer struct {
	Name string
	Args []string
}

func (p CommandPlayer) Play(ctx context.Context, data []byte) error {
	cmd := exec.CommandContext(ctx, p.Name, p.Args...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w: %s", p.Name, err, stderr.String())
	}
	return nil
}

// NullPlayer discards audio. For WAV input it waits out the clip's duration
// so state transitions still look like real playback.
type NullPlayer struct{}

func (NullPlayer) Play(ctx context.Context, data []byte) error {
	d := wavDuration(data)
	if d == 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wavDuration assumes the canonical 44-byte header written by audio.SamplesToWAV.
func wavDuration(data []byte) time.Duration {
	if !audio.IsWAV(data) || len(data) < 44 {
		return 0
	}
	byteRate := int(data[28]) | int(data[29])<<8 | int(data[30])<<16 | int(data[31])<<24
	if byteRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(data)-44) / float64(byteRate) * float64(time.Second))
}
