package audio

import (
	"math"
	"time"
)

// VADConfig controls voice activity detection behavior.
type VADConfig struct {
	SpeechThresholdDB float64
	SilenceTimeout    time.Duration
	MinSpeechDuration time.Duration
	PreSpeechBuffer   time.Duration
	SampleRate        int
}

// DefaultVADConfig is tuned for a desk microphone in a quiet room.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		SpeechThresholdDB: -35,
		SilenceTimeout:    800 * time.Millisecond,
		MinSpeechDuration: 300 * time.Millisecond,
		PreSpeechBuffer:   300 * time.Millisecond,
		SampleRate:        SampleRate,
	}
}

// VAD is an energy-based utterance segmenter. Time is measured in samples
// consumed rather than wall clock, so results depend only on the audio fed in.
type VAD struct {
	cfg           VADConfig
	silenceLimit  int
	minSpeech     int
	preSpeechLen  int
	inSpeech      bool
	speechSamples int
	silentSamples int
	buffer        []float32
	preSpeech     []float32
}

func NewVAD(cfg VADConfig) *VAD {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = SampleRate
	}
	return &VAD{
		cfg:          cfg,
		silenceLimit: samplesFor(cfg.SilenceTimeout, cfg.SampleRate),
		minSpeech:    samplesFor(cfg.MinSpeechDuration, cfg.SampleRate),
		preSpeechLen: samplesFor(cfg.PreSpeechBuffer, cfg.SampleRate),
	}
}

// VADResult holds the output of processing an audio chunk.
type VADResult struct {
	SpeechStarted bool
	SpeechEnded   bool
	Audio         []float32
}

// Process feeds a chunk and reports segment boundaries. Audio is set only
// when SpeechEnded is true.
func (v *VAD) Process(samples []float32) VADResult {
	if computeEnergyDB(samples) >= v.cfg.SpeechThresholdDB {
		return v.handleSpeech(samples)
	}
	return v.handleSilence(samples)
}

func (v *VAD) handleSpeech(samples []float32) VADResult {
	started := !v.inSpeech
	if started {
		v.inSpeech = true
		v.speechSamples = 0
		v.buffer = append(v.buffer, v.preSpeech...)
		v.preSpeech = v.preSpeech[:0]
	}
	v.silentSamples = 0
	v.speechSamples += len(samples)
	v.buffer = append(v.buffer, samples...)
	return VADResult{SpeechStarted: started}
}

func (v *VAD) handleSilence(samples []float32) VADResult {
	if !v.inSpeech {
		v.updatePreSpeech(samples)
		return VADResult{}
	}

	v.buffer = append(v.buffer, samples...)
	v.silentSamples += len(samples)
	if v.silentSamples < v.silenceLimit {
		return VADResult{}
	}

	v.inSpeech = false
	v.silentSamples = 0
	if v.speechSamples < v.minSpeech {
		v.buffer = v.buffer[:0]
		return VADResult{}
	}

	audio := v.buffer
	v.buffer = nil
	return VADResult{SpeechEnded: true, Audio: audio}
}

func (v *VAD) updatePreSpeech(samples []float32) {
	v.preSpeech = append(v.preSpeech, samples...)
	if excess := len(v.preSpeech) - v.preSpeechLen; excess > 0 {
		v.preSpeech = v.preSpeech[excess:]
	}
}

// InSpeech reports whether a segment is currently open.
func (v *VAD) InSpeech() bool { return v.inSpeech }

// Flush returns the open segment if it already meets the minimum speech
// duration, and resets the detector either way.
func (v *VAD) Flush() []float32 {
	audio := v.buffer
	long := v.speechSamples >= v.minSpeech
	v.buffer = nil
	v.preSpeech = v.preSpeech[:0]
	v.inSpeech = false
	v.speechSamples = 0
	v.silentSamples = 0
	if len(audio) == 0 || !long {
		return nil
	}
	return audio
}

func samplesFor(d time.Duration, rate int) int {
	return int(d.Seconds() * float64(rate))
}

func computeEnergyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -100
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}
