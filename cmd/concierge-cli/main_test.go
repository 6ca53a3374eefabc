package main

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseLine(t *testing.T) {
	assert.Equal(t, map[string]any{"type": "send", "text": "red shoes"}, parseLine("red shoes"))
	assert.Equal(t, map[string]any{"type": "listen"}, parseLine("/listen"))
	assert.Equal(t, map[string]any{"type": "stop_listening"}, parseLine("/stop"))
	assert.Equal(t, map[string]any{"type": "audio", "enabled": false}, parseLine("/audio off"))
	assert.Equal(t, map[string]any{"type": "audio", "enabled": true}, parseLine("/audio on"))
	assert.Equal(t, map[string]any{"type": "language", "language": "hi"}, parseLine("/lang hi"))
	assert.Equal(t, map[string]any{"type": "online", "online": false}, parseLine("/offline"))
	assert.Equal(t, map[string]any{"type": "reset_session"}, parseLine("/reset"))
}

func TestPercentile(t *testing.T) {
	data := []float64{50, 10, 40, 20, 30}
	assert.Equal(t, 30.0, percentile(data, 50))
	assert.Equal(t, 50.0, percentile(data, 99))
	assert.Equal(t, 10.0, percentile(data, 1))
	assert.Equal(t, []float64{50, 10, 40, 20, 30}, data)
}

func TestSynthesizedSpeechIsAudible(t *testing.T) {
	pcm := synthesizeSpeech(100 * time.Millisecond)
	assert.Len(t, pcm, 1600*2)

	var peak int16
	for i := 0; i < len(pcm); i += 2 {
		if v := int16(binary.LittleEndian.Uint16(pcm[i:])); v > peak {
			peak = v
		}
	}
	assert.Greater(t, peak, int16(8000))
	assert.Len(t, silence(time.Second), sampleRate*2)
}
