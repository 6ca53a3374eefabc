package audio

import (
	"encoding/binary"
	"math"
)

// SampleRate is the rate every capture path normalizes to before VAD and ASR.
const SampleRate = 16000

// DecodePCM16 converts little-endian signed 16-bit PCM to samples in [-1, 1].
// A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	n := len(data) / 2
	samples := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(s) / math.MaxInt16
	}
	return samples
}

// EncodePCM16 is the inverse of DecodePCM16, clamping out-of-range samples.
func EncodePCM16(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		clamped := max(-1.0, min(1.0, s))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(clamped*math.MaxInt16)))
	}
	return buf
}
