package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"
)

const sampleRate = 16000

// synthesizeSpeech renders a voiced-ish tone loud enough to trip the VAD.
func synthesizeSpeech(d time.Duration) []byte {
	n := int(d.Seconds() * sampleRate)
	buf := make([]byte, n*2)
	for i := range n {
		t := float64(i) / sampleRate
		s := math.Sin(2*math.Pi*220*t)*0.3 + math.Sin(2*math.Pi*440*t)*0.1 + (rand.Float64()-0.5)*0.05
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(s*math.MaxInt16)))
	}
	return buf
}

func silence(d time.Duration) []byte {
	return make([]byte, int(d.Seconds()*sampleRate)*2)
}

func printSummary(latencies []float64, failed int) {
	fmt.Printf("\nturns ok: %d  failed: %d\n", len(latencies), failed)
	if len(latencies) == 0 {
		return
	}
	fmt.Printf("latency p50 %.0fms  p95 %.0fms  p99 %.0fms\n",
		percentile(latencies, 50), percentile(latencies, 95), percentile(latencies, 99))
}

func percentile(data []float64, pct float64) float64 {
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(pct/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
