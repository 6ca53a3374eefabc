package audio

import (
	"math"
	"sync"
)

const filterTaps = 31

type ratePair struct{ src, dst int }

// Resampler converts between sample rates with linear interpolation and a
// Blackman-windowed sinc low-pass. Kernels are built once per rate pair.
// Safe for concurrent use.
type Resampler struct {
	mu      sync.Mutex
	kernels map[ratePair][]float32
}

func NewResampler() *Resampler {
	return &Resampler{kernels: map[ratePair][]float32{}}
}

// Convert returns samples at dstRate. Matching rates return the input as-is.
func (r *Resampler) Convert(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 || len(samples) == 0 {
		return samples
	}
	kernel := r.kernel(srcRate, dstRate)

	if srcRate > dstRate {
		samples = convolve(samples, kernel)
	}

	ratio := float64(srcRate) / float64(dstRate)
	out := make([]float32, int(float64(len(samples))/ratio))
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		out[i] = lerp(samples, idx, float32(pos-float64(idx)))
	}

	if dstRate > srcRate {
		out = convolve(out, kernel)
	}
	return out
}

func (r *Resampler) kernel(srcRate, dstRate int) []float32 {
	key := ratePair{srcRate, dstRate}
	r.mu.Lock()
	defer r.mu.Unlock()
	if k, ok := r.kernels[key]; ok {
		return k
	}
	cutoff := float64(min(srcRate, dstRate)) / 2
	k := sincKernel(cutoff/float64(max(srcRate, dstRate)), filterTaps)
	r.kernels[key] = k
	return k
}

func convolve(samples, kernel []float32) []float32 {
	half := len(kernel) / 2
	out := make([]float32, len(samples))
	for i := range samples {
		lo := max(0, half-i)
		hi := min(len(kernel), len(samples)-i+half)
		var acc float32
		for j := lo; j < hi; j++ {
			acc += samples[i+j-half] * kernel[j]
		}
		out[i] = acc
	}
	return out
}

// sincKernel builds a unity-DC-gain kernel for normalized cutoff fc (cycles/sample).
func sincKernel(fc float64, taps int) []float32 {
	half := taps / 2
	span := float64(taps - 1)
	raw := make([]float64, taps)
	var sum float64
	for i := range raw {
		n := float64(i - half)
		s := 1.0
		if n != 0 {
			x := 2 * math.Pi * fc * n
			s = math.Sin(x) / x
		}
		w := 0.42 - 0.5*math.Cos(2*math.Pi*float64(i)/span) + 0.08*math.Cos(4*math.Pi*float64(i)/span)
		raw[i] = s * w
		sum += raw[i]
	}
	k := make([]float32, taps)
	for i, v := range raw {
		k[i] = float32(v / sum)
	}
	return k
}

func lerp(samples []float32, idx int, frac float32) float32 {
	if idx+1 >= len(samples) {
		return samples[len(samples)-1]
	}
	return samples[idx]*(1-frac) + samples[idx+1]*frac
}
