package audio

import "math"

const resampleTaps = 31

// To returns the clip converted to rate. The clip is returned unchanged when
// the rates already match.
func (c Clip) To(rate int) Clip {
	if c.SampleRate == rate || rate <= 0 || c.SampleRate <= 0 {
		return c
	}
	return Clip{Samples: Resample(c.Samples, c.SampleRate, rate), SampleRate: rate}
}

// Resample converts samples from srcRate to dstRate using linear interpolation
// with a windowed-sinc anti-aliasing filter.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	cutoff := float64(min(srcRate, dstRate)) / 2.0

	// Downsampling filters first so nothing above the new Nyquist folds back.
	if srcRate > dstRate {
		samples = lowPass(samples, cutoff, float64(srcRate))
	}

	ratio := float64(srcRate) / float64(dstRate)
	out := make([]float32, int(float64(len(samples))/ratio))
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		out[i] = interpolate(samples, idx, float32(pos-float64(idx)))
	}

	if dstRate > srcRate {
		out = lowPass(out, cutoff, float64(dstRate))
	}
	return out
}

// lowPass convolves with a Blackman-windowed sinc kernel; taps hanging off
// either edge of the input are skipped.
func lowPass(samples []float32, cutoff, sampleRate float64) []float32 {
	kernel := sincKernel(cutoff/sampleRate, resampleTaps)
	half := resampleTaps / 2
	out := make([]float32, len(samples))

	for i := range samples {
		var sum float32
		for j := max(0, half-i); j < min(resampleTaps, len(samples)-i+half); j++ {
			sum += samples[i+j-half] * kernel[j]
		}
		out[i] = sum
	}
	return out
}

// sincKernel builds a unity-gain kernel for normalized cutoff fc.
func sincKernel(fc float64, taps int) []float32 {
	half := taps / 2
	span := float64(taps - 1)
	raw := make([]float64, taps)

	var sum float64
	for i := range taps {
		n := float64(i - half)
		sinc := 1.0
		if n != 0 {
			x := 2.0 * math.Pi * fc * n
			sinc = math.Sin(x) / x
		}
		w := 0.42 - 0.5*math.Cos(2.0*math.Pi*float64(i)/span) + 0.08*math.Cos(4.0*math.Pi*float64(i)/span)
		raw[i] = sinc * w
		sum += raw[i]
	}

	kernel := make([]float32, taps)
	for i, v := range raw {
		kernel[i] = float32(v / sum)
	}
	return kernel
}

func interpolate(samples []float32, idx int, frac float32) float32 {
	if idx+1 >= len(samples) {
		return samples[len(samples)-1]
	}
	return samples[idx]*(1-frac) + samples[idx+1]*frac
}
