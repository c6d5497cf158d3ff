package audio

import (
	"encoding/binary"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// RMS returns the root-mean-square of normalized samples (0 = silence, 1 = full scale).
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// RMSPCM16 computes RMS directly over a 16-bit little-endian frame.
func RMSPCM16(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(frame[i*2:]))) / math.MaxInt16
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// EnergyDB converts an RMS value to dBFS, floored at -100.
func EnergyDB(rms float64) float64 {
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}

const (
	// DefaultFFTSize matches the analyser window used for avatar reactivity.
	DefaultFFTSize = 256

	analyserMinDB = -100.0
	analyserMaxDB = -30.0
)

// Analyzer measures frequency-domain energy on a fixed window, scaled like a
// byte frequency analyser: every bin maps [-100 dB, -30 dB] onto [0, 255] and
// the level is the mean over bins. Not safe for concurrent use.
type Analyzer struct {
	size   int
	fft    *fourier.FFT
	window []float64
	seq    []float64
	coeff  []complex128
}

func NewAnalyzer(size int) *Analyzer {
	if size < 2 {
		size = DefaultFFTSize
	}
	window := make([]float64, size)
	for i := range window {
		x := 2 * math.Pi * float64(i) / float64(size-1)
		window[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
	}
	return &Analyzer{
		size:   size,
		fft:    fourier.NewFFT(size),
		window: window,
		seq:    make([]float64, size),
		coeff:  make([]complex128, size/2+1),
	}
}

// Size is the number of samples consumed per measurement.
func (a *Analyzer) Size() int { return a.size }

// Level returns the mean byte-scaled bin magnitude of samples. Short windows
// are zero-padded; an empty window is silent.
func (a *Analyzer) Level(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	for i := range a.seq {
		var s float64
		if i < len(samples) {
			s = float64(samples[i])
		}
		a.seq[i] = s * a.window[i]
	}
	a.coeff = a.fft.Coefficients(a.coeff, a.seq)

	bins := a.size / 2
	var total float64
	for k := range bins {
		mag := cmplxAbs(a.coeff[k]) / float64(a.size)
		db := EnergyDB(mag)
		scaled := 255 * (db - analyserMinDB) / (analyserMaxDB - analyserMinDB)
		total += max(0, min(255, scaled))
	}
	return total / float64(bins)
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
