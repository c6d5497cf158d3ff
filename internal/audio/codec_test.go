package audio

import (
	"errors"
	"math"
	"testing"
	"time"
)

func sine(n, rate int, freq, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestDecodePCMRoundTrip(t *testing.T) {
	in := sine(480, 24000, 300, 0.6)
	clip, err := Decode(EncodePCM16(in), CodecPCM, 24000)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if clip.SampleRate != 24000 || len(clip.Samples) != len(in) {
		t.Fatalf("got rate=%d n=%d", clip.SampleRate, len(clip.Samples))
	}
	for i := range in {
		if d := math.Abs(float64(in[i] - clip.Samples[i])); d > 1e-4 {
			t.Fatalf("sample %d off by %f", i, d)
		}
	}
}

func TestDecodeUlawRoundTrip(t *testing.T) {
	in := sine(160, 8000, 200, 0.5)
	enc, err := Encode(in, CodecG711Ulaw)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(enc) != len(in) {
		t.Fatalf("encoded %d bytes, want %d", len(enc), len(in))
	}
	clip, err := Decode(enc, CodecG711Ulaw, 16000)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if clip.SampleRate != 8000 {
		t.Errorf("rate = %d, want codec rate 8000", clip.SampleRate)
	}
	for i := range in {
		if d := math.Abs(float64(in[i] - clip.Samples[i])); d > 0.05 {
			t.Fatalf("sample %d off by %f", i, d)
		}
	}
}

func TestDecodeWAV(t *testing.T) {
	in := sine(2400, 24000, 440, 0.4)
	data := SamplesToWAV(in, 24000)

	if got := Sniff(data, CodecPCM); got != CodecWAV {
		t.Fatalf("Sniff = %s, want wav", got)
	}
	clip, err := Decode(data, CodecWAV, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if clip.SampleRate != 24000 || len(clip.Samples) != len(in) {
		t.Fatalf("got rate=%d n=%d", clip.SampleRate, len(clip.Samples))
	}
	if got := clip.Duration(); got != 100*time.Millisecond {
		t.Errorf("Duration = %v, want 100ms", got)
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode(nil, CodecPCM, 16000); !errors.Is(err, ErrEmptyChunk) {
		t.Errorf("empty chunk err = %v", err)
	}
	if _, err := Decode([]byte{1, 2}, Codec("opus"), 16000); err == nil {
		t.Error("unsupported codec accepted")
	}
	if _, err := Decode([]byte("RIFF0000WAVEjunkjunkjunk"), CodecWAV, 0); err == nil {
		t.Error("truncated wav accepted")
	}
}

func TestSniffFallback(t *testing.T) {
	if got := Sniff([]byte{0, 1, 2, 3}, CodecPCM); got != CodecPCM {
		t.Errorf("Sniff = %s, want pcm", got)
	}
}

func TestClipWindow(t *testing.T) {
	clip := Clip{Samples: make([]float32, 1000), SampleRate: 1000}
	if got := len(clip.Window(500*time.Millisecond, 256)); got != 256 {
		t.Errorf("mid window = %d, want 256", got)
	}
	if got := len(clip.Window(900*time.Millisecond, 256)); got != 100 {
		t.Errorf("tail window = %d, want 100", got)
	}
	if got := clip.Window(2*time.Second, 256); got != nil {
		t.Errorf("past end = %v, want nil", got)
	}
}

func TestResampleLength(t *testing.T) {
	in := sine(24000, 24000, 200, 0.5)
	out := Resample(in, 24000, 16000)
	if got := len(out); got != 16000 {
		t.Fatalf("len = %d, want 16000", got)
	}
	// 200 Hz survives the anti-aliasing filter.
	if rms := RMS(out[100 : len(out)-100]); rms < 0.3 {
		t.Errorf("rms = %f, passband attenuated", rms)
	}
	clip := Clip{Samples: in, SampleRate: 24000}
	if got := clip.To(24000); len(got.Samples) != len(in) {
		t.Error("same-rate conversion changed clip")
	}
}

func TestRMSPCM16MatchesRMS(t *testing.T) {
	in := sine(320, 16000, 440, 0.5)
	a, b := RMS(in), RMSPCM16(EncodePCM16(in))
	if math.Abs(a-b) > 1e-3 {
		t.Fatalf("RMS=%f RMSPCM16=%f", a, b)
	}
	if RMSPCM16(nil) != 0 {
		t.Fatal("empty frame not silent")
	}
}

func TestAnalyzerLevel(t *testing.T) {
	a := NewAnalyzer(DefaultFFTSize)
	if got := a.Level(make([]float32, DefaultFFTSize)); got != 0 {
		t.Errorf("silence level = %f, want 0", got)
	}
	if got := a.Level(nil); got != 0 {
		t.Errorf("empty level = %f, want 0", got)
	}

	quiet := a.Level(sine(DefaultFFTSize, 24000, 1000, 0.05))
	loud := a.Level(sine(DefaultFFTSize, 24000, 1000, 0.9))
	if loud <= quiet {
		t.Fatalf("loud=%f quiet=%f, want loud > quiet", loud, quiet)
	}
	if loud < 0 || loud > 255 {
		t.Fatalf("level %f out of byte range", loud)
	}
}
