package audio

import (
	"bytes"
	"errors"
	"fmt"
	"time"
)

type Codec string

const (
	CodecPCM      Codec = "pcm"
	CodecG711Ulaw Codec = "g711_ulaw"
	CodecG711Alaw Codec = "g711_alaw"
	CodecWAV      Codec = "wav"
)

// ErrEmptyChunk is returned when a chunk carries no samples.
var ErrEmptyChunk = errors.New("audio: empty chunk")

// Clip is decoded mono audio normalized to [-1, 1].
type Clip struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Window returns up to n samples starting at offset. The slice aliases the clip.
func (c Clip) Window(offset time.Duration, n int) []float32 {
	if c.SampleRate <= 0 || offset < 0 {
		return nil
	}
	start := int(offset.Seconds() * float64(c.SampleRate))
	if start >= len(c.Samples) {
		return nil
	}
	return c.Samples[start:min(start+n, len(c.Samples))]
}

// decoder holds a codec's decode function and its fixed output sample rate.
// A rate of 0 means "use the caller-supplied sampleRate" (e.g. PCM passthrough).
type decoder struct {
	fn   func([]byte) ([]float32, int, error)
	rate int
}

var decoders = map[Codec]decoder{
	CodecPCM:      {fn: lift(decodePCM), rate: 0},
	CodecG711Ulaw: {fn: lift(decodeG711Ulaw), rate: 8000},
	CodecG711Alaw: {fn: lift(decodeG711Alaw), rate: 8000},
	CodecWAV:      {fn: decodeWAV, rate: 0},
}

func lift(fn func([]byte) []float32) func([]byte) ([]float32, int, error) {
	return func(b []byte) ([]float32, int, error) { return fn(b), 0, nil }
}

// Decode converts encoded audio bytes to a mono clip. sampleRate applies to
// headerless codecs whose rate is not fixed by the codec itself.
func Decode(data []byte, codec Codec, sampleRate int) (Clip, error) {
	dec, ok := decoders[codec]
	if !ok {
		return Clip{}, fmt.Errorf("unsupported codec: %s", codec)
	}
	if len(data) == 0 {
		return Clip{}, ErrEmptyChunk
	}
	samples, rate, err := dec.fn(data)
	if err != nil {
		return Clip{}, err
	}
	if rate == 0 {
		rate = dec.rate
	}
	if rate == 0 {
		rate = sampleRate
	}
	if len(samples) == 0 {
		return Clip{}, ErrEmptyChunk
	}
	return Clip{Samples: samples, SampleRate: rate}, nil
}

// Sniff guesses the codec of an opaque chunk: RIFF/WAVE containers are WAV,
// everything else is treated as fallback.
func Sniff(data []byte, fallback Codec) Codec {
	if len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")) {
		return CodecWAV
	}
	return fallback
}

// Encode converts normalized samples into the wire representation of codec.
func Encode(samples []float32, codec Codec) ([]byte, error) {
	switch codec {
	case CodecPCM:
		return EncodePCM16(samples), nil
	case CodecG711Ulaw:
		return encodeG711Ulaw(samples), nil
	}
	return nil, fmt.Errorf("cannot encode codec: %s", codec)
}
