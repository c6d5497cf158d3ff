package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/audio"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/metrics"
)

const (
	// MaxUtterance caps buffered uplink audio; older samples are discarded.
	MaxUtterance = 60 * time.Second
	// MinUtterance is the shortest buffer worth sending to ASR.
	MinUtterance = 250 * time.Millisecond
)

// Utterance accumulates uplink frames between commits. Samples are kept at
// the uplink rate and resampled once on Take.
type Utterance struct {
	codec   audio.Codec
	rate    int
	samples []float32
}

// NewUtterance buffers frames encoded as codec. rate applies to headerless
// PCM; G.711 is always 8 kHz.
func NewUtterance(codec audio.Codec, rate int) *Utterance {
	if codec == "" {
		codec = audio.CodecPCM
	}
	if rate <= 0 {
		rate = ASRSampleRate
	}
	if codec == audio.CodecG711Ulaw || codec == audio.CodecG711Alaw {
		rate = 8000
	}
	return &Utterance{codec: codec, rate: rate}
}

func (u *Utterance) Codec() audio.Codec { return u.codec }

// Append decodes one frame into the buffer.
func (u *Utterance) Append(frame []byte) error {
	clip, err := audio.Decode(frame, audio.Sniff(frame, u.codec), u.rate)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	u.samples = append(u.samples, clip.To(u.rate).Samples...)
	if limit := int(MaxUtterance.Seconds() * float64(u.rate)); len(u.samples) > limit {
		u.samples = append(u.samples[:0], u.samples[len(u.samples)-limit:]...)
	}
	return nil
}

// Duration is the buffered audio length.
func (u *Utterance) Duration() time.Duration {
	return audio.Clip{Samples: u.samples, SampleRate: u.rate}.Duration()
}

// Take returns the buffer at the ASR rate and resets it.
func (u *Utterance) Take() []float32 {
	clip := audio.Clip{Samples: u.samples, SampleRate: u.rate}.To(ASRSampleRate)
	u.samples = nil
	return clip.Samples
}

// TranscribeUtterance runs ASR on samples and applies the noise filter. It
// returns "" without calling ASR when the clip is too short, and "" when the
// transcript looks like noise.
func TranscribeUtterance(ctx context.Context, asr *ASRRouter, engine string, samples []float32) (string, error) {
	if time.Duration(len(samples))*time.Second/ASRSampleRate < MinUtterance {
		return "", nil
	}
	res, err := asr.Transcribe(ctx, samples, engine)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(res.Text)
	if IsNoiseTranscript(text) {
		metrics.ASRNoiseFiltered.Inc()
		slog.Debug("transcript filtered as noise", "text_len", len(text))
		return "", nil
	}
	return text, nil
}
