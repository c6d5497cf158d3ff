package device

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/audio"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/playback"
)

// DefaultSpeakerRate matches the synthesized voice output.
const DefaultSpeakerRate = 24000

const pollInterval = 10 * time.Millisecond

// Speaker plays clips on the default output device. A process may only hold
// one; the playback scheduler is its only writer.
type Speaker struct {
	ctx  *oto.Context
	rate int
}

func NewSpeaker(rate int) (*Speaker, error) {
	if rate <= 0 {
		rate = DefaultSpeakerRate
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   rate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready
	return &Speaker{ctx: ctx, rate: rate}, nil
}

// Play starts clip, resampled to the device rate, and returns immediately.
func (s *Speaker) Play(clip audio.Clip) (playback.Voice, error) {
	if len(clip.Samples) == 0 {
		return nil, audio.ErrEmptyChunk
	}
	pcm := audio.EncodePCM16(clip.To(s.rate).Samples)
	p := s.ctx.NewPlayer(bytes.NewReader(pcm))
	p.Play()

	v := &voice{player: p, done: make(chan struct{}), stop: make(chan struct{})}
	go v.watch()
	return v, nil
}

type voice struct {
	player   *oto.Player
	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func (v *voice) Done() <-chan struct{} { return v.done }

// Stop silences the voice at once. Done closes shortly after.
func (v *voice) Stop() {
	v.stopOnce.Do(func() {
		v.player.Pause()
		close(v.stop)
	})
}

func (v *voice) watch() {
	defer close(v.done)
	defer v.player.Close()
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-v.stop:
			return
		case <-t.C:
			if !v.player.IsPlaying() {
				return
			}
		}
	}
}
