package playback

import (
	"context"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/audio"
)

// DefaultSampleRate is assumed for headerless chunks.
const DefaultSampleRate = 24000

// DefaultDecoder decodes WAV chunks by header and everything else as PCM16LE
// mono at rate.
func DefaultDecoder(rate int) Decoder {
	return DecoderFunc(func(ctx context.Context, chunk []byte) (audio.Clip, error) {
		if err := ctx.Err(); err != nil {
			return audio.Clip{}, err
		}
		return audio.Decode(chunk, audio.Sniff(chunk, audio.CodecPCM), rate)
	})
}
