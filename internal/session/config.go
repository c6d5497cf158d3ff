package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/audio"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/env"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/playback"
)

type Config struct {
	SessionID string
	PersonaID string
	// Token is the bearer credential placed in both connection URIs.
	Token string

	TranscribeURL string
	GenerateURL   string
	// UplinkCodec is the transcription encoding, pcm or g711_ulaw.
	UplinkCodec audio.Codec

	Segmenter audio.SegmenterConfig
	// PlaybackRate is assumed for headerless audio chunks.
	PlaybackRate int
	// TickInterval is the playback level sampling period. Set it negative
	// when a render loop calls VoiceSession.Tick instead.
	TickInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		SessionID:     uuid.NewString(),
		PersonaID:     "nova",
		TranscribeURL: "ws://localhost:8000/ws/transcribe",
		GenerateURL:   "ws://localhost:8000/ws/chat",
		UplinkCodec:   audio.CodecPCM,
		Segmenter:     audio.DefaultSegmenterConfig(),
		PlaybackRate:  playback.DefaultSampleRate,
	}
}

// ConfigFromEnv overlays VOICE_* variables on DefaultConfig.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.SessionID = env.Str("VOICE_SESSION_ID", cfg.SessionID)
	cfg.PersonaID = env.Str("VOICE_PERSONA", cfg.PersonaID)
	cfg.Token = env.Str("VOICE_TOKEN", "")
	cfg.TranscribeURL = env.Str("VOICE_TRANSCRIBE_URL", cfg.TranscribeURL)
	cfg.GenerateURL = env.Str("VOICE_CHAT_URL", cfg.GenerateURL)
	cfg.UplinkCodec = audio.Codec(env.Str("VOICE_UPLINK_CODEC", string(cfg.UplinkCodec)))
	cfg.Segmenter.RMSThreshold = env.Float("VOICE_RMS_THRESHOLD", cfg.Segmenter.RMSThreshold)
	cfg.Segmenter.Silence = env.Millis("VOICE_SILENCE_MS", cfg.Segmenter.Silence)
	cfg.Segmenter.Format.SampleRate = env.Int("VOICE_CAPTURE_RATE", cfg.Segmenter.Format.SampleRate)
	cfg.PlaybackRate = env.Int("VOICE_PLAYBACK_RATE", cfg.PlaybackRate)
	return cfg
}
