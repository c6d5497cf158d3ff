package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/audio"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/generation"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/playback"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/protocol"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/transcribe"
)

// VoiceSession owns every resource of one conversation: the generation socket,
// the playback device, and while listening the microphone and the
// transcription socket. Each is released on Close and on every failed
// acquisition path.
type VoiceSession struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	coord  *Coordinator
	gen    *generation.Channel
	player *playback.Scheduler
	seg    *audio.Segmenter

	mu     sync.Mutex
	tc     *transcribe.Channel
	closed bool
}

// Open connects the generation channel and prepares playback on sink.
func Open(ctx context.Context, cfg Config, sink playback.Sink) (_ *VoiceSession, err error) {
	var cleanup []func()
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				cleanup[i]()
			}
		}
	}()

	v := &VoiceSession{cfg: cfg}
	v.ctx, v.cancel = context.WithCancel(context.Background())
	cleanup = append(cleanup, v.cancel)

	v.player = playback.New(playback.Config{
		Decoder:      playback.DefaultDecoder(cfg.PlaybackRate),
		Sink:         sink,
		TickInterval: cfg.TickInterval,
		Hooks: playback.Hooks{
			OnDrained: func() { v.coord.PlaybackDrained() },
			OnDropped: func(err *playback.DecodeError) { v.coord.Fail(err) },
		},
	})
	cleanup = append(cleanup, v.player.Close)

	v.gen = generation.New(generation.Config{URL: cfg.GenerateURL, Token: cfg.Token})
	cleanup = append(cleanup, func() { v.gen.Close() })

	v.coord = NewCoordinator(cfg.SessionID, cfg.PersonaID, v.gen, v.player)
	cleanup = append(cleanup, v.coord.Close)

	if err := v.coord.Connect(ctx); err != nil {
		return nil, err
	}

	v.seg = audio.NewSegmenter(cfg.Segmenter, audio.SegmenterHooks{
		OnFrame:       v.forwardFrame,
		OnSpeechStart: v.coord.SpeechStarted,
		OnCommit:      v.commit,
		OnError:       v.captureFailed,
	})
	slog.Info("voice session open", "session_id", cfg.SessionID, "persona_id", cfg.PersonaID)
	return v, nil
}

func (v *VoiceSession) Coordinator() *Coordinator { return v.coord }

// Listen acquires the microphone and opens the transcription channel. Only one
// recording may be active; StopListening must come first.
func (v *VoiceSession) Listen(ctx context.Context, mic audio.Microphone) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	if v.tc != nil {
		return audio.ErrSegmenterRunning
	}

	format := v.cfg.Segmenter.Format
	params := protocol.Params{
		SessionID:  v.cfg.SessionID,
		PersonaID:  v.cfg.PersonaID,
		Token:      v.cfg.Token,
		Codec:      string(v.cfg.UplinkCodec),
		SampleRate: format.SampleRate,
	}
	tc, err := transcribe.Dial(ctx, v.cfg.TranscribeURL, params, transcribe.Callbacks{
		OnTranscript: v.transcript,
		OnError:      v.coord.Fail,
	})
	if err != nil {
		return fmt.Errorf("open transcription: %w", err)
	}
	v.tc = tc

	if err := v.seg.Start(ctx, mic); err != nil {
		v.tc = nil
		tc.Stop()
		v.coord.Fail(err)
		return err
	}
	return nil
}

// StopListening releases the microphone and the transcription channel. Safe
// to call when not listening.
func (v *VoiceSession) StopListening() {
	v.seg.Stop()
	v.mu.Lock()
	tc := v.tc
	v.tc = nil
	v.mu.Unlock()
	if tc != nil {
		tc.Stop()
	}
}

// Say submits typed text as a user turn.
func (v *VoiceSession) Say(ctx context.Context, text string) error {
	return v.coord.Submit(ctx, text)
}

func (v *VoiceSession) Interrupt() { v.coord.Interrupt() }

// Tick samples the playback level for a render loop.
func (v *VoiceSession) Tick(now time.Time) float64 { return v.player.Tick(now) }

// Close releases everything the session owns. Safe to call repeatedly.
func (v *VoiceSession) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.mu.Unlock()

	v.StopListening()
	v.coord.Close()
	err := v.gen.Close()
	v.player.Close()
	v.cancel()
	slog.Info("voice session closed", "session_id", v.cfg.SessionID)
	return err
}

func (v *VoiceSession) transcriber() *transcribe.Channel {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tc
}

func (v *VoiceSession) forwardFrame(frame []byte) {
	tc := v.transcriber()
	if tc == nil {
		return
	}
	if err := tc.SendAudio(frame); err != nil && !errors.Is(err, transcribe.ErrStopped) {
		slog.Debug("forward frame", "error", err)
	}
}

func (v *VoiceSession) commit() {
	tc := v.transcriber()
	if tc == nil {
		return
	}
	if err := tc.Commit(); err != nil && !errors.Is(err, transcribe.ErrStopped) {
		v.coord.Fail(err)
	}
}

func (v *VoiceSession) transcript(text string) {
	if err := v.coord.Submit(v.ctx, text); err != nil && !errors.Is(err, ErrClosed) {
		slog.Warn("submit transcript", "session_id", v.cfg.SessionID, "error", err)
	}
}

// captureFailed runs once the segmenter has already stopped itself.
func (v *VoiceSession) captureFailed(err error) {
	v.coord.Fail(err)
	v.mu.Lock()
	tc := v.tc
	v.tc = nil
	v.mu.Unlock()
	if tc != nil {
		tc.Stop()
	}
}
