package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/metrics"
)

// ErrSegmenterRunning is returned by Start while a previous capture is still live.
var ErrSegmenterRunning = errors.New("audio: segmenter already running")

// CaptureError reports a fatal microphone failure. The segmenter is stopped
// when one is surfaced and does not retry.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string { return "audio capture: " + e.Err.Error() }
func (e *CaptureError) Unwrap() error { return e.Err }

// Format describes captured frames: mono 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Frame      time.Duration
}

// FrameBytes is the size of one captured frame.
func (f Format) FrameBytes() int {
	return int(int64(f.SampleRate) * int64(f.Frame) / int64(time.Second) * 2)
}

// Microphone opens the live capture stream. Only one stream may be open at a time.
type Microphone interface {
	Open(ctx context.Context, f Format) (Capture, error)
}

// Capture is an open microphone stream. Close must unblock a pending Read.
type Capture interface {
	io.Reader
	Close() error
}

// SegmenterConfig holds the detector constants.
type SegmenterConfig struct {
	// RMSThreshold is the minimum frame energy counted as speech.
	RMSThreshold float64
	// Silence ends an utterance after this much continuous quiet.
	Silence time.Duration
	Format  Format
}

// DefaultSegmenterConfig returns the constants used for desktop microphones.
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		RMSThreshold: 0.03,
		Silence:      800 * time.Millisecond,
		Format:       Format{SampleRate: 16000, Frame: 20 * time.Millisecond},
	}
}

// SegmenterHooks receive segmenter output. Hooks run on the capture or timer
// goroutine and must not call Stop synchronously.
type SegmenterHooks struct {
	OnFrame       func(frame []byte)
	OnSpeechStart func()
	OnCommit      func()
	OnError       func(err error)
}

type stopper interface{ Stop() bool }

type afterFunc func(time.Duration, func()) stopper

func realAfter(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) }

// captureRun is one Start..Stop lifetime.
type captureRun struct {
	cancel  context.CancelFunc
	capture Capture
	done    chan struct{}
}

// Segmenter turns a level signal into utterance commits using a fixed energy
// threshold and a debounced silence timer.
type Segmenter struct {
	cfg   SegmenterConfig
	hooks SegmenterHooks
	after afterFunc

	mu       sync.Mutex
	speaking bool
	pending  stopper
	gen      uint64

	runMu sync.Mutex
	run   *captureRun
}

func NewSegmenter(cfg SegmenterConfig, hooks SegmenterHooks) *Segmenter {
	def := DefaultSegmenterConfig()
	if cfg.RMSThreshold <= 0 {
		cfg.RMSThreshold = def.RMSThreshold
	}
	if cfg.Silence <= 0 {
		cfg.Silence = def.Silence
	}
	if cfg.Format.SampleRate <= 0 || cfg.Format.Frame <= 0 {
		cfg.Format = def.Format
	}
	return &Segmenter{cfg: cfg, hooks: hooks, after: realAfter}
}

func (s *Segmenter) Config() SegmenterConfig { return s.cfg }

// Observe feeds one RMS sample. Any sample at or above the threshold cancels a
// pending silence timer; the first quiet sample after speech arms it.
func (s *Segmenter) Observe(rms float64) {
	s.mu.Lock()
	if rms >= s.cfg.RMSThreshold {
		s.disarmLocked()
		onset := !s.speaking
		s.speaking = true
		s.mu.Unlock()
		if onset {
			metrics.SpeechOnsets.Inc()
			if s.hooks.OnSpeechStart != nil {
				s.hooks.OnSpeechStart()
			}
		}
		return
	}
	if !s.speaking || s.pending != nil {
		s.mu.Unlock()
		return
	}
	gen := s.gen
	s.pending = s.after(s.cfg.Silence, func() { s.fire(gen) })
	s.mu.Unlock()
}

// Speaking reports whether an utterance is in progress.
func (s *Segmenter) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// disarmLocked invalidates the pending timer even if its callback already started.
func (s *Segmenter) disarmLocked() {
	s.gen++
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}

func (s *Segmenter) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.pending == nil {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	s.speaking = false
	s.gen++
	s.mu.Unlock()

	metrics.UtteranceCommits.Inc()
	slog.Debug("utterance commit", "silence_ms", s.cfg.Silence.Milliseconds())
	if s.hooks.OnCommit != nil {
		s.hooks.OnCommit()
	}
}

func (s *Segmenter) reset() {
	s.mu.Lock()
	s.disarmLocked()
	s.speaking = false
	s.mu.Unlock()
}

// Start acquires the microphone and begins segmenting. It fails with
// ErrSegmenterRunning if a previous capture has not been stopped, and with a
// *CaptureError if the microphone cannot be opened.
func (s *Segmenter) Start(ctx context.Context, mic Microphone) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.run != nil {
		select {
		case <-s.run.done:
			s.run = nil
		default:
			return ErrSegmenterRunning
		}
	}

	capture, err := mic.Open(ctx, s.cfg.Format)
	if err != nil {
		metrics.CaptureErrors.Inc()
		return &CaptureError{Err: fmt.Errorf("open microphone: %w", err)}
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &captureRun{cancel: cancel, capture: capture, done: make(chan struct{})}
	s.run = r
	s.reset()
	go s.pump(runCtx, r)
	return nil
}

// Running reports whether a capture is live.
func (s *Segmenter) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.run == nil {
		return false
	}
	select {
	case <-s.run.done:
		return false
	default:
		return true
	}
}

// Stop releases the microphone and discards any pending commit. Safe to call
// repeatedly and after a capture failure.
func (s *Segmenter) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	r := s.run
	s.run = nil
	if r != nil {
		r.cancel()
		r.capture.Close()
		<-r.done
	}
	s.reset()
}

func (s *Segmenter) pump(ctx context.Context, r *captureRun) {
	err := s.readFrames(ctx, r.capture)
	if err != nil {
		r.cancel()
		r.capture.Close()
	}
	close(r.done)

	if err == nil {
		return
	}
	s.reset()
	metrics.CaptureErrors.Inc()
	slog.Error("microphone capture failed", "error", err)
	if s.hooks.OnError != nil {
		s.hooks.OnError(&CaptureError{Err: err})
	}
}

// readFrames returns nil when the run was cancelled and the read error otherwise.
func (s *Segmenter) readFrames(ctx context.Context, capture Capture) error {
	size := s.cfg.Format.FrameBytes()
	for {
		frame := make([]byte, size)
		if _, err := io.ReadFull(capture, frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if s.hooks.OnFrame != nil {
			s.hooks.OnFrame(frame)
		}
		s.Observe(RMSPCM16(frame))
	}
}
