// Package playback plays queued audio chunks back to back and publishes the
// live output level.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/audio"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/metrics"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("playback: scheduler closed")

// Decoder turns one opaque chunk into samples. It may be slow; the scheduler
// calls it concurrently for queued chunks and cancels ctx on interrupt.
type Decoder interface {
	Decode(ctx context.Context, chunk []byte) (audio.Clip, error)
}

type DecoderFunc func(ctx context.Context, chunk []byte) (audio.Clip, error)

func (f DecoderFunc) Decode(ctx context.Context, chunk []byte) (audio.Clip, error) {
	return f(ctx, chunk)
}

// Sink is the output device. Only the scheduler writes to it.
type Sink interface {
	Play(clip audio.Clip) (Voice, error)
}

// Voice is one clip being played. Done closes on natural end and after Stop.
// Stop must not block on the scheduler.
type Voice interface {
	Done() <-chan struct{}
	Stop()
}

// Hooks observe playback. They run on the scheduler goroutine.
type Hooks struct {
	// OnStart fires when chunk seq begins playing.
	OnStart func(seq uint64)
	// OnDrained fires when the last queued chunk has finished and nothing
	// else is waiting. It does not fire after Interrupt.
	OnDrained func()
	// OnDropped reports a chunk skipped because it could not be played.
	OnDropped func(err *DecodeError)
}

// DecodeError describes a dropped chunk. Playback continues with the next one.
type DecodeError struct {
	Seq uint64
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("audio chunk %d: %v", e.Seq, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

type Config struct {
	Decoder Decoder
	Sink    Sink
	Hooks   Hooks
	// TickInterval is the level sampling period. Negative disables the
	// internal ticker so a render loop can call Tick itself.
	TickInterval time.Duration
	FFTSize      int
}

type entry struct {
	seq    uint64
	done   chan struct{}
	cancel context.CancelFunc
	clip   audio.Clip
	err    error
}

type playing struct {
	seq     uint64
	voice   Voice
	clip    audio.Clip
	started time.Time
}

// Scheduler owns the playback queue. Chunks play strictly in enqueue order
// regardless of decode completion order.
type Scheduler struct {
	cfg      Config
	analyzer *audio.Analyzer

	mu       sync.Mutex
	queue    []*entry
	current  *playing
	epochCtx context.Context
	cancelEp context.CancelFunc
	seq      uint64
	level    float64
	active   bool
	closed   bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config) *Scheduler {
	if cfg.Decoder == nil {
		cfg.Decoder = DefaultDecoder(DefaultSampleRate)
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 16 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:      cfg,
		analyzer: audio.NewAnalyzer(cfg.FFTSize),
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.epochCtx, s.cancelEp = context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.loop()
	}()
	if cfg.TickInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.ticker(cfg.TickInterval)
		}()
	}
	go func() {
		wg.Wait()
		close(s.done)
	}()
	return s
}

// Enqueue appends chunk to the queue and starts decoding it.
func (s *Scheduler) Enqueue(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.seq++
	ctx, cancel := context.WithCancel(s.epochCtx)
	e := &entry{seq: s.seq, done: make(chan struct{}), cancel: cancel}
	go func() {
		e.clip, e.err = s.cfg.Decoder.Decode(ctx, chunk)
		close(e.done)
	}()
	s.queue = append(s.queue, e)
	s.active = true
	metrics.ChunksEnqueued.Inc()
	metrics.PlaybackQueueDepth.Set(float64(len(s.queue)))
	s.signal()
	return nil
}

// Interrupt stops the playing chunk, discards the queue and zeroes the level
// before returning. Calling it with nothing queued is a no-op.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptLocked()
}

func (s *Scheduler) interruptLocked() {
	if s.current == nil && len(s.queue) == 0 {
		s.level = 0
		s.active = false
		return
	}
	s.cancelEp()
	s.epochCtx, s.cancelEp = context.WithCancel(s.ctx)

	if n := len(s.queue); n > 0 {
		metrics.ChunksDropped.WithLabelValues("interrupt").Add(float64(n))
	}
	for _, e := range s.queue {
		e.cancel()
	}
	s.queue = nil
	if s.current != nil {
		s.current.voice.Stop()
		s.current = nil
	}
	s.level = 0
	s.active = false
	metrics.PlaybackQueueDepth.Set(0)
	metrics.PlaybackLevel.Set(0)
	s.signal()
}

// Tick samples the output level at now and returns it.
func (s *Scheduler) Tick(now time.Time) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		s.level = 0
		return 0
	}
	window := s.current.clip.Window(now.Sub(s.current.started), s.analyzer.Size())
	s.level = s.analyzer.Level(window)
	metrics.PlaybackLevel.Set(s.level)
	return s.level
}

// Level is the last sampled output level, 0 to 255.
func (s *Scheduler) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// QueueLen counts chunks waiting to play, excluding the one playing.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Busy reports whether a run of playback is in progress: a chunk is playing,
// decoding or queued. It turns false before OnDrained fires.
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// NowPlaying returns the sequence number of the playing chunk.
func (s *Scheduler) NowPlaying() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return 0, false
	}
	return s.current.seq, true
}

// Close interrupts playback and stops the scheduler goroutines.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.interruptLocked()
	s.mu.Unlock()
	s.cancel()
	<-s.done
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) ticker(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			s.Tick(now)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) loop() {
	for {
		e, ok := s.head()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.ctx.Done():
				return
			}
		}

		select {
		case <-e.done:
		case <-s.wake:
			continue
		case <-s.ctx.Done():
			return
		}

		voice := s.start(e)
		if voice == nil {
			continue
		}
		select {
		case <-voice.Done():
		case <-s.ctx.Done():
			voice.Stop()
			return
		}
		s.finish(voice)
	}
}

// head returns the next chunk to start, if nothing is playing.
func (s *Scheduler) head() (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.current != nil || len(s.queue) == 0 {
		return nil, false
	}
	return s.queue[0], true
}

// start pops e and begins playing it, unless an interrupt replaced the queue
// while it was decoding.
func (s *Scheduler) start(e *entry) Voice {
	s.mu.Lock()
	if s.closed || len(s.queue) == 0 || s.queue[0] != e || s.current != nil {
		s.mu.Unlock()
		return nil
	}
	s.queue = s.queue[1:]
	metrics.PlaybackQueueDepth.Set(float64(len(s.queue)))
	e.cancel()

	err := e.err
	var voice Voice
	if err == nil {
		voice, err = s.cfg.Sink.Play(e.clip)
	}
	if err != nil {
		drained := s.settleLocked()
		s.mu.Unlock()
		metrics.ChunksDropped.WithLabelValues("decode").Inc()
		slog.Warn("dropping audio chunk", "seq", e.seq, "error", err)
		if s.cfg.Hooks.OnDropped != nil {
			s.cfg.Hooks.OnDropped(&DecodeError{Seq: e.seq, Err: err})
		}
		if drained {
			s.drained()
		}
		return nil
	}

	s.current = &playing{seq: e.seq, voice: voice, clip: e.clip, started: time.Now()}
	s.mu.Unlock()

	metrics.ChunksPlayed.Inc()
	if s.cfg.Hooks.OnStart != nil {
		s.cfg.Hooks.OnStart(e.seq)
	}
	return voice
}

func (s *Scheduler) finish(voice Voice) {
	s.mu.Lock()
	if s.current == nil || s.current.voice != voice {
		s.mu.Unlock()
		return
	}
	s.current = nil
	drained := s.settleLocked()
	s.mu.Unlock()
	if drained {
		s.drained()
	}
}

// settleLocked goes idle when nothing is playing or queued and reports
// whether this ended a run of playback.
func (s *Scheduler) settleLocked() bool {
	if s.current != nil || len(s.queue) > 0 || !s.active {
		return false
	}
	s.active = false
	s.level = 0
	metrics.PlaybackLevel.Set(0)
	return true
}

func (s *Scheduler) drained() {
	if s.cfg.Hooks.OnDrained != nil {
		s.cfg.Hooks.OnDrained()
	}
}
