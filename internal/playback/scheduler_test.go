package playback

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/audio"
)

// gatedDecoder blocks each chunk until its id is released. Chunks are one
// byte: the id. Id 0xFF fails to decode.
type gatedDecoder struct {
	mu    sync.Mutex
	gates map[byte]chan struct{}
}

func newGatedDecoder() *gatedDecoder {
	return &gatedDecoder{gates: make(map[byte]chan struct{})}
}

func (d *gatedDecoder) gate(id byte) chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.gates[id]
	if !ok {
		g = make(chan struct{})
		d.gates[id] = g
	}
	return g
}

func (d *gatedDecoder) release(id byte) { close(d.gate(id)) }

func (d *gatedDecoder) Decode(ctx context.Context, chunk []byte) (audio.Clip, error) {
	id := chunk[0]
	select {
	case <-d.gate(id):
	case <-ctx.Done():
		return audio.Clip{}, ctx.Err()
	}
	if id == 0xFF {
		return audio.Clip{}, errors.New("malformed chunk")
	}
	samples := make([]float32, 2400)
	for i := range samples {
		samples[i] = float32(0.8 * math.Sin(2*math.Pi*440*float64(i)/24000))
	}
	return audio.Clip{Samples: samples, SampleRate: 24000}, nil
}

type fakeVoice struct {
	once sync.Once
	done chan struct{}
}

func (v *fakeVoice) Done() <-chan struct{} { return v.done }
func (v *fakeVoice) Stop()                 { v.once.Do(func() { close(v.done) }) }

type fakeSink struct {
	voices chan *fakeVoice
}

func (s *fakeSink) Play(audio.Clip) (Voice, error) {
	v := &fakeVoice{done: make(chan struct{})}
	s.voices <- v
	return v, nil
}

type harness struct {
	sched   *Scheduler
	dec     *gatedDecoder
	sink    *fakeSink
	starts  chan uint64
	drained chan struct{}
	dropped chan *DecodeError
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dec:     newGatedDecoder(),
		sink:    &fakeSink{voices: make(chan *fakeVoice, 16)},
		starts:  make(chan uint64, 16),
		drained: make(chan struct{}, 16),
		dropped: make(chan *DecodeError, 16),
	}
	h.sched = New(Config{
		Decoder:      h.dec,
		Sink:         h.sink,
		TickInterval: -1,
		Hooks: Hooks{
			OnStart:   func(seq uint64) { h.starts <- seq },
			OnDrained: func() { h.drained <- struct{}{} },
			OnDropped: func(err *DecodeError) { h.dropped <- err },
		},
	})
	t.Cleanup(h.sched.Close)
	return h
}

func (h *harness) nextStart(t *testing.T) uint64 {
	t.Helper()
	select {
	case seq := <-h.starts:
		return seq
	case <-time.After(2 * time.Second):
		t.Fatal("no chunk started")
		return 0
	}
}

func (h *harness) nextVoice(t *testing.T) *fakeVoice {
	t.Helper()
	select {
	case v := <-h.sink.voices:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("sink not called")
		return nil
	}
}

func (h *harness) noStart(t *testing.T) {
	t.Helper()
	select {
	case seq := <-h.starts:
		t.Fatalf("chunk %d started", seq)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPlaysInEnqueueOrder(t *testing.T) {
	h := newHarness(t)
	for _, id := range []byte{1, 2, 3} {
		if err := h.sched.Enqueue([]byte{id}); err != nil {
			t.Fatal(err)
		}
	}

	// Later chunks finish decoding first.
	h.dec.release(3)
	h.dec.release(2)
	h.noStart(t)
	h.dec.release(1)

	for want := uint64(1); want <= 3; want++ {
		if got := h.nextStart(t); got != want {
			t.Fatalf("started %d, want %d", got, want)
		}
		h.nextVoice(t).Stop()
	}
	select {
	case <-h.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("no drain after last chunk")
	}
}

func TestInterruptIsImmediate(t *testing.T) {
	h := newHarness(t)
	h.sched.Enqueue([]byte{1})
	h.sched.Enqueue([]byte{2})
	h.dec.release(1)
	h.nextStart(t)
	v := h.nextVoice(t)
	h.sched.Tick(time.Now())

	h.sched.Interrupt()

	if _, ok := h.sched.NowPlaying(); ok {
		t.Error("still playing after interrupt")
	}
	if n := h.sched.QueueLen(); n != 0 {
		t.Errorf("queue = %d after interrupt", n)
	}
	if lvl := h.sched.Level(); lvl != 0 {
		t.Errorf("level = %f after interrupt", lvl)
	}
	select {
	case <-v.Done():
	default:
		t.Error("voice not stopped")
	}

	h.dec.release(2)
	h.noStart(t)
	select {
	case <-h.drained:
		t.Fatal("drain reported after interrupt")
	default:
	}
}

func TestInterruptIdempotent(t *testing.T) {
	h := newHarness(t)
	h.sched.Interrupt()
	h.sched.Interrupt()

	h.sched.Enqueue([]byte{4})
	h.dec.release(4)
	h.nextStart(t)
	h.nextVoice(t)

	h.sched.Interrupt()
	h.sched.Interrupt()
	if _, ok := h.sched.NowPlaying(); ok || h.sched.QueueLen() != 0 || h.sched.Level() != 0 {
		t.Fatal("non-terminal state after repeated interrupt")
	}

	// The scheduler keeps working after an interrupt.
	h.sched.Enqueue([]byte{5})
	h.dec.release(5)
	h.nextStart(t)
}

func TestDecodeErrorSkipsChunk(t *testing.T) {
	h := newHarness(t)
	h.sched.Enqueue([]byte{0xFF})
	h.sched.Enqueue([]byte{7})
	h.dec.release(0xFF)
	h.dec.release(7)

	if got := h.nextStart(t); got != 2 {
		t.Fatalf("started %d, want 2", got)
	}
	select {
	case err := <-h.dropped:
		if err.Seq != 1 {
			t.Errorf("dropped seq = %d, want 1", err.Seq)
		}
	default:
		t.Error("drop not reported")
	}
	h.nextVoice(t).Stop()
	select {
	case <-h.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("no drain")
	}
}

func TestDecodeErrorOnLastChunkDrains(t *testing.T) {
	h := newHarness(t)
	h.sched.Enqueue([]byte{0xFF})
	h.dec.release(0xFF)
	select {
	case <-h.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("failed final chunk did not drain")
	}
}

func TestTickLevel(t *testing.T) {
	h := newHarness(t)
	if got := h.sched.Tick(time.Now()); got != 0 {
		t.Fatalf("idle level = %f", got)
	}
	h.sched.Enqueue([]byte{1})
	h.dec.release(1)
	h.nextStart(t)
	v := h.nextVoice(t)

	if got := h.sched.Tick(time.Now()); got <= 0 || got > 255 {
		t.Fatalf("playing level = %f", got)
	}
	v.Stop()
	<-h.drained
	if got := h.sched.Level(); got != 0 {
		t.Fatalf("level after drain = %f", got)
	}
}

func TestBusyClearsBeforeDrained(t *testing.T) {
	h := newHarness(t)
	if h.sched.Busy() {
		t.Fatal("busy before any audio")
	}
	h.sched.Enqueue([]byte{1})
	if !h.sched.Busy() {
		t.Fatal("not busy while decoding")
	}
	h.dec.release(1)
	h.nextStart(t)
	v := h.nextVoice(t)
	if !h.sched.Busy() {
		t.Fatal("not busy while playing")
	}
	v.Stop()
	<-h.drained
	if h.sched.Busy() {
		t.Fatal("busy after drain")
	}

	h.sched.Enqueue([]byte{2})
	h.sched.Interrupt()
	if h.sched.Busy() {
		t.Fatal("busy after interrupt")
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	h := newHarness(t)
	h.sched.Close()
	if err := h.sched.Enqueue([]byte{1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Enqueue = %v, want ErrClosed", err)
	}
}

func TestDefaultDecoder(t *testing.T) {
	dec := DefaultDecoder(DefaultSampleRate)
	samples := make([]float32, 480)

	clip, err := dec.Decode(context.Background(), audio.SamplesToWAV(samples, 16000))
	if err != nil || clip.SampleRate != 16000 || len(clip.Samples) != 480 {
		t.Fatalf("wav: clip rate=%d n=%d err=%v", clip.SampleRate, len(clip.Samples), err)
	}
	clip, err = dec.Decode(context.Background(), audio.EncodePCM16(samples))
	if err != nil || clip.SampleRate != DefaultSampleRate || len(clip.Samples) != 480 {
		t.Fatalf("pcm: clip rate=%d n=%d err=%v", clip.SampleRate, len(clip.Samples), err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := dec.Decode(ctx, []byte{0, 0}); err == nil {
		t.Fatal("cancelled decode succeeded")
	}
}
